package verification

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/imyashkale/hera/internal/models"
)

// StaticProvider answers from an in-memory zone. It backs local development
// (with AcceptAll) and tests.
type StaticProvider struct {
	mu        sync.RWMutex
	records   map[string][]string // "TYPE fqdn" -> values
	failTypes map[string]bool
	err       error
	acceptAll bool
	calls     atomic.Int64
}

// NewStaticProvider creates an empty zone
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		records:   make(map[string][]string),
		failTypes: make(map[string]bool),
	}
}

// NewAcceptAllProvider creates a provider that reports every record as published
func NewAcceptAllProvider() *StaticProvider {
	p := NewStaticProvider()
	p.acceptAll = true
	return p
}

func zoneKey(recordType, fqdn string) string {
	return recordType + " " + strings.ToLower(strings.TrimSuffix(fqdn, "."))
}

// Publish adds record to the zone of domain
func (p *StaticProvider) Publish(domain string, record models.DNSRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := zoneKey(record.Type, record.FQDN(domain))
	p.records[k] = append(p.records[k], record.Value)
}

// PublishAll adds every record to the zone of domain
func (p *StaticProvider) PublishAll(domain string, records []models.DNSRecord) {
	for _, r := range records {
		p.Publish(domain, r)
	}
}

// Withdraw removes all values for the record's type and name
func (p *StaticProvider) Withdraw(domain string, record models.DNSRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, zoneKey(record.Type, record.FQDN(domain)))
}

// FailType makes every check of recordType report "not published"
func (p *StaticProvider) FailType(recordType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failTypes[recordType] = true
}

// SetError makes every call fail with err; nil restores normal answers
func (p *StaticProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns how many lookups were served
func (p *StaticProvider) Calls() int {
	return int(p.calls.Load())
}

// CheckRecord implements Provider
func (p *StaticProvider) CheckRecord(ctx context.Context, domain string, record models.DNSRecord) (bool, error) {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return false, p.err
	}
	if p.failTypes[record.Type] {
		return false, nil
	}
	if p.acceptAll {
		return true, nil
	}
	for _, v := range p.records[zoneKey(record.Type, record.FQDN(domain))] {
		if strings.EqualFold(strings.TrimSuffix(v, "."), strings.TrimSuffix(record.Value, ".")) {
			return true, nil
		}
	}
	return false, nil
}

// LookupTXT implements Provider. AcceptAll does not invent TXT values.
func (p *StaticProvider) LookupTXT(ctx context.Context, name, domain string) (string, error) {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return "", p.err
	}
	if p.failTypes[models.RecordTypeTXT] {
		return "", nil
	}
	values := p.records[zoneKey(models.RecordTypeTXT, models.RecordFQDN(name, domain))]
	for _, v := range values {
		if strings.HasPrefix(v, TokenPrefix) {
			return v, nil
		}
	}
	if len(values) > 0 {
		return values[0], nil
	}
	return "", nil
}
