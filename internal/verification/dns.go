package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/models"
	"github.com/miekg/dns"
)

// TokenPrefix marks the TXT value carrying a verification token
const TokenPrefix = "hera-domain-verification="

// DNSResolver queries recursive nameservers directly, bypassing the host
// resolver cache so that freshly published records are seen promptly.
type DNSResolver struct {
	nameservers []string
	client      *dns.Client
}

// NewDNSResolver creates a resolver that tries nameservers ("host:port") in order
func NewDNSResolver(nameservers []string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{
		nameservers: nameservers,
		client:      &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// CheckRecord implements Provider
func (r *DNSResolver) CheckRecord(ctx context.Context, domain string, record models.DNSRecord) (bool, error) {
	fqdn := record.FQDN(domain)

	switch record.Type {
	case models.RecordTypeA:
		answers, err := r.query(ctx, fqdn, dns.TypeA)
		if err != nil {
			return false, err
		}
		for _, rr := range answers {
			if a, ok := rr.(*dns.A); ok && a.A.String() == record.Value {
				return true, nil
			}
		}
		return false, nil

	case models.RecordTypeCNAME:
		answers, err := r.query(ctx, fqdn, dns.TypeCNAME)
		if err != nil {
			return false, err
		}
		want := strings.TrimSuffix(record.Value, ".")
		for _, rr := range answers {
			if c, ok := rr.(*dns.CNAME); ok && strings.EqualFold(strings.TrimSuffix(c.Target, "."), want) {
				return true, nil
			}
		}
		return false, nil

	case models.RecordTypeTXT:
		value, err := r.LookupTXT(ctx, record.Name, domain)
		if err != nil {
			return false, err
		}
		return value == record.Value, nil
	}

	return false, fmt.Errorf("unsupported record type %q", record.Type)
}

// LookupTXT implements Provider. When several TXT records exist the one
// carrying a verification token wins.
func (r *DNSResolver) LookupTXT(ctx context.Context, name, domain string) (string, error) {
	answers, err := r.query(ctx, models.RecordFQDN(name, domain), dns.TypeTXT)
	if err != nil {
		return "", err
	}

	var first string
	for _, rr := range answers {
		t, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		value := strings.Join(t.Txt, "")
		if strings.HasPrefix(value, TokenPrefix) {
			return value, nil
		}
		if first == "" {
			first = value
		}
	}
	return first, nil
}

// query asks each nameserver in turn. NXDOMAIN is an empty answer, not an error.
func (r *DNSResolver) query(ctx context.Context, fqdn string, qtype uint16) ([]dns.RR, error) {
	if len(r.nameservers) == 0 {
		return nil, fmt.Errorf("no nameservers configured")
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(fqdn), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, ns := range r.nameservers {
		in, _, err := r.client.ExchangeContext(ctx, m, ns)
		if err != nil {
			lastErr = fmt.Errorf("query %s via %s: %w", fqdn, ns, err)
			logger.WithFields(map[string]interface{}{
				"fqdn":       fqdn,
				"nameserver": ns,
				"error":      err.Error(),
			}).Debug("DNS query failed, trying next nameserver")
			continue
		}
		switch in.Rcode {
		case dns.RcodeSuccess:
			return in.Answer, nil
		case dns.RcodeNameError:
			return nil, nil
		default:
			lastErr = fmt.Errorf("query %s via %s: %s", fqdn, ns, dns.RcodeToString[in.Rcode])
		}
	}
	return nil, lastErr
}
