// Package verification checks DNS records published by tenants for their
// custom domains.
package verification

import (
	"context"

	"github.com/imyashkale/hera/internal/models"
)

// Provider checks records in a tenant zone. A record that is simply not
// published yet yields false with a nil error; an error means the provider
// itself could not answer.
type Provider interface {
	// CheckRecord reports whether record is published for domain
	CheckRecord(ctx context.Context, domain string, record models.DNSRecord) (bool, error)
	// LookupTXT returns the TXT value at name relative to domain, "" when absent
	LookupTXT(ctx context.Context, name, domain string) (string, error)
}
