// Package certificates issues and revokes TLS certificates for verified
// custom domains.
package certificates

import (
	"context"
	"errors"
	"time"
)

// Handle is an opaque provider reference to an issued (or issuing) certificate
type Handle string

// Status of a certificate behind a handle
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusFailed  Status = "failed"
)

// ErrUnknownHandle is returned for handles the provider never issued or has revoked
var ErrUnknownHandle = errors.New("unknown certificate handle")

// Provider issues certificates asynchronously. Issue returns as soon as the
// request is accepted; Status reports progress.
type Provider interface {
	Issue(ctx context.Context, domain string) (Handle, error)
	Status(ctx context.Context, handle Handle) (Status, error)
	Revoke(ctx context.Context, handle Handle) error
}

// Record is the metadata persisted next to each certificate bundle
type Record struct {
	Handle    Handle    `json:"handle"`
	Domain    string    `json:"domain"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Issuer    string    `json:"issuer"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
