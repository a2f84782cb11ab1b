package verification

import (
	"context"
	"errors"
	"testing"

	"github.com/imyashkale/hera/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProvider_PublishAndWithdraw(t *testing.T) {
	ctx := context.Background()
	p := NewStaticProvider()
	a := models.DNSRecord{Type: models.RecordTypeA, Name: "shop", Value: "203.0.113.10"}
	txt := models.DNSRecord{Type: models.RecordTypeTXT, Name: "_hera-verification.shop", Value: TokenPrefix + "t0k3n"}

	ok, err := p.CheckRecord(ctx, "example.com", a)
	require.NoError(t, err)
	assert.False(t, ok)

	p.PublishAll("example.com", []models.DNSRecord{a, txt})

	ok, err = p.CheckRecord(ctx, "Example.com", a)
	require.NoError(t, err)
	assert.True(t, ok)

	value, err := p.LookupTXT(ctx, "_hera-verification.shop", "example.com")
	require.NoError(t, err)
	assert.Equal(t, TokenPrefix+"t0k3n", value)

	p.Withdraw("example.com", a)
	ok, err = p.CheckRecord(ctx, "example.com", a)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 4, p.Calls())
}

func TestStaticProvider_FailuresAndAcceptAll(t *testing.T) {
	ctx := context.Background()
	rec := models.DNSRecord{Type: models.RecordTypeA, Name: models.ApexName, Value: "203.0.113.10"}

	p := NewAcceptAllProvider()
	ok, err := p.CheckRecord(ctx, "example.com", rec)
	require.NoError(t, err)
	assert.True(t, ok)

	p.FailType(models.RecordTypeA)
	ok, err = p.CheckRecord(ctx, "example.com", rec)
	require.NoError(t, err)
	assert.False(t, ok)

	boom := errors.New("resolver unreachable")
	p.SetError(boom)
	_, err = p.CheckRecord(ctx, "example.com", rec)
	assert.ErrorIs(t, err, boom)
	_, err = p.LookupTXT(ctx, "_hera-verification", "example.com")
	assert.ErrorIs(t, err, boom)
}
