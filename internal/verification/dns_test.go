package verification

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/imyashkale/hera/internal/models"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNameserver serves the given zone on a local UDP socket and
// returns its address. Unknown names get NXDOMAIN.
func startTestNameserver(t *testing.T, zone ...string) string {
	t.Helper()

	var records []dns.RR
	names := map[string]bool{}
	for _, line := range zone {
		rr, err := dns.NewRR(line)
		require.NoError(t, err)
		records = append(records, rr)
		names[strings.ToLower(rr.Header().Name)] = true
	}

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		name := strings.ToLower(q.Name)
		if !names[name] {
			m.Rcode = dns.RcodeNameError
		}
		for _, rr := range records {
			if strings.ToLower(rr.Header().Name) == name && rr.Header().Rrtype == q.Qtype {
				m.Answer = append(m.Answer, rr)
			}
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSResolver_CheckRecord(t *testing.T) {
	ns := startTestNameserver(t,
		"shop.example.com. 300 IN A 203.0.113.10",
		"www.example.com. 300 IN CNAME Edge.Hera.App.",
		"_hera-verification.shop.example.com. 300 IN TXT \"v=spf1 -all\"",
		"_hera-verification.shop.example.com. 300 IN TXT \"hera-domain-verification=abc123\"",
	)
	resolver := NewDNSResolver([]string{ns}, time.Second)
	ctx := context.Background()

	tests := []struct {
		name   string
		domain string
		record models.DNSRecord
		want   bool
	}{
		{
			name:   "A record matches ingress",
			domain: "example.com",
			record: models.DNSRecord{Type: models.RecordTypeA, Name: "shop", Value: "203.0.113.10"},
			want:   true,
		},
		{
			name:   "A record points elsewhere",
			domain: "example.com",
			record: models.DNSRecord{Type: models.RecordTypeA, Name: "shop", Value: "198.51.100.1"},
			want:   false,
		},
		{
			name:   "CNAME compared case-insensitively",
			domain: "example.com",
			record: models.DNSRecord{Type: models.RecordTypeCNAME, Name: "www", Value: "edge.hera.app"},
			want:   true,
		},
		{
			name:   "TXT token matches",
			domain: "example.com",
			record: models.DNSRecord{Type: models.RecordTypeTXT, Name: "_hera-verification.shop", Value: "hera-domain-verification=abc123"},
			want:   true,
		},
		{
			name:   "TXT token differs",
			domain: "example.com",
			record: models.DNSRecord{Type: models.RecordTypeTXT, Name: "_hera-verification.shop", Value: "hera-domain-verification=zzz"},
			want:   false,
		},
		{
			name:   "NXDOMAIN is not published",
			domain: "missing.test",
			record: models.DNSRecord{Type: models.RecordTypeA, Name: models.ApexName, Value: "203.0.113.10"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.CheckRecord(ctx, tt.domain, tt.record)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDNSResolver_LookupTXTPrefersToken(t *testing.T) {
	ns := startTestNameserver(t,
		"_hera-verification.example.com. 300 IN TXT \"google-site-verification=x\"",
		"_hera-verification.example.com. 300 IN TXT \"hera-domain-verification=\" \"split-token\"",
	)
	resolver := NewDNSResolver([]string{ns}, time.Second)

	value, err := resolver.LookupTXT(context.Background(), "_hera-verification.@", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "hera-domain-verification=split-token", value)
}

func TestDNSResolver_FallsBackToNextNameserver(t *testing.T) {
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()

	ns := startTestNameserver(t, "example.com. 300 IN A 203.0.113.10")
	resolver := NewDNSResolver([]string{silent.LocalAddr().String(), ns}, 200*time.Millisecond)

	ok, err := resolver.CheckRecord(context.Background(), "example.com",
		models.DNSRecord{Type: models.RecordTypeA, Name: models.ApexName, Value: "203.0.113.10"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDNSResolver_AllNameserversDown(t *testing.T) {
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()

	resolver := NewDNSResolver([]string{silent.LocalAddr().String()}, 200*time.Millisecond)

	_, err = resolver.CheckRecord(context.Background(), "example.com",
		models.DNSRecord{Type: models.RecordTypeA, Name: models.ApexName, Value: "203.0.113.10"})
	assert.Error(t, err)
}

func TestDNSResolver_UnsupportedType(t *testing.T) {
	resolver := NewDNSResolver([]string{"127.0.0.1:1"}, 100*time.Millisecond)
	_, err := resolver.CheckRecord(context.Background(), "example.com", models.DNSRecord{Type: "MX"})
	assert.Error(t, err)
}
