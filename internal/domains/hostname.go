package domains

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// MaxHostnameLength is the RFC 1035 limit on a full hostname
const MaxHostnameLength = 253

// NormalizeHostname lowercases h and drops a trailing root dot
func NormalizeHostname(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}

// ValidateHostname checks RFC 1035 hostname syntax: at least two labels,
// each 1-63 letters, digits or hyphens, not starting or ending with a hyphen,
// and at most 253 characters overall.
func ValidateHostname(h string) error {
	if h == "" {
		return fmt.Errorf("domain is required")
	}
	if len(h) > MaxHostnameLength {
		return fmt.Errorf("domain %q is longer than %d characters", h, MaxHostnameLength)
	}
	if _, ok := dns.IsDomainName(h); !ok {
		return fmt.Errorf("domain %q is not a valid domain name", h)
	}
	labels := strings.Split(h, ".")
	if len(labels) < 2 {
		return fmt.Errorf("domain %q must have at least two labels", h)
	}
	for _, l := range labels {
		if err := ValidateLabel(l); err != nil {
			return fmt.Errorf("domain %q: %w", h, err)
		}
	}
	if tld := labels[len(labels)-1]; isNumeric(tld) {
		return fmt.Errorf("domain %q: top-level label cannot be numeric", h)
	}
	return nil
}

// ValidateLabel checks a single DNS label
func ValidateLabel(l string) error {
	if l == "" {
		return fmt.Errorf("empty label")
	}
	if len(l) > 63 {
		return fmt.Errorf("label %q is longer than 63 characters", l)
	}
	if l[0] == '-' || l[len(l)-1] == '-' {
		return fmt.Errorf("label %q cannot start or end with a hyphen", l)
	}
	for _, c := range l {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
			return fmt.Errorf("label %q contains invalid character %q", l, c)
		}
	}
	return nil
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
