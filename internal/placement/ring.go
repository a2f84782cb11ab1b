// Package placement assigns organizations to regions on a consistent-hash ring.
package placement

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/buraksezer/consistent"
)

type region string

func (r region) String() string {
	return string(r)
}

type hasher struct{}

func (h hasher) Sum64(data []byte) uint64 {
	out := sha256.Sum256(data)
	return binary.BigEndian.Uint64(out[:8])
}

// Ring maps organization ids to regions. Adding a region moves only the
// organizations that now hash to it.
type Ring struct {
	ring    *consistent.Consistent
	regions []string
}

// NewRing builds a ring over regions
func NewRing(regions []string) *Ring {
	cfg := consistent.Config{
		PartitionCount:    71,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	}
	c := consistent.New(nil, cfg)

	for _, name := range regions {
		c.Add(region(name))
	}

	return &Ring{ring: c, regions: append([]string(nil), regions...)}
}

// RegionFor returns the region owning orgID, or "" when the ring is empty
func (r *Ring) RegionFor(orgID string) string {
	if len(r.regions) == 0 {
		return ""
	}
	member := r.ring.LocateKey([]byte(orgID))
	if member == nil {
		return ""
	}
	return member.String()
}

// Regions returns the configured regions
func (r *Ring) Regions() []string {
	return append([]string(nil), r.regions...)
}
