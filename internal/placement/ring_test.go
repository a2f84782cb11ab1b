package placement

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_RegionForIsStable(t *testing.T) {
	regions := []string{"us-east-1", "eu-west-1", "ap-southeast-1"}
	a := NewRing(regions)
	b := NewRing(regions)

	for i := 0; i < 50; i++ {
		org := fmt.Sprintf("org-%d", i)
		got := a.RegionFor(org)
		assert.Contains(t, regions, got)
		assert.Equal(t, got, b.RegionFor(org))
	}
}

func TestRing_SpreadsOrganizations(t *testing.T) {
	ring := NewRing([]string{"us-east-1", "eu-west-1", "ap-southeast-1"})

	seen := map[string]int{}
	for i := 0; i < 300; i++ {
		seen[ring.RegionFor(fmt.Sprintf("org-%d", i))]++
	}
	assert.Len(t, seen, 3)
}

func TestRing_Empty(t *testing.T) {
	ring := NewRing(nil)
	assert.Equal(t, "", ring.RegionFor("org-1"))
	assert.Empty(t, ring.Regions())
}
