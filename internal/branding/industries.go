package branding

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/imyashkale/hera/internal/models"
	"gopkg.in/yaml.v2"
)

// GenericIndustry is used when an industry has no profile of its own
const GenericIndustry = "generic"

//go:embed industries.yaml
var bundledIndustries []byte

// IndustryProfile is the bundled default for one industry
type IndustryProfile struct {
	DisplayName string               `yaml:"display_name"`
	Modules     []string             `yaml:"modules"`
	Theme       models.ThemeOverride `yaml:"theme"`
}

// Industries holds the known industry profiles
type Industries struct {
	profiles map[string]IndustryProfile
}

// BundledIndustries parses the industry defaults compiled into the binary
func BundledIndustries() (*Industries, error) {
	return LoadIndustryDefaults(bundledIndustries)
}

// LoadIndustryDefaults parses an industries YAML document. A generic profile is required.
func LoadIndustryDefaults(data []byte) (*Industries, error) {
	profiles := make(map[string]IndustryProfile)
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse industry defaults: %w", err)
	}
	if _, ok := profiles[GenericIndustry]; !ok {
		return nil, fmt.Errorf("industry defaults must define %q", GenericIndustry)
	}
	return &Industries{profiles: profiles}, nil
}

// Known reports whether industry has a profile
func (i *Industries) Known(industry string) bool {
	_, ok := i.profiles[industry]
	return ok
}

// Profile returns the profile for industry, or the generic profile
func (i *Industries) Profile(industry string) IndustryProfile {
	if p, ok := i.profiles[industry]; ok {
		return p
	}
	return i.profiles[GenericIndustry]
}

// Default returns the theme default for industry
func (i *Industries) Default(industry string) models.ThemeOverride {
	return i.Profile(industry).Theme.Clone()
}

// Names returns the sorted industry names
func (i *Industries) Names() []string {
	names := make([]string, 0, len(i.profiles))
	for name := range i.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
