package models

// ColorOverride holds optional color values. Empty strings are absent.
type ColorOverride struct {
	Primary    string `json:"primary,omitempty" yaml:"primary,omitempty" dynamodbav:"Primary,omitempty"`
	Secondary  string `json:"secondary,omitempty" yaml:"secondary,omitempty" dynamodbav:"Secondary,omitempty"`
	Accent     string `json:"accent,omitempty" yaml:"accent,omitempty" dynamodbav:"Accent,omitempty"`
	Success    string `json:"success,omitempty" yaml:"success,omitempty" dynamodbav:"Success,omitempty"`
	Warning    string `json:"warning,omitempty" yaml:"warning,omitempty" dynamodbav:"Warning,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty" dynamodbav:"Error,omitempty"`
	Background string `json:"background,omitempty" yaml:"background,omitempty" dynamodbav:"Background,omitempty"`
	Surface    string `json:"surface,omitempty" yaml:"surface,omitempty" dynamodbav:"Surface,omitempty"`
	Text       string `json:"text,omitempty" yaml:"text,omitempty" dynamodbav:"Text,omitempty"`
	Border     string `json:"border,omitempty" yaml:"border,omitempty" dynamodbav:"Border,omitempty"`
}

// TypographyOverride holds optional typography values
type TypographyOverride struct {
	HeadingFont string `json:"heading_font,omitempty" yaml:"heading_font,omitempty" dynamodbav:"HeadingFont,omitempty"`
	BodyFont    string `json:"body_font,omitempty" yaml:"body_font,omitempty" dynamodbav:"BodyFont,omitempty"`
	BaseSize    string `json:"base_size,omitempty" yaml:"base_size,omitempty" dynamodbav:"BaseSize,omitempty"`
	LineHeight  string `json:"line_height,omitempty" yaml:"line_height,omitempty" dynamodbav:"LineHeight,omitempty"`
}

// LayoutOverride holds optional layout values
type LayoutOverride struct {
	BorderRadius    string `json:"border_radius,omitempty" yaml:"border_radius,omitempty" dynamodbav:"BorderRadius,omitempty"`
	ShadowIntensity string `json:"shadow_intensity,omitempty" yaml:"shadow_intensity,omitempty" dynamodbav:"ShadowIntensity,omitempty"`
}

// AccessibilityOverride holds optional accessibility flags. nil is absent.
type AccessibilityOverride struct {
	ReducedMotion     *bool `json:"reduced_motion,omitempty" yaml:"reduced_motion,omitempty" dynamodbav:"ReducedMotion,omitempty"`
	HighContrast      *bool `json:"high_contrast,omitempty" yaml:"high_contrast,omitempty" dynamodbav:"HighContrast,omitempty"`
	AnimationsEnabled *bool `json:"animations_enabled,omitempty" yaml:"animations_enabled,omitempty" dynamodbav:"AnimationsEnabled,omitempty"`
}

// ThemeOverride is a partial theme supplied by a tenant or an industry default.
// Extra carries keys this version does not know about.
type ThemeOverride struct {
	Colors        ColorOverride         `json:"colors" yaml:"colors" dynamodbav:"Colors"`
	Typography    TypographyOverride    `json:"typography" yaml:"typography" dynamodbav:"Typography"`
	Layout        LayoutOverride        `json:"layout" yaml:"layout" dynamodbav:"Layout"`
	Accessibility AccessibilityOverride `json:"accessibility" yaml:"accessibility" dynamodbav:"Accessibility"`
	LogoURL       string                `json:"logo_url,omitempty" yaml:"logo_url,omitempty" dynamodbav:"LogoURL,omitempty"`
	FaviconURL    string                `json:"favicon_url,omitempty" yaml:"favicon_url,omitempty" dynamodbav:"FaviconURL,omitempty"`
	Extra         map[string]string     `json:"extra,omitempty" yaml:"extra,omitempty" dynamodbav:"Extra,omitempty"`
}

// Clone returns a deep copy of the override
func (o ThemeOverride) Clone() ThemeOverride {
	c := o
	c.Accessibility = AccessibilityOverride{
		ReducedMotion:     cloneBool(o.Accessibility.ReducedMotion),
		HighContrast:      cloneBool(o.Accessibility.HighContrast),
		AnimationsEnabled: cloneBool(o.Accessibility.AnimationsEnabled),
	}
	if o.Extra != nil {
		c.Extra = make(map[string]string, len(o.Extra))
		for k, v := range o.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// Ramp maps shade keys (50, 100, ..., 900) to colors
type Ramp map[int]string

// RampShades lists the ramp keys in ascending order
var RampShades = []int{50, 100, 200, 300, 400, 500, 600, 700, 800, 900}

// ThemeColors is a fully populated color set
type ThemeColors struct {
	Primary    string `json:"primary" validate:"themecolor"`
	Secondary  string `json:"secondary" validate:"themecolor"`
	Accent     string `json:"accent" validate:"themecolor"`
	Success    string `json:"success" validate:"themecolor"`
	Warning    string `json:"warning" validate:"themecolor"`
	Error      string `json:"error" validate:"themecolor"`
	Background string `json:"background" validate:"themecolor"`
	Surface    string `json:"surface" validate:"themecolor"`
	Text       string `json:"text" validate:"themecolor"`
	Border     string `json:"border" validate:"themecolor"`
}

// Typography is fully populated typography
type Typography struct {
	HeadingFont string `json:"heading_font" validate:"required"`
	BodyFont    string `json:"body_font" validate:"required"`
	BaseSize    string `json:"base_size" validate:"csssize"`
	LineHeight  string `json:"line_height" validate:"numeric"`
}

// Layout is fully populated layout
type Layout struct {
	BorderRadius    string `json:"border_radius" validate:"csssize"`
	ShadowIntensity string `json:"shadow_intensity" validate:"oneof=none subtle medium strong"`
}

// Accessibility is a fully populated set of accessibility flags
type Accessibility struct {
	ReducedMotion     bool `json:"reduced_motion"`
	HighContrast      bool `json:"high_contrast"`
	AnimationsEnabled bool `json:"animations_enabled"`
}

// ResolvedTheme is a complete theme ready to be applied
type ResolvedTheme struct {
	Colors        ThemeColors       `json:"colors"`
	Typography    Typography        `json:"typography"`
	Layout        Layout            `json:"layout"`
	Accessibility Accessibility     `json:"accessibility"`
	Ramps         map[string]Ramp   `json:"ramps,omitempty" validate:"-"`
	LogoURL       string            `json:"logo_url,omitempty" validate:"omitempty,url"`
	FaviconURL    string            `json:"favicon_url,omitempty" validate:"omitempty,url"`
	Extra         map[string]string `json:"extra,omitempty" validate:"-"`
}

// BaseColors returns the colors that carry a derived ramp, keyed by name
func (t *ResolvedTheme) BaseColors() map[string]string {
	return map[string]string{
		"primary":   t.Colors.Primary,
		"secondary": t.Colors.Secondary,
		"accent":    t.Colors.Accent,
		"success":   t.Colors.Success,
		"warning":   t.Colors.Warning,
		"error":     t.Colors.Error,
	}
}
