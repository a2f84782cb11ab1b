// Package branding turns partial theme overrides into complete, validated
// themes and renders them for the UI layer.
package branding

import (
	"github.com/imyashkale/hera/internal/models"
)

// Resolve merges override over industryDefault field by field. Fields set in
// neither come from the neutral fallback. Ramps are derived for every base
// color that parses; Validate reports the ones that do not.
func Resolve(industryDefault, override models.ThemeOverride) *models.ResolvedTheme {
	fb := neutralTheme
	d, o := industryDefault, override

	theme := &models.ResolvedTheme{
		Colors: models.ThemeColors{
			Primary:    pick(o.Colors.Primary, d.Colors.Primary, fb.Colors.Primary),
			Secondary:  pick(o.Colors.Secondary, d.Colors.Secondary, fb.Colors.Secondary),
			Accent:     pick(o.Colors.Accent, d.Colors.Accent, fb.Colors.Accent),
			Success:    pick(o.Colors.Success, d.Colors.Success, fb.Colors.Success),
			Warning:    pick(o.Colors.Warning, d.Colors.Warning, fb.Colors.Warning),
			Error:      pick(o.Colors.Error, d.Colors.Error, fb.Colors.Error),
			Background: pick(o.Colors.Background, d.Colors.Background, fb.Colors.Background),
			Surface:    pick(o.Colors.Surface, d.Colors.Surface, fb.Colors.Surface),
			Text:       pick(o.Colors.Text, d.Colors.Text, fb.Colors.Text),
			Border:     pick(o.Colors.Border, d.Colors.Border, fb.Colors.Border),
		},
		Typography: models.Typography{
			HeadingFont: pick(o.Typography.HeadingFont, d.Typography.HeadingFont, fb.Typography.HeadingFont),
			BodyFont:    pick(o.Typography.BodyFont, d.Typography.BodyFont, fb.Typography.BodyFont),
			BaseSize:    pick(o.Typography.BaseSize, d.Typography.BaseSize, fb.Typography.BaseSize),
			LineHeight:  pick(o.Typography.LineHeight, d.Typography.LineHeight, fb.Typography.LineHeight),
		},
		Layout: models.Layout{
			BorderRadius:    pick(o.Layout.BorderRadius, d.Layout.BorderRadius, fb.Layout.BorderRadius),
			ShadowIntensity: pick(o.Layout.ShadowIntensity, d.Layout.ShadowIntensity, fb.Layout.ShadowIntensity),
		},
		Accessibility: models.Accessibility{
			ReducedMotion:     pickBool(o.Accessibility.ReducedMotion, d.Accessibility.ReducedMotion, fb.Accessibility.ReducedMotion),
			HighContrast:      pickBool(o.Accessibility.HighContrast, d.Accessibility.HighContrast, fb.Accessibility.HighContrast),
			AnimationsEnabled: pickBool(o.Accessibility.AnimationsEnabled, d.Accessibility.AnimationsEnabled, fb.Accessibility.AnimationsEnabled),
		},
		LogoURL:    pick(o.LogoURL, d.LogoURL),
		FaviconURL: pick(o.FaviconURL, d.FaviconURL),
	}

	if len(d.Extra)+len(o.Extra) > 0 {
		theme.Extra = make(map[string]string, len(d.Extra)+len(o.Extra))
		for k, v := range d.Extra {
			theme.Extra[k] = v
		}
		for k, v := range o.Extra {
			theme.Extra[k] = v
		}
	}

	theme.Ramps = make(map[string]models.Ramp)
	for name, color := range theme.BaseColors() {
		if ramp, err := DeriveRamp(color); err == nil {
			theme.Ramps[name] = ramp
		}
	}

	return theme
}

// Merge layers patch over base, returning a new override
func Merge(base, patch models.ThemeOverride) models.ThemeOverride {
	out := base.Clone()
	p := patch.Clone()

	setIf(&out.Colors.Primary, p.Colors.Primary)
	setIf(&out.Colors.Secondary, p.Colors.Secondary)
	setIf(&out.Colors.Accent, p.Colors.Accent)
	setIf(&out.Colors.Success, p.Colors.Success)
	setIf(&out.Colors.Warning, p.Colors.Warning)
	setIf(&out.Colors.Error, p.Colors.Error)
	setIf(&out.Colors.Background, p.Colors.Background)
	setIf(&out.Colors.Surface, p.Colors.Surface)
	setIf(&out.Colors.Text, p.Colors.Text)
	setIf(&out.Colors.Border, p.Colors.Border)
	setIf(&out.Typography.HeadingFont, p.Typography.HeadingFont)
	setIf(&out.Typography.BodyFont, p.Typography.BodyFont)
	setIf(&out.Typography.BaseSize, p.Typography.BaseSize)
	setIf(&out.Typography.LineHeight, p.Typography.LineHeight)
	setIf(&out.Layout.BorderRadius, p.Layout.BorderRadius)
	setIf(&out.Layout.ShadowIntensity, p.Layout.ShadowIntensity)
	setIf(&out.LogoURL, p.LogoURL)
	setIf(&out.FaviconURL, p.FaviconURL)

	if p.Accessibility.ReducedMotion != nil {
		out.Accessibility.ReducedMotion = p.Accessibility.ReducedMotion
	}
	if p.Accessibility.HighContrast != nil {
		out.Accessibility.HighContrast = p.Accessibility.HighContrast
	}
	if p.Accessibility.AnimationsEnabled != nil {
		out.Accessibility.AnimationsEnabled = p.Accessibility.AnimationsEnabled
	}

	if len(p.Extra) > 0 && out.Extra == nil {
		out.Extra = make(map[string]string, len(p.Extra))
	}
	for k, v := range p.Extra {
		out.Extra[k] = v
	}
	return out
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func pickBool(override, def *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	if def != nil {
		return *def
	}
	return fallback
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
