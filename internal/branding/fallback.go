package branding

import "github.com/imyashkale/hera/internal/models"

// neutralTheme is used for every field that neither the tenant override nor
// the industry default sets.
//
//	colors:        slate/indigo palette, white background, near-black text
//	typography:    Inter for headings and body, 16px base, 1.5 line height
//	layout:        8px radius, subtle shadows
//	accessibility: motion and animations on, high contrast off
var neutralTheme = models.ResolvedTheme{
	Colors: models.ThemeColors{
		Primary:    "#3730a3",
		Secondary:  "#64748b",
		Accent:     "#0ea5e9",
		Success:    "#16a34a",
		Warning:    "#d97706",
		Error:      "#dc2626",
		Background: "#ffffff",
		Surface:    "#f8fafc",
		Text:       "#0f172a",
		Border:     "#e2e8f0",
	},
	Typography: models.Typography{
		HeadingFont: "Inter",
		BodyFont:    "Inter",
		BaseSize:    "16px",
		LineHeight:  "1.5",
	},
	Layout: models.Layout{
		BorderRadius:    "8px",
		ShadowIntensity: "subtle",
	},
	Accessibility: models.Accessibility{
		ReducedMotion:     false,
		HighContrast:      false,
		AnimationsEnabled: true,
	},
}
