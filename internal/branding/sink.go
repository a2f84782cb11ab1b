package branding

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/objectstore"
)

// ThemeStylesheet is the asset name of the rendered theme
const ThemeStylesheet = "theme.css"

// Sink receives validated themes
type Sink interface {
	Apply(ctx context.Context, deploymentID string, theme *models.ResolvedTheme) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, deploymentID string, theme *models.ResolvedTheme) error

// Apply calls f
func (f SinkFunc) Apply(ctx context.Context, deploymentID string, theme *models.ResolvedTheme) error {
	return f(ctx, deploymentID, theme)
}

// AssetPrefix is the object store prefix holding a deployment's generated assets
func AssetPrefix(deploymentID string) string {
	return path.Join("assets", deploymentID) + "/"
}

// AssetPath is the object store path of a generated asset
func AssetPath(deploymentID, name string) string {
	return path.Join("assets", deploymentID, name)
}

// CSSSink renders themes to CSS custom properties in the asset bucket
type CSSSink struct {
	store  objectstore.Store
	bucket string
}

// NewCSSSink creates a sink writing to bucket
func NewCSSSink(store objectstore.Store, bucket string) *CSSSink {
	return &CSSSink{store: store, bucket: bucket}
}

// Apply writes assets/<deploymentID>/theme.css
func (s *CSSSink) Apply(ctx context.Context, deploymentID string, theme *models.ResolvedTheme) error {
	css := RenderCSS(theme)
	err := s.store.Put(ctx, s.bucket, AssetPath(deploymentID, ThemeStylesheet), css,
		objectstore.PutOptions{Overwrite: true, ContentType: "text/css"})
	if err != nil {
		return fmt.Errorf("failed to write theme stylesheet: %w", err)
	}
	return nil
}

// RenderCSS renders theme as a :root block. Output is deterministic.
func RenderCSS(theme *models.ResolvedTheme) []byte {
	var b bytes.Buffer
	b.WriteString(":root {\n")

	decl := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "  --%s: %s;\n", name, value)
		}
	}

	c := theme.Colors
	decl("color-primary", c.Primary)
	decl("color-secondary", c.Secondary)
	decl("color-accent", c.Accent)
	decl("color-success", c.Success)
	decl("color-warning", c.Warning)
	decl("color-error", c.Error)
	decl("color-background", c.Background)
	decl("color-surface", c.Surface)
	decl("color-text", c.Text)
	decl("color-border", c.Border)

	names := make([]string, 0, len(theme.Ramps))
	for name := range theme.Ramps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ramp := theme.Ramps[name]
		for _, shade := range models.RampShades {
			decl(fmt.Sprintf("color-%s-%d", name, shade), ramp[shade])
		}
	}

	decl("font-heading", fmt.Sprintf("%q", theme.Typography.HeadingFont))
	decl("font-body", fmt.Sprintf("%q", theme.Typography.BodyFont))
	decl("font-size-base", theme.Typography.BaseSize)
	decl("line-height-base", theme.Typography.LineHeight)
	decl("radius-base", theme.Layout.BorderRadius)
	decl("shadow-base", shadowFor(theme.Layout.ShadowIntensity))

	if !theme.Accessibility.AnimationsEnabled || theme.Accessibility.ReducedMotion {
		decl("transition-duration", "0s")
	} else {
		decl("transition-duration", "150ms")
	}

	b.WriteString("}\n")
	return b.Bytes()
}

func shadowFor(intensity string) string {
	switch intensity {
	case "none":
		return "none"
	case "medium":
		return "0 4px 6px rgba(0, 0, 0, 0.1)"
	case "strong":
		return "0 10px 15px rgba(0, 0, 0, 0.2)"
	default:
		return "0 1px 2px rgba(0, 0, 0, 0.05)"
	}
}
