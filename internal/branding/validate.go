package branding

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/imyashkale/hera/internal/models"
)

// MinContrastRatio is the lowest accepted primary/background contrast
const MinContrastRatio = 3.0

// ValidationResult lists every problem found in a theme
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("themecolor", func(fl validator.FieldLevel) bool {
		return IsColor(fl.Field().String())
	})
	_ = v.RegisterValidation("csssize", func(fl validator.FieldLevel) bool {
		return IsCSSSize(fl.Field().String())
	})

	return v
}

// Validate checks color syntax, sizes, layout values and the
// primary/background contrast.
func Validate(theme *models.ResolvedTheme) ValidationResult {
	if theme == nil {
		return ValidationResult{Errors: []string{"theme is required"}}
	}

	var errs []string
	if err := validate.Struct(theme); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, describeFieldError(fe))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if IsColor(theme.Colors.Primary) && IsColor(theme.Colors.Background) {
		ratio, _ := ContrastRatio(theme.Colors.Primary, theme.Colors.Background)
		if ratio < MinContrastRatio {
			errs = append(errs, fmt.Sprintf(
				"primary color %s on background %s has contrast ratio %.2f, below the minimum of %.1f; darken the primary color or lighten the background",
				theme.Colors.Primary, theme.Colors.Background, ratio, MinContrastRatio))
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateOverride checks the fields a tenant did set. It does not check
// contrast, which depends on the resolved theme.
func ValidateOverride(o models.ThemeOverride) []string {
	var errs []string

	colors := []struct{ name, value string }{
		{"primary", o.Colors.Primary},
		{"secondary", o.Colors.Secondary},
		{"accent", o.Colors.Accent},
		{"success", o.Colors.Success},
		{"warning", o.Colors.Warning},
		{"error", o.Colors.Error},
		{"background", o.Colors.Background},
		{"surface", o.Colors.Surface},
		{"text", o.Colors.Text},
		{"border", o.Colors.Border},
	}
	for _, c := range colors {
		if err := validate.Var(c.value, "omitempty,themecolor"); err != nil {
			errs = append(errs, fmt.Sprintf("colors.%s: %q is not a hex, rgb() or rgba() color", c.name, c.value))
		}
	}

	sizes := []struct{ name, value string }{
		{"typography.base_size", o.Typography.BaseSize},
		{"layout.border_radius", o.Layout.BorderRadius},
	}
	for _, s := range sizes {
		if err := validate.Var(s.value, "omitempty,csssize"); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q must be a number followed by px, em, rem or %%", s.name, s.value))
		}
	}

	if err := validate.Var(o.Typography.LineHeight, "omitempty,numeric"); err != nil {
		errs = append(errs, fmt.Sprintf("typography.line_height: %q must be numeric", o.Typography.LineHeight))
	}
	if err := validate.Var(o.Layout.ShadowIntensity, "omitempty,oneof=none subtle medium strong"); err != nil {
		errs = append(errs, fmt.Sprintf("layout.shadow_intensity: %q must be one of none, subtle, medium, strong", o.Layout.ShadowIntensity))
	}
	for name, u := range map[string]string{"logo_url": o.LogoURL, "favicon_url": o.FaviconURL} {
		if err := validate.Var(u, "omitempty,url"); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not a valid URL", name, u))
		}
	}

	return errs
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "ResolvedTheme.")
	switch fe.Tag() {
	case "themecolor":
		return fmt.Sprintf("%s: %q is not a hex, rgb() or rgba() color", field, fe.Value())
	case "csssize":
		return fmt.Sprintf("%s: %q must be a number followed by px, em, rem or %%", field, fe.Value())
	case "numeric":
		return fmt.Sprintf("%s: %q must be numeric", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s: %q must be one of %s", field, fe.Value(), fe.Param())
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s: %q is not a valid URL", field, fe.Value())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
