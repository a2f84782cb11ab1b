package branding

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/imyashkale/hera/internal/models"
)

var (
	hexColorPattern  = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	rgbColorPattern  = regexp.MustCompile(`^rgb\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*\)$`)
	rgbaColorPattern = regexp.MustCompile(`^rgba\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(0|1|0?\.\d+|1\.0+)\s*\)$`)
	cssSizePattern   = regexp.MustCompile(`^\d+(\.\d+)?(px|em|rem|%)$`)
)

// rgb holds channels in 0-255
type rgb struct {
	r, g, b float64
}

// IsColor reports whether s is #RGB, #RRGGBB, rgb() or rgba()
func IsColor(s string) bool {
	_, err := parseColor(s)
	return err == nil
}

// IsCSSSize reports whether s is <number>(px|em|rem|%)
func IsCSSSize(s string) bool {
	return cssSizePattern.MatchString(s)
}

func parseColor(s string) (rgb, error) {
	s = strings.TrimSpace(s)

	if m := hexColorPattern.FindStringSubmatch(s); m != nil {
		hex := m[1]
		if len(hex) == 3 {
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		}
		v, _ := strconv.ParseUint(hex, 16, 32)
		return rgb{float64(v >> 16 & 0xff), float64(v >> 8 & 0xff), float64(v & 0xff)}, nil
	}

	m := rgbColorPattern.FindStringSubmatch(s)
	if m == nil {
		m = rgbaColorPattern.FindStringSubmatch(s)
	}
	if m == nil {
		return rgb{}, fmt.Errorf("invalid color %q", s)
	}

	var ch [3]float64
	for i := 0; i < 3; i++ {
		v, _ := strconv.Atoi(m[i+1])
		if v > 255 {
			return rgb{}, fmt.Errorf("invalid color %q: channel out of range", s)
		}
		ch[i] = float64(v)
	}
	return rgb{ch[0], ch[1], ch[2]}, nil
}

func (c rgb) hex() string {
	return fmt.Sprintf("#%02x%02x%02x", clampChannel(c.r), clampChannel(c.g), clampChannel(c.b))
}

func clampChannel(v float64) int {
	return int(math.Max(0, math.Min(255, math.Round(v))))
}

// Luminance is 0.2126R + 0.7152G + 0.0722B on 0-1 channel values
func Luminance(color string) (float64, error) {
	c, err := parseColor(color)
	if err != nil {
		return 0, err
	}
	return luminance(c), nil
}

func luminance(c rgb) float64 {
	return 0.2126*c.r/255 + 0.7152*c.g/255 + 0.0722*c.b/255
}

// ContrastRatio returns (max(L1,L2)+0.05)/(min(L1,L2)+0.05)
func ContrastRatio(a, b string) (float64, error) {
	la, err := Luminance(a)
	if err != nil {
		return 0, err
	}
	lb, err := Luminance(b)
	if err != nil {
		return 0, err
	}
	return (math.Max(la, lb) + 0.05) / (math.Min(la, lb) + 0.05), nil
}

// mix factors per shade: positive toward white, negative toward black
var rampMix = map[int]float64{
	50:  0.9,
	100: 0.8,
	200: 0.6,
	300: 0.4,
	400: 0.2,
	600: -0.2,
	700: -0.4,
	800: -0.6,
	900: -0.8,
}

// DeriveRamp interpolates base toward white for 50-400 and toward black for
// 600-900. Shade 500 is base unchanged.
func DeriveRamp(base string) (models.Ramp, error) {
	c, err := parseColor(base)
	if err != nil {
		return nil, err
	}

	ramp := make(models.Ramp, len(models.RampShades))
	for _, shade := range models.RampShades {
		f, ok := rampMix[shade]
		if !ok {
			ramp[shade] = base
			continue
		}
		var out rgb
		if f > 0 {
			out = rgb{c.r + (255-c.r)*f, c.g + (255-c.g)*f, c.b + (255-c.b)*f}
		} else {
			k := 1 + f
			out = rgb{c.r * k, c.g * k, c.b * k}
		}
		ramp[shade] = out.hex()
	}
	return ramp, nil
}
