package geometry

import (
	"fmt"
	"sort"
	"strings"
)

// MillimetersPerInch is the world scale for millimeter drawings.
const MillimetersPerInch = 25.4

// PaperSize is a named sheet size in millimeters, portrait orientation
// unless Landscape was applied.
type PaperSize struct {
	Name     string
	WidthMm  float64
	HeightMm float64
}

var paperSizes = map[string]PaperSize{
	"a0":      {"a0", 841, 1189},
	"a1":      {"a1", 594, 841},
	"a2":      {"a2", 420, 594},
	"a3":      {"a3", 297, 420},
	"a4":      {"a4", 210, 297},
	"a5":      {"a5", 148, 210},
	"a6":      {"a6", 105, 148},
	"letter":  {"letter", 215.9, 279.4},
	"legal":   {"legal", 215.9, 355.6},
	"tabloid": {"tabloid", 279.4, 431.8},
}

// Landscape returns the size rotated so that the long edge is horizontal.
func (p PaperSize) Landscape() PaperSize {
	if p.WidthMm >= p.HeightMm {
		return p
	}
	return PaperSize{
		Name:     p.Name + "-landscape",
		WidthMm:  p.HeightMm,
		HeightMm: p.WidthMm,
	}
}

// StepBounds returns the sheet as a rectangle anchored at the origin, in
// motor steps. It only depends on the hardware resolution, not on the world
// unit used for drawing.
func (p PaperSize) StepBounds(stepsPerInch float64) Rect {
	return Rect{
		Max: Vec{
			X: p.WidthMm * stepsPerInch / MillimetersPerInch,
			Y: p.HeightMm * stepsPerInch / MillimetersPerInch,
		},
	}
}

// LookupPaper resolves a paper name such as "a4", "A3-landscape" or
// "letter_landscape".
func LookupPaper(name string) (PaperSize, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "_", "-")
	landscape := false
	if base, ok := strings.CutSuffix(key, "-landscape"); ok {
		key = base
		landscape = true
	}
	p, ok := paperSizes[key]
	if !ok {
		return PaperSize{}, fmt.Errorf("unknown paper size %q (known: %s)", name, strings.Join(PaperNames(), ", "))
	}
	if landscape {
		return p.Landscape(), nil
	}
	return p, nil
}

// PaperNames lists the known base paper names, sorted.
func PaperNames() []string {
	names := make([]string, 0, len(paperSizes))
	for n := range paperSizes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
