package geometry

import "testing"

func TestLookupPaper(t *testing.T) {
	cases := []struct {
		name          string
		wantW, wantH  float64
		wantPaperName string
	}{
		{"a4", 210, 297, "a4"},
		{"A3-landscape", 420, 297, "a3-landscape"},
		{"a3_landscape", 420, 297, "a3-landscape"},
		{" Letter ", 215.9, 279.4, "letter"},
		{"tabloid-landscape", 431.8, 279.4, "tabloid-landscape"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := LookupPaper(tc.name)
			if err != nil {
				t.Fatalf("LookupPaper(%q): %v", tc.name, err)
			}
			if p.WidthMm != tc.wantW || p.HeightMm != tc.wantH {
				t.Errorf("size = %vx%v, want %vx%v", p.WidthMm, p.HeightMm, tc.wantW, tc.wantH)
			}
			if p.Name != tc.wantPaperName {
				t.Errorf("name = %q, want %q", p.Name, tc.wantPaperName)
			}
		})
	}
}

func TestLookupPaper_Unknown(t *testing.T) {
	if _, err := LookupPaper("b5"); err == nil {
		t.Error("expected error for unknown paper size")
	}
}

func TestPaperSize_StepBounds(t *testing.T) {
	p, err := LookupPaper("a3-landscape")
	if err != nil {
		t.Fatal(err)
	}
	r := p.StepBounds(2032)
	if r.Min != Origin {
		t.Errorf("Min = %v, want origin", r.Min)
	}
	if !near(r.Max.X, 33600) || !near(r.Max.Y, 23760) {
		t.Errorf("Max = %v, want {33600 23760}", r.Max)
	}
}

func TestPaperSize_LandscapeIsIdempotent(t *testing.T) {
	p, _ := LookupPaper("a4")
	l := p.Landscape().Landscape()
	if l.WidthMm != 297 || l.HeightMm != 210 {
		t.Errorf("double Landscape() = %vx%v, want 297x210", l.WidthMm, l.HeightMm)
	}
}
