package render

import "testing"

func TestEffectiveModeDowngrade(t *testing.T) {
	tests := []struct {
		name          string
		configured    ComplexMode
		elementCount  int
		sizeThreshold int
		want          ComplexMode
	}{
		{"under threshold stays", ModeFull, 10, 30, ModeFull},
		{"over threshold steps once", ModeFull, 40, 30, ModeTruncated},
		{"over quadrupled threshold steps twice", ModeFull, 120, 30, ModeSummary},
		{"zero threshold disables downgrade", ModeTruncated, 100000, 0, ModeTruncated},
		{"already at floor stays at floor", ModeViz, 1000, 30, ModeViz},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := effectiveMode(tt.configured, tt.elementCount, tt.sizeThreshold)
			if got != tt.want {
				t.Errorf("effectiveMode(%v, %d, %d) = %v, want %v", tt.configured, tt.elementCount, tt.sizeThreshold, got, tt.want)
			}
		})
	}
}

func TestIndexOfModeUnknownDefaultsToZero(t *testing.T) {
	if got := indexOfMode(ComplexMode("bogus")); got != 0 {
		t.Errorf("indexOfMode(bogus) = %d, want 0", got)
	}
}
