package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dbcrust/dbcrust/internal/backend"
)

// FormatCell renders one cell to its display string, dispatching on Kind
// per the step 3.
func FormatCell(c backend.Cell, cfg Config) string {
	if c.Kind == backend.CellNull || c.Value == nil {
		return cfg.NullDisplay
	}
	switch c.Kind {
	case backend.CellBool:
		if b, ok := c.Value.(bool); ok {
			return strconv.FormatBool(b)
		}
	case backend.CellInteger:
		return formatNumber(c.Value, cfg.NumberFormat)
	case backend.CellFloat:
		return formatNumber(c.Value, cfg.NumberFormat)
	case backend.CellTemporal:
		if t, ok := c.Value.(time.Time); ok {
			return t.Format(cfg.DateFormat)
		}
	case backend.CellJSON, backend.CellDocument, backend.CellArray:
		return FormatComplex(c.Value, cfg)
	case backend.CellVector:
		return formatVector(c.Value)
	case backend.CellGeometry:
		return formatGeometry(c.Value)
	case backend.CellBytes:
		if b, ok := c.Value.([]byte); ok {
			return fmt.Sprintf("\\x%x", b)
		}
	}
	s := fmt.Sprintf("%v", c.Value)
	if cfg.TruncateLongValues && cfg.MaxColumnWidth > 0 && len(s) > cfg.MaxColumnWidth {
		return s[:cfg.MaxColumnWidth-1] + "…"
	}
	return s
}

func formatNumber(v any, format NumberFormat) string {
	s := fmt.Sprintf("%v", v)
	if format != NumberHuman {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return humanizeNumber(f)
}

// humanizeNumber renders large magnitudes with a K/M/B/T suffix.
func humanizeNumber(f float64) string {
	abs := f
	if abs < 0 {
		abs = -abs
	}
	suffixes := []struct {
		cut  float64
		unit string
	}{
		{1e12, "T"}, {1e9, "B"}, {1e6, "M"}, {1e3, "K"},
	}
	for _, s := range suffixes {
		if abs >= s.cut {
			return strconv.FormatFloat(f/s.cut, 'f', 2, 64) + s.unit
		}
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// vectorCutoff is the number of leading/trailing elements shown before the
// ellipsis, per the "Vector[dim]: [first, …, last]" format.
const vectorCutoff = 3

func formatVector(v any) string {
	vals, ok := v.([]float64)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	dim := len(vals)
	if dim <= 2*vectorCutoff {
		parts := make([]string, dim)
		for i, f := range vals {
			parts[i] = strconv.FormatFloat(f, 'g', 4, 64)
		}
		return fmt.Sprintf("Vector[%d]: [%s]", dim, strings.Join(parts, ", "))
	}
	head := make([]string, vectorCutoff)
	tail := make([]string, vectorCutoff)
	for i := 0; i < vectorCutoff; i++ {
		head[i] = strconv.FormatFloat(vals[i], 'g', 4, 64)
		tail[i] = strconv.FormatFloat(vals[dim-vectorCutoff+i], 'g', 4, 64)
	}
	return fmt.Sprintf("Vector[%d]: [%s, …, %s]", dim, strings.Join(head, ", "), strings.Join(tail, ", "))
}

// formatGeometry decodes a GeoJSON-shaped map and produces a one-line
// summary: type plus a coordinate preview.
func formatGeometry(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	geomType, _ := m["type"].(string)
	if geomType == "" {
		return "geometry"
	}
	coords := m["coordinates"]
	preview := previewCoordinates(coords, 0)
	return fmt.Sprintf("%s%s", geomType, preview)
}

func previewCoordinates(v any, depth int) string {
	if depth > 2 {
		return "(…)"
	}
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return "()"
		}
		if _, isNested := t[0].([]any); isNested {
			return previewCoordinates(t[0], depth+1)
		}
		parts := make([]string, 0, len(t))
		for _, c := range t {
			parts = append(parts, fmt.Sprintf("%v", c))
		}
		return "(" + strings.Join(parts, " ") + ")"
	default:
		return ""
	}
}
