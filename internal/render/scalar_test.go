package render

import (
	"testing"
	"time"

	"github.com/dbcrust/dbcrust/internal/backend"
)

func TestFormatCellNull(t *testing.T) {
	cfg := DefaultConfig()
	got := FormatCell(backend.Cell{Kind: backend.CellNull}, cfg)
	if got != cfg.NullDisplay {
		t.Errorf("FormatCell(null) = %q, want %q", got, cfg.NullDisplay)
	}
}

func TestFormatCellNumberHuman(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumberFormat = NumberHuman
	got := FormatCell(backend.Cell{Kind: backend.CellInteger, Value: 1500000}, cfg)
	if got != "1.50M" {
		t.Errorf("FormatCell(1500000, human) = %q, want 1.50M", got)
	}
}

func TestFormatCellTemporal(t *testing.T) {
	cfg := DefaultConfig()
	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	got := FormatCell(backend.Cell{Kind: backend.CellTemporal, Value: ts}, cfg)
	want := "2026-01-02 15:04:05"
	if got != want {
		t.Errorf("FormatCell(temporal) = %q, want %q", got, want)
	}
}

func TestFormatCellTruncatesLongText(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxColumnWidth = 5
	got := FormatCell(backend.Cell{Kind: backend.CellText, Value: "abcdefghij"}, cfg)
	if got != "abcd…" {
		t.Errorf("FormatCell(long text) = %q, want abcd…", got)
	}
}

func TestFormatVectorShort(t *testing.T) {
	got := formatVector([]float64{1, 2, 3})
	want := "Vector[3]: [1, 2, 3]"
	if got != want {
		t.Errorf("formatVector(short) = %q, want %q", got, want)
	}
}

func TestFormatVectorLongTruncates(t *testing.T) {
	vals := make([]float64, 10)
	for i := range vals {
		vals[i] = float64(i)
	}
	got := formatVector(vals)
	want := "Vector[10]: [0, 1, 2, …, 7, 8, 9]"
	if got != want {
		t.Errorf("formatVector(long) = %q, want %q", got, want)
	}
}

func TestFormatGeometry(t *testing.T) {
	point := map[string]any{"type": "Point", "coordinates": []any{1.0, 2.0}}
	got := formatGeometry(point)
	want := "Point(1 2)"
	if got != want {
		t.Errorf("formatGeometry(point) = %q, want %q", got, want)
	}
}
