// Package render implements the RowSet-to-terminal pipeline:
// column-selection thresholding, bounded row buffering, per-CellKind
// scalar/JSON/vector/geometry formatting with auto-downgrading complex-value
// modes, and table/expanded/plan-tree layout. Grounded on
// stacklok-toolhive's cmd/thv/app/ui package, which is the pack's only
// complete example pairing olekukonko/tablewriter for box-drawn tables with
// charmbracelet/lipgloss for styled headers, and golang.org/x/term for
// TTY-aware color disablement.
package render

// ComplexMode is one of the four complex-value display modes.
type ComplexMode string

const (
	ModeFull      ComplexMode = "full"
	ModeTruncated ComplexMode = "truncated"
	ModeSummary   ComplexMode = "summary"
	ModeViz       ComplexMode = "viz"
)

// downgradeOrder lists modes from most to least verbose; auto-downgrade
// steps rightward from the configured default as size_threshold is
// exceeded, per the documented "truncated → summary" example.
var downgradeOrder = []ComplexMode{ModeFull, ModeTruncated, ModeSummary, ModeViz}

func indexOfMode(m ComplexMode) int {
	for i, c := range downgradeOrder {
		if c == m {
			return i
		}
	}
	return 0
}

// BorderStyle selects the box-drawing style tablewriter renders with.
type BorderStyle int

const (
	BorderNone BorderStyle = iota
	BorderSimple
	BorderFull
)

// NumberFormat controls scalar number rendering.
type NumberFormat string

const (
	NumberRaw   NumberFormat = "raw"
	NumberHuman NumberFormat = "human"
)

// Config mirrors the [database]/[display]/[complex_display] TOML sections.
type Config struct {
	DefaultLimit             int
	ExpandedDisplayDefault   bool
	ShowExecutionTime        bool
	AutoExplainThresholdMS   int
	NullDisplay              string

	BorderStyle               BorderStyle
	DateFormat                string
	NumberFormat              NumberFormat
	MaxColumnWidth            int
	TruncateLongValues        bool
	ColumnSelectionThreshold  int

	ComplexDisplayMode  ComplexMode
	TruncationLength    int
	SizeThreshold       int
	ShowComplexMetadata bool
	ComplexMaxWidth     int

	RowBufferLimit int // default 1000, per the step 2
}

// DefaultConfig matches the documented defaults spec's scenarios assume.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:             1000,
		NullDisplay:              "NULL",
		BorderStyle:              BorderSimple,
		DateFormat:               "2006-01-02 15:04:05",
		NumberFormat:             NumberRaw,
		MaxColumnWidth:           60,
		TruncateLongValues:       true,
		ColumnSelectionThreshold: 12,
		ComplexDisplayMode:       ModeTruncated,
		TruncationLength:         120,
		SizeThreshold:            30,
		ComplexMaxWidth:          80,
		RowBufferLimit:           1000,
	}
}

// effectiveMode applies the deterministic auto-downgrade rule: crossing
// sizeThreshold steps down once (size_threshold 30: 40 keys downgrades
// one step to truncated, 120 keys downgrades two steps to summary);
// crossing each further quadrupling of that threshold steps down again.
func effectiveMode(configured ComplexMode, elementCount, sizeThreshold int) ComplexMode {
	if sizeThreshold <= 0 || elementCount <= sizeThreshold {
		return configured
	}
	steps := 1
	bound := sizeThreshold * 4
	for elementCount >= bound {
		steps++
		bound *= 4
	}
	idx := indexOfMode(configured) + steps
	if idx >= len(downgradeOrder) {
		idx = len(downgradeOrder) - 1
	}
	return downgradeOrder[idx]
}
