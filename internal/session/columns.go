package session

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/dbcrust/dbcrust/internal/backend"
)

// ColumnMemory implements render.ColumnSelector: when a result set's column
// count exceeds the configured threshold, it prompts once for which columns
// to keep and remembers the choice keyed by the column-name tuple, per
// the "remembered column selections (keyed by column-name tuple)".
type ColumnMemory struct {
	mu        sync.Mutex
	selected  map[string][]int
	forced    bool
	in        *bufio.Reader
	out       io.Writer
	noPrompt  bool // true in non-interactive (-c/-f) mode: never blocks on stdin
}

func NewColumnMemory(in io.Reader, out io.Writer, noPrompt bool) *ColumnMemory {
	return &ColumnMemory{
		selected: map[string][]int{},
		in:       bufio.NewReader(in),
		out:      out,
		noPrompt: noPrompt,
	}
}

func tupleKey(columns []backend.ColumnDescriptor) string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return strings.Join(names, "\x00")
}

// Select implements render.ColumnSelector.
func (m *ColumnMemory) Select(columns []backend.ColumnDescriptor) ([]int, bool) {
	key := tupleKey(columns)

	m.mu.Lock()
	if kept, ok := m.selected[key]; ok {
		m.mu.Unlock()
		return kept, true
	}
	m.mu.Unlock()

	if m.noPrompt {
		return nil, false
	}

	fmt.Fprintf(m.out, "%d columns returned, above the selection threshold. Columns:\n", len(columns))
	for i, c := range columns {
		fmt.Fprintf(m.out, "  %2d: %s\n", i+1, c.Name)
	}
	fmt.Fprint(m.out, "Select columns to show (comma-separated numbers, blank for all): ")
	line, _ := m.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	var kept []int
	for _, tok := range strings.Split(line, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil || n < 1 || n > len(columns) {
			continue
		}
		kept = append(kept, n-1)
	}
	if len(kept) == 0 {
		return nil, false
	}

	m.mu.Lock()
	m.selected[key] = kept
	m.mu.Unlock()
	return kept, true
}

// Forget clears every remembered selection, backing \clrcs.
func (m *ColumnMemory) Forget() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = map[string][]int{}
}

// SetForced records the \cs toggle. The renderer still prompts only when a
// result's column count exceeds a positive ColumnSelectionThreshold, so the
// toggle does not bypass the threshold.
func (m *ColumnMemory) SetForced(v bool) { m.mu.Lock(); m.forced = v; m.mu.Unlock() }
func (m *ColumnMemory) Forced() bool     { m.mu.Lock(); defer m.mu.Unlock(); return m.forced }
