package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// elementCount counts the immediate+nested scalar leaves of a decoded
// JSON-ish value (map[string]any / []any / scalar), used to decide
// auto-downgrade per the ("element count of a value").
func elementCount(v any) int {
	switch t := v.(type) {
	case map[string]any:
		n := len(t)
		for _, child := range t {
			n += elementCount(child)
		}
		return n
	case []any:
		n := len(t)
		for _, child := range t {
			n += elementCount(child)
		}
		return n
	default:
		return 0
	}
}

// FormatComplex renders a JSON/document/array cell value under cfg's
// configured mode, auto-downgrading per effectiveMode.
func FormatComplex(v any, cfg Config) string {
	count := elementCount(v)
	mode := effectiveMode(cfg.ComplexDisplayMode, count, cfg.SizeThreshold)
	switch mode {
	case ModeFull:
		return formatFull(v)
	case ModeTruncated:
		return formatTruncated(v, cfg.TruncationLength)
	case ModeSummary:
		return formatSummary(v)
	case ModeViz:
		return formatViz(v, 0)
	default:
		return formatTruncated(v, cfg.TruncationLength)
	}
}

func formatFull(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func formatTruncated(v any, length int) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	s := string(b)
	total := elementCount(v)
	if len(s) <= length {
		return s
	}
	return fmt.Sprintf("%s… (%d elements)", s[:length], total)
}

func formatSummary(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		preview := keys
		if len(preview) > 3 {
			preview = preview[:3]
		}
		return fmt.Sprintf("object{%d fields: %s%s}", len(t), strings.Join(preview, ", "), ellipsisIfMore(len(keys), 3))
	case []any:
		return fmt.Sprintf("array[%d elements]", len(t))
	default:
		return fmt.Sprintf("%v", v)
	}
}

func ellipsisIfMore(total, shown int) string {
	if total > shown {
		return ", …"
	}
	return ""
}

// formatViz draws a small ASCII block diagram of the value's nesting
// structure, indenting one level per nesting depth.
func formatViz(v any, depth int) string {
	indent := strings.Repeat("  ", depth)
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		fmt.Fprintf(&b, "%s┌ object (%d)\n", indent, len(t))
		for _, k := range keys {
			fmt.Fprintf(&b, "%s├─ %s: %s\n", indent, k, strings.TrimSpace(formatViz(t[k], depth+1)))
		}
		return strings.TrimRight(b.String(), "\n")
	case []any:
		var b strings.Builder
		fmt.Fprintf(&b, "%s┌ array (%d)\n", indent, len(t))
		limit := len(t)
		if limit > 5 {
			limit = 5
		}
		for i := 0; i < limit; i++ {
			fmt.Fprintf(&b, "%s├─ [%d]: %s\n", indent, i, strings.TrimSpace(formatViz(t[i], depth+1)))
		}
		if len(t) > limit {
			fmt.Fprintf(&b, "%s└─ … %d more\n", indent, len(t)-limit)
		}
		return strings.TrimRight(b.String(), "\n")
	default:
		return fmt.Sprintf("%v", t)
	}
}
