package tunnel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PatternList is the parsed form of the [ssh_tunnel_patterns] config
// section: host regex -> "[user@]host[:port]" SSH target, first match wins,
// insertion order preserved (see the design notes).
type PatternList struct {
	compiled []compiledPattern
}

type compiledPattern struct {
	re     *regexp.Regexp
	target string
}

// Compile builds a PatternList from the ordered (regex, target) pairs as
// read from config, failing closed on the first invalid regex so a typo in
// one pattern doesn't silently disable tunneling for every host.
func Compile(patterns [][2]string) (*PatternList, error) {
	pl := &PatternList{}
	for _, p := range patterns {
		re, err := regexp.Compile(p[0])
		if err != nil {
			return nil, fmt.Errorf("invalid ssh_tunnel_patterns entry %q: %w", p[0], err)
		}
		pl.compiled = append(pl.compiled, compiledPattern{re: re, target: p[1]})
	}
	return pl, nil
}

// Match returns the SSH target string for the first pattern matching host,
// normalized per the Open Question resolution recorded in DESIGN.md
// (lowercased, trailing dot stripped), or ok=false if none match.
func (pl *PatternList) Match(host string) (target string, ok bool) {
	canonical := strings.ToLower(strings.TrimSuffix(host, "."))
	for _, cp := range pl.compiled {
		if cp.re.MatchString(canonical) {
			return cp.target, true
		}
	}
	return "", false
}

// Target is a parsed "[user@]host[:port]" SSH target specification.
type Target struct {
	User string
	Host string
	Port string
}

// ParseTarget parses spec's documented SSH target grammar, defaulting Port
// to "22" when unspecified.
func ParseTarget(spec string) (Target, error) {
	t := Target{Port: "22"}
	rest := spec
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		t.User = rest[:i]
		rest = rest[i+1:]
	}
	if i := strings.LastIndexByte(rest, ':'); i >= 0 {
		host, portStr := rest[:i], rest[i+1:]
		if _, err := strconv.Atoi(portStr); err == nil {
			t.Host, t.Port = host, portStr
		} else {
			t.Host = rest
		}
	} else {
		t.Host = rest
	}
	if t.Host == "" {
		return Target{}, fmt.Errorf("empty ssh target host in %q", spec)
	}
	return t, nil
}
