package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dbcrust/dbcrust/internal/backenderr"
	"github.com/dbcrust/dbcrust/internal/config"
	"github.com/dbcrust/dbcrust/internal/docker"
)

// SessionManager owns the saved_sessions registry and the recent.toml
// history file, implementing resolver.SessionStore and backing the
// \ss/\s/\sd/\r/\rc meta-commands.
type SessionManager struct {
	mu     sync.Mutex
	cfg    *config.Config
	recent config.RecentFile

	in       *bufio.Reader
	out      io.Writer
	noPrompt bool
}

func NewSessionManager(cfg *config.Config, recent config.RecentFile, out io.Writer, noPrompt bool) *SessionManager {
	return &SessionManager{cfg: cfg, recent: recent, in: bufio.NewReader(os.Stdin), out: out, noPrompt: noPrompt}
}

// Lookup implements resolver.SessionStore.
func (m *SessionManager) Lookup(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cfg.SavedSessions[name]
	if !ok {
		return "", false
	}
	return s.URL, true
}

// Save persists url under name, backing \ss.
func (m *SessionManager) Save(name, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.SavedSessions == nil {
		m.cfg.SavedSessions = map[string]config.SavedSession{}
	}
	m.cfg.SavedSessions[name] = config.SavedSession{URL: url}
	return config.Save(*m.cfg)
}

// Delete removes name, backing \sd.
func (m *SessionManager) Delete(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cfg.SavedSessions[name]; !ok {
		return false, nil
	}
	delete(m.cfg.SavedSessions, name)
	return true, config.Save(*m.cfg)
}

// List returns every saved session as a name -> URL map (map iteration is
// unordered; callers that need a stable order sort the names themselves).
func (m *SessionManager) List() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.cfg.SavedSessions))
	for name, s := range m.cfg.SavedSessions {
		out[name] = s.URL
	}
	return out
}

// RecordRecent prepends displayURL to the recent-connection history,
// deduplicating and trimming per the [history] section, and persists it
// immediately since this requires recent.toml writes to be serialized
// and authoritative.
func (m *SessionManager) RecordRecent(displayURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = config.RecordRecent(m.recent, displayURL, m.cfg.History.MaxRecentConnections, m.cfg.History.Deduplicate)
	return config.SaveRecent(m.recent)
}

// Recent returns the recent-connection list, most-recent first.
func (m *SessionManager) Recent() []config.RecentConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]config.RecentConnection, len(m.recent.Connections))
	copy(out, m.recent.Connections)
	return out
}

// ClearRecent empties the recent-connection history, backing \rc.
func (m *SessionManager) ClearRecent() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = config.RecentFile{}
	return config.SaveRecent(m.recent)
}

// PickSaved implements resolver.SessionStore: an interactive numbered picker
// over every saved session, used when `session://` is given with no name.
func (m *SessionManager) PickSaved(ctx context.Context) (string, bool, error) {
	names := m.List()
	if len(names) == 0 {
		return "", false, nil
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	return m.pick(ordered, func(i int) string { return names[ordered[i]] })
}

// PickRecent implements resolver.SessionStore: an interactive numbered
// picker over recent connections, used by a bare `recent://` or an omitted
// URL on the command line.
func (m *SessionManager) PickRecent(ctx context.Context) (string, bool, error) {
	entries := m.Recent()
	if len(entries) == 0 {
		return "", false, nil
	}
	labels := make([]string, len(entries))
	for i, e := range entries {
		labels[i] = e.URL
	}
	return m.pick(labels, func(i int) string { return entries[i].URL })
}

func (m *SessionManager) pick(labels []string, resolve func(i int) string) (string, bool, error) {
	idx, ok, err := m.pickIndex("Select connection: ", labels)
	if err != nil || !ok {
		return "", ok, err
	}
	return resolve(idx), true, nil
}

// PickContainer implements resolver.ContainerPicker: an interactive numbered
// picker over discovered database containers, used when `docker://` is
// given with no container name and more than one candidate is found.
func (m *SessionManager) PickContainer(ctx context.Context, candidates []docker.Candidate) (docker.Candidate, bool, error) {
	labels := make([]string, len(candidates))
	for i, c := range candidates {
		labels[i] = fmt.Sprintf("%s (%s, %s:%s)", c.Name, c.Kind, c.Host, c.Port)
	}
	idx, ok, err := m.pickIndex("Select container: ", labels)
	if err != nil || !ok {
		return docker.Candidate{}, ok, err
	}
	return candidates[idx], true, nil
}

func (m *SessionManager) pickIndex(prompt string, labels []string) (int, bool, error) {
	if m.noPrompt {
		return 0, false, backenderr.Configurationf(nil, "no selection given and stdin is not interactive")
	}
	for i, l := range labels {
		fmt.Fprintf(m.out, "  %2d: %s\n", i+1, l)
	}
	fmt.Fprint(m.out, prompt)
	line, _ := m.in.ReadString('\n')
	line = strings.TrimSpace(line)
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(labels) {
		return 0, false, nil
	}
	return n - 1, true, nil
}
