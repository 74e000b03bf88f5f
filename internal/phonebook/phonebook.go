// Package phonebook resolves an inbound caller's phone number to a name and
// role (customer or teammate), loaded from a JSON file and hot-reloaded on
// change.
package phonebook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Entry is one phonebook record.
type Entry struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Role  string `json:"role"` // "customer" or "teammate"
}

// Phonebook is a phone -> Entry lookup, safe for concurrent reads while a
// watcher goroutine reloads it in the background.
type Phonebook struct {
	path    string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewEmpty returns a phonebook with no entries and no watcher, for use when
// no phonebook file is configured or it fails to load; every Lookup misses.
func NewEmpty(logger zerolog.Logger) *Phonebook {
	return &Phonebook{logger: logger, entries: make(map[string]Entry)}
}

// Load reads path once and, if possible, starts watching its directory for
// changes. A watcher that fails to start is logged and otherwise ignored —
// the phonebook still works, just without hot-reload.
func Load(path string, logger zerolog.Logger) (*Phonebook, error) {
	pb := &Phonebook{path: path, logger: logger, entries: make(map[string]Entry)}
	if err := pb.reload(); err != nil {
		return nil, err
	}
	if err := pb.watch(); err != nil {
		logger.Warn().Err(err).Msg("phonebook: hot-reload watcher unavailable")
	}
	return pb, nil
}

func (p *Phonebook) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("phonebook: read %s: %w", p.path, err)
	}

	var list []Entry
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("phonebook: parse %s: %w", p.path, err)
	}

	m := make(map[string]Entry, len(list))
	for _, e := range list {
		m[normalizePhone(e.Phone)] = e
	}

	p.mu.Lock()
	p.entries = m
	p.mu.Unlock()
	return nil
}

func (p *Phonebook) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(p.path)); err != nil {
		w.Close()
		return err
	}
	p.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(p.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := p.reload(); err != nil {
					p.logger.Warn().Err(err).Msg("phonebook: hot-reload failed")
				} else {
					p.logger.Info().Msg("phonebook: reloaded")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				p.logger.Warn().Err(err).Msg("phonebook: watcher error")
			}
		}
	}()
	return nil
}

// Lookup returns the entry for phone, if known.
func (p *Phonebook) Lookup(phone string) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[normalizePhone(phone)]
	return e, ok
}

func (p *Phonebook) Close() error {
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

func normalizePhone(s string) string {
	return strings.TrimSpace(s)
}
