package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"l9alerts/internal/event"
	logx "l9alerts/pkg/logx"
)

const defaultFilePath = "./data/l9alerts.json"

// fileStore is the default store. For cfg.Path "dir/name.json" it writes
//
//	dir/name.state.json    events and settings, rewritten on each save
//	dir/name.audit.jsonl   audit entries, appended
//	dir/name.dedup.*       see dedupLog
type fileStore struct {
	log logx.Logger

	mu      sync.Mutex
	path    string
	doc     stateDoc
	saved   bool // events were saved at least once
	audit   *os.File
	dedup   *dedupLog
	stopped bool
}

type stateDoc struct {
	Events   []event.Definition `json:"events,omitempty"`
	Settings Settings           `json:"settings"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultFilePath
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	stem := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

	s := &fileStore{log: log, path: stem + ".state.json"}
	if err := s.read(); err != nil {
		return nil, err
	}
	audit, err := os.OpenFile(stem+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	dedup, err := openDedupLog(stem, time.Now())
	if err != nil {
		audit.Close()
		return nil, err
	}
	s.audit, s.dedup = audit, dedup
	return s, nil
}

func (s *fileStore) read() error {
	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	}
	if err := json.Unmarshal(b, &s.doc); err != nil {
		return fmt.Errorf("storage: %s is corrupt: %w", s.path, err)
	}
	s.saved = s.doc.Events != nil
	return nil
}

// commitLocked writes doc to a temp file and renames it into place, then
// adopts it.
func (s *fileStore) commitLocked(doc stateDoc) error {
	if s.stopped {
		return ErrClosed
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := writeReplace(s.path, b); err != nil {
		return err
	}
	s.doc = doc
	return nil
}

func writeReplace(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) LoadEvents(context.Context) ([]event.Definition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.saved {
		return nil, false, nil
	}
	return append([]event.Definition(nil), s.doc.Events...), true, nil
}

func (s *fileStore) SaveEvents(_ context.Context, evs []event.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.doc
	doc.Events = append(make([]event.Definition, 0, len(evs)), evs...)
	if err := s.commitLocked(doc); err != nil {
		return err
	}
	s.saved = true
	return nil
}

func (s *fileStore) LoadSettings(context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Settings, nil
}

func (s *fileStore) SaveSettings(_ context.Context, st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.doc
	doc.Settings = st
	return s.commitLocked(doc)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrClosed
	}
	_, err = s.audit.Write(append(line, '\n'))
	return err
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key = strings.TrimSpace(key); key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrClosed
	}
	compacted, err := s.dedup.put(key, until)
	if compacted != nil {
		s.log.Debug("dedup compaction failed", logx.Err(compacted))
	}
	return err
}

func (s *fileStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.dedup.get(strings.TrimSpace(key))
	return until, ok, nil
}

func (s *fileStore) PruneDedup(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0, ErrClosed
	}
	return s.dedup.prune(now)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	return errors.Join(s.audit.Close(), s.dedup.close())
}
