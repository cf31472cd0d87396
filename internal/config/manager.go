package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sync"

	logx "l9alerts/pkg/logx"
)

var ErrTrailingData = errors.New("invalid config: trailing data")

// Validator rejects a parsed config before it is committed.
type Validator func(ctx context.Context, cfg *Config) error

// ConfigManager holds the committed config for one file and fans reloads
// out to subscribers.
type ConfigManager struct {
	path      string
	log       logx.Logger
	validator Validator

	mu   sync.RWMutex
	cfg  *Config
	sum  uint64
	subs map[chan *Config]struct{}

	// sendMu keeps Unsubscribe from closing a channel during publish.
	sendMu sync.Mutex
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop(), subs: map[chan *Config]struct{}{}}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs the check that Load and Watch run before a commit.
func (m *ConfigManager) SetValidator(fn Validator) { m.validator = fn }

// Parse reads the file without committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(m.path, data)
}

// ParseBytes decodes data strictly: unknown keys and a second document are
// errors. Names ending in .yaml or .yml are read as YAML.
func ParseBytes(name string, data []byte) (*Config, error) {
	base := filepath.Base(name)
	if isYAML(name) {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", base, err)
		}
		data = converted
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", base, err)
	}
	switch err := dec.Decode(new(json.RawMessage)); {
	case err == io.EOF:
		return cfg, nil
	case err == nil:
		return nil, ErrTrailingData
	default:
		return nil, fmt.Errorf("%s: %w", base, err)
	}
}

// Commit makes cfg current without notifying subscribers.
func (m *ConfigManager) Commit(cfg *Config) {
	sum := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
}

// Load parses, validates and commits the file.
func (m *ConfigManager) Load(ctx context.Context) (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if v := m.validator; v != nil {
		if err := v(ctx, cfg); err != nil {
			return nil, err
		}
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel that receives each committed reload.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.sendMu.Lock()
	m.subs[ch] = struct{}{}
	m.sendMu.Unlock()
	return ch
}

// Unsubscribe closes ch. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// publish never blocks. A subscriber that is behind loses its oldest
// pending config to the newest.
func (m *ConfigManager) publish(cfg *Config) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	for ch := range m.subs {
		if offer(ch, cfg) {
			continue
		}
		select {
		case <-ch:
		default:
		}
		offer(ch, cfg)
	}
}

func offer(ch chan *Config, cfg *Config) bool {
	select {
	case ch <- cfg:
		return true
	default:
		return false
	}
}

// fingerprint is 0 when cfg cannot be encoded, and 0 never counts as a match.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// changed reports whether cfg differs from the committed config.
func (m *ConfigManager) changed(cfg *Config) (uint64, bool) {
	sum := fingerprint(cfg)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sum, sum == 0 || sum != m.sum
}
