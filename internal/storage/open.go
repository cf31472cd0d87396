package storage

import (
	"fmt"
	"strings"

	logx "l9alerts/pkg/logx"
)

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	"":        openFile,
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
	"redis":   openRedis,
	"memory":  func(Config, logx.Logger) (Store, error) { return NewMemory(), nil },
	"none":    func(Config, logx.Logger) (Store, error) { return NewMemory(), nil },
}

// Open returns the store named by cfg.Driver; blank selects "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.String("comp", "storage"), logx.String("driver", name)))
}
