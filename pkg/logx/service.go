package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./l9alerts.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig forwards records at or above MinLevel to an operator chat.
type ChatConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerMin int
}

// Sink delivers a formatted line to an operator chat. It must not log
// through the Service feeding it.
type Sink interface {
	SendLog(ctx context.Context, text string) error
}

// Service owns the live outputs.
type Service struct {
	current atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	chat *chatForwarder
}

// New applies cfg and returns the Service with its root Logger. sink may be
// nil until a transport exists; see SetSink.
func New(cfg Config, sink Sink) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{chat: newChatForwarder(sink)}
	s.Apply(cfg)
	return s, Logger{src: s}
}

func (s *Service) zl() zerolog.Logger {
	if l := s.current.Load(); l != nil {
		return *l
	}
	return zerolog.Nop()
}

func (s *Service) SetSink(sink Sink) { s.chat.setSink(sink) }

// Apply rebuilds the outputs. With nothing enabled the console is used.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, console(os.Stdout))
	}
	if old := s.file; old != nil {
		s.file = nil
		defer old.Close()
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}
	s.chat.configure(cfg.Chat)
	if cfg.Chat.Enabled {
		outs = append(outs, s.chat)
	}
	if len(outs) == 0 {
		outs = append(outs, console(os.Stdout))
	}

	l := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.current.Store(&l)
}

// Close stops chat forwarding and closes the log file.
func (s *Service) Close() error {
	s.chat.close()
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

func console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
}
