package logx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level   string
	Console bool
	// JSON switches the console sink from pretty text to JSON lines, which
	// suits journald.
	JSON bool
	File FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
	Rotate  RotateConfig
}

// RotateConfig enables size-based rotation of the file sink.
// Zero limits fall back to 10 MB, 1 backup and 7 days.
type RotateConfig struct {
	Enabled    bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultFilePath = "./framesched.log"
)

var setGlobals sync.Once

// Service owns the sinks and swaps them on Apply. Loggers derived from it
// pick up the new sinks and level immediately.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file io.Closer

	root atomic.Pointer[zerolog.Logger]
}

// New builds the service from cfg and returns it with its root Logger. A
// file sink that cannot be opened is reported on stderr and skipped; use
// Apply to get the error.
func New(cfg Config) (*Service, Logger) {
	setGlobals.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = timeFormat
	})
	s := &Service{}
	if err := s.Apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "logx: %v\n", err)
	}
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() *zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return zl
	}
	return &nopLogger
}

// Config returns the last applied config.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply replaces sinks and level. When the file sink fails the other sinks
// still apply (console as a last resort) and the error is returned.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleSink(cfg.JSON))
	}

	var file io.WriteCloser
	var fileErr error
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultFilePath
		}
		if file, fileErr = openFileSink(path, cfg.File.Rotate); fileErr != nil {
			fileErr = fmt.Errorf("open log file %q: %w", path, fileErr)
		} else {
			sinks = append(sinks, zerolog.SyncWriter(file))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleSink(cfg.JSON))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(ParseLevel(cfg.Level)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	// Close after the swap so new events never see the old file.
	old := s.file
	s.file = file
	s.cfg = cfg
	if old != nil {
		_ = old.Close()
	}
	return fileErr
}

// Close releases the file sink. Later events go to the console only.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	zl := zerolog.New(consoleSink(s.cfg.JSON)).Level(ParseLevel(s.cfg.Level)).With().Timestamp().Logger()
	s.root.Store(&zl)
	err := s.file.Close()
	s.file = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func consoleSink(json bool) io.Writer {
	if json {
		return os.Stdout
	}
	return zerolog.ConsoleWriter{
		Out:          os.Stdout,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

func openFileSink(path string, rc RotateConfig) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if !rc.Enabled {
		return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    max(rc.MaxSizeMB, 10),
		MaxBackups: max(rc.MaxBackups, 1),
		MaxAge:     max(rc.MaxAgeDays, 7),
		Compress:   rc.Compress,
	}, nil
}
