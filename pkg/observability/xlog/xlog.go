package xlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// 轮转默认值。
const (
	DefaultMaxSizeMB  = 500
	DefaultMaxBackups = 7
	DefaultMaxAgeDays = 30
)

// 输出格式。
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ErrUnknownFormat 表示不支持的输出格式。
var ErrUnknownFormat = errors.New("xlog: unknown format")

// Config 描述日志输出。
type Config struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`

	// File 非空时写入该文件并按大小轮转，否则写入 Output。
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`

	// Output 未写文件时的输出目标，默认 os.Stderr。
	Output io.Writer `koanf:"-"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New 根据配置构建 Logger。返回的 Closer 在进程退出前关闭日志文件。
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = cfg.Output
		closer io.Closer = nopCloser{}
	)
	if w == nil {
		w = os.Stderr
	}
	if cfg.File != "" {
		lj, err := newRotator(cfg)
		if err != nil {
			return nil, nil, err
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	case FormatText:
		h = slog.NewTextHandler(w, opts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFormat, cfg.Format)
	}
	return slog.New(h), closer, nil
}

func newRotator(cfg Config) (*lumberjack.Logger, error) {
	path := filepath.Clean(cfg.File)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("xlog: create log directory: %w", err)
	}
	orDefault := func(v, def int) int {
		if v > 0 {
			return v
		}
		return def
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    orDefault(cfg.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: orDefault(cfg.MaxBackups, DefaultMaxBackups),
		MaxAge:     orDefault(cfg.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}
