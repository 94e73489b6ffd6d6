// Package logging builds the process logger: console output plus an
// optional rotated log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	JSON       bool
}

// FileHook writes every entry to a rotated file with its own formatter.
type FileHook struct {
	formatter logrus.Formatter
	writer    io.Writer
}

func (h *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *FileHook) Fire(entry *logrus.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(b)
	return err
}

// Close closes the underlying file.
func (h *FileHook) Close() error {
	if c, ok := h.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// New returns a logger writing to console (stderr) and, when File is set,
// to a rotated file. The returned closer flushes the file and is never nil.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	if opts.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			PadLevelText:    true,
		})
	}

	// keep stray calls to the global logger quiet
	logrus.SetOutput(io.Discard)

	if opts.File == "" {
		return log, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	hook := &FileHook{
		writer: &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		},
		formatter: &logrus.JSONFormatter{},
	}
	log.AddHook(hook)
	return log, hook, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Nop returns a logger that discards everything.
func Nop() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
