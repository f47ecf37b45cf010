// Package logger sets up the three log streams: the app log (all
// levels, stdout plus app.log), the trades log (structured order and
// fill records), and the errors log (ERROR and above). Built on
// log/slog; JSON or plain text per configuration.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config controls log destinations and formats.
type Config struct {
	Level      string // DEBUG, INFO, WARNING, ERROR
	Dir        string // log file directory; empty disables file output
	JSONFormat bool
}

// Loggers bundles the three streams.
type Loggers struct {
	App   *slog.Logger // everything, at the configured level
	Trade *slog.Logger // order and fill records
	Error *slog.Logger // ERROR+ mirror, also fed by App

	files []*os.File
}

// ParseLevel maps a config string onto a slog level. Unknown strings
// mean INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init opens the log files and builds the streams. The app logger is
// installed as the slog default.
func Init(cfg Config) (*Loggers, error) {
	level := ParseLevel(cfg.Level)
	l := &Loggers{}

	appWriter := io.Writer(os.Stdout)
	tradeWriter := io.Writer(os.Stdout)
	var errFile *os.File

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("log dir: %w", err)
		}
		appFile, err := openLog(cfg.Dir, "app.log")
		if err != nil {
			return nil, err
		}
		tradeFile, err := openLog(cfg.Dir, "trades.log")
		if err != nil {
			appFile.Close()
			return nil, err
		}
		errFile, err = openLog(cfg.Dir, "errors.log")
		if err != nil {
			appFile.Close()
			tradeFile.Close()
			return nil, err
		}
		l.files = append(l.files, appFile, tradeFile, errFile)
		appWriter = io.MultiWriter(os.Stdout, appFile)
		tradeWriter = tradeFile
	}

	handlers := []slog.Handler{newHandler(appWriter, level, cfg.JSONFormat)}
	if errFile != nil {
		handlers = append(handlers, newHandler(errFile, slog.LevelError, cfg.JSONFormat))
	}
	l.App = slog.New(&teeHandler{handlers: handlers})
	slog.SetDefault(l.App)

	// Trades are always structured JSON so they stay machine-parseable.
	l.Trade = slog.New(slog.NewJSONHandler(tradeWriter, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if errFile != nil {
		l.Error = slog.New(newHandler(io.MultiWriter(os.Stderr, errFile), slog.LevelError, cfg.JSONFormat))
	} else {
		l.Error = slog.New(newHandler(os.Stderr, slog.LevelError, cfg.JSONFormat))
	}
	return l, nil
}

// Close closes the log files.
func (l *Loggers) Close() {
	for _, f := range l.files {
		f.Close()
	}
}

func openLog(dir, name string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

func newHandler(w io.Writer, level slog.Level, jsonFormat bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// teeHandler fans one record out to several handlers, each with its own
// level gate. Lets the app stream and the errors.log stream share a
// single logger.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: out}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		out[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: out}
}
