// Package logging provides a colorized single-line slog.Handler for
// the leecher CLI.
package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Options configures a PrettyHandler.
type Options struct {
	Level      slog.Leveler
	UseColor   bool
	TimeFormat string
}

func defaultOptions() Options {
	return Options{
		Level:      slog.LevelInfo,
		UseColor:   true,
		TimeFormat: time.TimeOnly,
	}
}

// PrettyHandler renders log records as a single colorized line:
// time | LEVEL | message | {json attrs}.
type PrettyHandler struct {
	opts   Options
	writer io.Writer
	mu     *sync.Mutex
	attrs  []slog.Attr
	groups []string

	colorTime    func(...any) string
	colorLevel   map[slog.Level]func(...any) string
	colorMessage func(...any) string
	colorFields  func(...any) string
}

// NewPrettyHandler returns a handler writing to w. A nil opts uses
// info level, color enabled, and a time-only timestamp.
func NewPrettyHandler(w io.Writer, opts *Options) *PrettyHandler {
	o := defaultOptions()
	if opts != nil {
		o = *opts
		if o.TimeFormat == "" {
			o.TimeFormat = time.TimeOnly
		}
		if o.Level == nil {
			o.Level = slog.LevelInfo
		}
	}

	h := &PrettyHandler{
		opts:   o,
		writer: w,
		mu:     &sync.Mutex{},
	}
	h.initColors()
	return h
}

func (h *PrettyHandler) initColors() {
	if !h.opts.UseColor {
		plain := func(a ...any) string { return fmt.Sprint(a...) }
		h.colorTime, h.colorMessage, h.colorFields = plain, plain, plain
		h.colorLevel = map[slog.Level]func(...any) string{
			slog.LevelDebug: plain, slog.LevelInfo: plain,
			slog.LevelWarn: plain, slog.LevelError: plain,
		}
		return
	}

	h.colorTime = color.New(color.FgHiBlack).SprintFunc()
	h.colorMessage = color.New(color.FgCyan).SprintFunc()
	h.colorFields = color.New(color.FgWhite).SprintFunc()
	h.colorLevel = map[slog.Level]func(...any) string{
		slog.LevelDebug: color.New(color.FgMagenta).SprintFunc(),
		slog.LevelInfo:  color.New(color.FgBlue).SprintFunc(),
		slog.LevelWarn:  color.New(color.FgYellow).SprintFunc(),
		slog.LevelError: color.New(color.FgRed, color.Bold).SprintFunc(),
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	h.mu.Lock()
	defer h.mu.Unlock()

	buf.WriteString(h.colorTime(r.Time.Format(h.opts.TimeFormat)))
	buf.WriteString(" | ")

	level := strings.ToUpper(r.Level.String())
	level = fmt.Sprintf("%-5s", level)
	if fn, ok := h.colorLevel[r.Level]; ok {
		buf.WriteString(fn(level))
	} else {
		buf.WriteString(level)
	}
	buf.WriteString(" | ")

	buf.WriteString(h.colorMessage(r.Message))

	fields := h.collectFields(r)
	if len(fields) > 0 {
		buf.WriteString(" | ")
		enc, err := json.Marshal(fields)
		if err != nil {
			buf.WriteString(fmt.Sprintf("(attr encode error: %v)", err))
		} else {
			buf.WriteString(h.colorFields(string(enc)))
		}
	}

	buf.WriteByte('\n')
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	n := *h
	n.mu = &sync.Mutex{}
	n.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &n
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	n := *h
	n.mu = &sync.Mutex{}
	n.groups = append(append([]string(nil), h.groups...), name)
	return &n
}

func (h *PrettyHandler) collectFields(r slog.Record) map[string]any {
	out := make(map[string]any)
	target := out
	for _, g := range h.groups {
		nested := make(map[string]any)
		target[g] = nested
		target = nested
	}
	for _, a := range h.attrs {
		target[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		target[a.Key] = a.Value.Any()
		return true
	})
	return out
}
