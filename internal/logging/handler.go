// Package logging provides the slog handler used by the daemon.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

var severityMap = map[slog.Level]journal.Priority{
	slog.LevelDebug: journal.PriDebug,
	slog.LevelInfo:  journal.PriInfo,
	slog.LevelWarn:  journal.PriWarning,
	slog.LevelError: journal.PriErr,
}

// Handler writes compact single line records and mirrors them to the journal when available.
type Handler struct {
	mu *sync.Mutex
	w  io.Writer

	level      slog.Leveler
	identifier string
	toJournal  bool

	attrs []slog.Attr
	group string
}

// NewHandler returns a Handler writing to out. Records are also sent to journald, tagged
// with identifier, if the journal socket is reachable.
func NewHandler(out io.Writer, level slog.Leveler, identifier string) *Handler {
	return &Handler{
		mu:         &sync.Mutex{},
		w:          out,
		level:      level,
		identifier: identifier,
		toJournal:  journal.Enabled(),
	}
}

// ParseLevel converts a configuration level name to a slog level.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// WithAttrs returns a handler with the extra attributes attached to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), h.qualify(attrs)...)

	return &clone
}

// WithGroup returns a handler that prefixes subsequent attribute keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	clone := *h
	if clone.group != "" {
		clone.group += "."
	}

	clone.group += name

	return &clone
}

func (h *Handler) qualify(attrs []slog.Attr) []slog.Attr {
	if h.group == "" {
		return attrs
	}

	ret := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		ret = append(ret, slog.Attr{Key: h.group + "." + a.Key, Value: a.Value})
	}

	return ret
}

// Handle formats the record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]string, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.String()
	}

	recordAttrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		recordAttrs = append(recordAttrs, a)

		return true
	})

	for _, a := range h.qualify(recordAttrs) {
		attrs[a.Key] = a.Value.String()
	}

	// Sort the keys so we have a consistent output.
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var buf strings.Builder

	if !r.Time.IsZero() {
		buf.WriteString(r.Time.Format(time.DateTime) + " ")
	}

	buf.WriteString(r.Level.String() + " " + r.Message)

	for _, k := range keys {
		buf.WriteString(" " + k + "=" + attrs[k])
	}

	buf.WriteString("\n")

	h.mu.Lock()
	_, err := io.WriteString(h.w, buf.String())
	h.mu.Unlock()

	if err != nil {
		return err
	}

	if h.toJournal {
		return journal.Send(r.Message, priority(r.Level), journalFields(h.identifier, attrs))
	}

	return nil
}

func priority(level slog.Level) journal.Priority {
	pri, ok := severityMap[level]
	if ok {
		return pri
	}

	if level > slog.LevelError {
		return journal.PriCrit
	}

	return journal.PriInfo
}

// journalFields converts attribute keys into valid journal field names.
func journalFields(identifier string, attrs map[string]string) map[string]string {
	ret := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		ret[journalKey(k)] = v
	}

	if identifier != "" {
		ret["SYSLOG_IDENTIFIER"] = identifier
	}

	return ret
}

func journalKey(key string) string {
	key = strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'a' && r <= 'z':
			return r - 32
		default:
			return '_'
		}
	}, key)

	key = strings.TrimLeft(key, "_")
	if key == "" {
		return "FIELD"
	}

	if key[0] >= '0' && key[0] <= '9' {
		return fmt.Sprintf("F_%s", key)
	}

	return key
}
