package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

const syslogIdentifier = "servernode"

// JournalHandler is a slog.Handler that sends records to the systemd journal.
// Attributes become journal fields, so `journalctl SERVER_ID=alpha` selects
// every record about one server.
type JournalHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewJournalHandler creates a journal handler.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{level: level}
}

// Enabled reports whether the handler handles records at the given level.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle sends the record to the journal.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := journalFields(r, h.attrs, h.groups)
	priority := journalPriority(r.Level)

	if err := journal.Send(r.Message, priority, fields); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send to journal: %v\n", err)
		return err
	}
	return nil
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &JournalHandler{
		level:  h.level,
		attrs:  append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		groups: h.groups,
	}
}

// WithGroup returns a handler that prefixes later attribute keys with name.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &JournalHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: append(h.groups[:len(h.groups):len(h.groups)], name),
	}
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalFields flattens handler and record attributes into journal fields.
// Record attributes win over handler attributes with the same key.
func journalFields(r slog.Record, attrs []slog.Attr, groups []string) map[string]string {
	fields := map[string]string{
		"PRIORITY":          strconv.Itoa(int(journalPriority(r.Level))),
		"SYSLOG_IDENTIFIER": syslogIdentifier,
	}
	for _, a := range attrs {
		addJournalField(fields, groups, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addJournalField(fields, groups, a)
		return true
	})
	return fields
}

func addJournalField(fields map[string]string, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		nested := groups
		if a.Key != "" {
			nested = append(groups[:len(groups):len(groups)], a.Key)
		}
		for _, ga := range a.Value.Group() {
			addJournalField(fields, nested, ga)
		}
		return
	}

	key := journalFieldName(groups, a.Key)
	if key == "" {
		return
	}

	switch a.Value.Kind() {
	case slog.KindTime:
		fields[key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindFloat64:
		fields[key] = strconv.FormatFloat(a.Value.Float64(), 'f', -1, 64)
	default:
		fields[key] = a.Value.String()
	}
}

// journalFieldName builds an upper-case field name from the group path and
// key. Journal field names allow only A-Z, 0-9 and underscore and must not
// start with an underscore or a digit.
func journalFieldName(groups []string, key string) string {
	var b strings.Builder
	for _, part := range append(groups[:len(groups):len(groups)], key) {
		for _, c := range strings.ToUpper(part) {
			switch {
			case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
				b.WriteRune(c)
			default:
				b.WriteByte('_')
			}
		}
		b.WriteByte('_')
	}
	name := strings.TrimLeft(strings.TrimRight(b.String(), "_"), "_0123456789")
	if name == "MESSAGE" || name == "PRIORITY" || name == "SYSLOG_IDENTIFIER" {
		return "ATTR_" + name
	}
	return name
}

// IsJournalAvailable checks if the systemd journal socket is reachable.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
