package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"
	"unicode"

	"golang.org/x/term"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiGray   = "\033[90m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

// PrettyHandler is a slog.Handler for terminals. A record renders as
//
//	15:04:05.000 INF message key=value group.key=value
//
// Durations are rounded to microseconds and floats keep four significant
// digits so per-round decode logs stay on one line.
type PrettyHandler struct {
	level   slog.Leveler
	noColor bool

	mu *sync.Mutex
	w  io.Writer

	// prefix holds attributes added with WithAttrs, already rendered.
	prefix []byte
	group  string
}

// NewPrettyHandler creates a PrettyHandler. A nil opts logs Info and above.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	h := &PrettyHandler{level: slog.LevelInfo, mu: &sync.Mutex{}, w: w}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

// WithoutColor disables ANSI escapes, for output that is not a terminal.
func (h *PrettyHandler) WithoutColor() *PrettyHandler {
	c := h.clone()
	c.noColor = true
	return c
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)

	buf = h.paint(buf, ansiGray, func(b []byte) []byte {
		return r.Time.AppendFormat(b, "15:04:05.000")
	})
	buf = append(buf, ' ')
	buf = h.paint(buf, levelColor(r.Level)+ansiBold, func(b []byte) []byte {
		return append(b, levelTag(r.Level)...)
	})
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	buf = append(buf, h.prefix...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.group, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := h.clone()
	for _, a := range attrs {
		c.prefix = c.appendAttr(c.prefix, c.group, a)
	}
	return c
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.group = joinKey(h.group, name)
	return c
}

func (h *PrettyHandler) clone() *PrettyHandler {
	c := *h
	c.prefix = append([]byte(nil), h.prefix...)
	return &c
}

func (h *PrettyHandler) paint(buf []byte, color string, body func([]byte) []byte) []byte {
	if h.noColor {
		return body(buf)
	}
	buf = append(buf, color...)
	buf = body(buf)
	return append(buf, ansiReset...)
}

// appendAttr renders a as " key=value". Groups flatten into dotted keys.
func (h *PrettyHandler) appendAttr(buf []byte, group string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		g := group
		if a.Key != "" {
			g = joinKey(group, a.Key)
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, g, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = h.paint(buf, ansiCyan, func(b []byte) []byte {
		return append(b, joinKey(group, a.Key)...)
	})
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendString(buf, v.String())
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'g', 4, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().Round(time.Microsecond).String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	default:
		if err, ok := v.Any().(error); ok {
			return appendString(buf, err.Error())
		}
		return appendString(buf, fmt.Sprint(v.Any()))
	}
}

func appendString(buf []byte, s string) []byte {
	if needsQuoting(s) {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if unicode.IsSpace(r) || r == '"' || r == '=' || !unicode.IsPrint(r) {
			return true
		}
	}
	return false
}

func joinKey(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERR"
	case level >= slog.LevelWarn:
		return "WRN"
	case level >= slog.LevelInfo:
		return "INF"
	default:
		return "DBG"
	}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiYellow
	case level >= slog.LevelInfo:
		return ansiBlue
	default:
		return ansiGray
	}
}

// colorEnabled reports whether output to w should carry ANSI escapes: only
// terminals, and never when NO_COLOR is set.
func colorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
