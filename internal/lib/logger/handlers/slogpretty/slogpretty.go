package slogpretty

import (
	"context"
	"encoding/json"
	"io"
	stdLog "log"
	"log/slog"

	"github.com/fatih/color"
)

type PrettyHandlerOptions struct {
	SlogOpts *slog.HandlerOptions
}

type PrettyHandler struct {
	slog.Handler
	l      *stdLog.Logger
	attrs  []groupedAttr
	groups []string
}

// groupedAttr remembers the groups that were open when the attribute
// was added with WithAttrs.
type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

func (opts PrettyHandlerOptions) NewPrettyHandler(out io.Writer) *PrettyHandler {
	return &PrettyHandler{
		Handler: slog.NewJSONHandler(out, opts.SlogOpts),
		l:       stdLog.New(out, "", 0),
	}
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String() + ":"

	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	}

	fields := make(map[string]interface{}, r.NumAttrs()+len(h.attrs))

	for _, ga := range h.attrs {
		putAttr(fields, ga.groups, ga.attr)
	}

	r.Attrs(func(a slog.Attr) bool {
		putAttr(fields, h.groups, a)
		return true
	})

	var b []byte
	var err error

	if len(fields) > 0 {
		b, err = json.MarshalIndent(fields, "", "  ")
		if err != nil {
			return err
		}
	}

	timeStr := r.Time.Format("[15:04:05.000]")
	msg := color.CyanString(r.Message)

	h.l.Println(
		timeStr,
		level,
		msg,
		color.WhiteString(string(b)),
	)

	return nil
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append([]groupedAttr{}, h.attrs...)
	for _, a := range attrs {
		merged = append(merged, groupedAttr{groups: h.groups, attr: a})
	}

	return &PrettyHandler{
		Handler: h.Handler.WithAttrs(attrs),
		l:       h.l,
		attrs:   merged,
		groups:  h.groups,
	}
}

// WithGroup nests the attributes added afterwards under name.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	return &PrettyHandler{
		Handler: h.Handler.WithGroup(name),
		l:       h.l,
		attrs:   h.attrs,
		groups:  append(append([]string{}, h.groups...), name),
	}
}

func putAttr(fields map[string]interface{}, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	for _, g := range groups {
		nested, ok := fields[g].(map[string]interface{})
		if !ok {
			nested = make(map[string]interface{})
			fields[g] = nested
		}
		fields = nested
	}

	if a.Value.Kind() != slog.KindGroup {
		fields[a.Key] = a.Value.Any()
		return
	}

	// Inline groups with an empty key, as slog's own handlers do.
	var path []string
	if a.Key != "" {
		path = []string{a.Key}
	}
	for _, member := range a.Value.Group() {
		putAttr(fields, path, member)
	}
}
