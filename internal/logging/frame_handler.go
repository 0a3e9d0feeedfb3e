package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SendFunc delivers one rendered log line to the master. The worker
// wires this to its log= frame writer.
type SendFunc func(line string)

// FrameHandler is a slog.Handler that renders records as single text
// lines and hands them to a SendFunc. It exists so the same slog call
// sites can feed both stderr and the control socket.
//
// The handler runs on the event-loop goroutine only, like every other
// writer of the master socket, so it carries no locking.
type FrameHandler struct {
	level slog.Level
	send  SendFunc
	attrs []slog.Attr
	group string
}

// NewFrameHandler creates a handler that forwards records at or above
// level.
func NewFrameHandler(send SendFunc, level slog.Level) *FrameHandler {
	return &FrameHandler{level: level, send: send}
}

// Enabled implements slog.Handler.
func (h *FrameHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle renders the record as "msg key=value ..." and sends it.
func (h *FrameHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Message)

	// Attrs bound via WithAttrs were qualified when they were added;
	// only the record's own attrs take the current group prefix.
	for _, a := range h.attrs {
		writeAttr(&sb, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&sb, h.group, a)
		return true
	})

	h.send(sb.String())
	return nil
}

// WithAttrs implements slog.Handler.
func (h *FrameHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func writeAttr(sb *strings.Builder, group string, a slog.Attr) {
	sb.WriteByte(' ')
	if group != "" {
		sb.WriteString(group)
		sb.WriteByte('.')
	}
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	sb.WriteString(fmt.Sprint(a.Value.Resolve().Any()))
}

// WithGroup implements slog.Handler.
func (h *FrameHandler) WithGroup(name string) slog.Handler {
	nh := *h
	if nh.group != "" {
		nh.group += "." + name
	} else {
		nh.group = name
	}
	return &nh
}
