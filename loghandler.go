package agentzero

import (
	"context"
	"log/slog"
)

// PubHandler is a slog.Handler that republishes log records as pub/sub
// events through a manager's publish path, so any subscriber on the
// configured topic can tail a process's logs. Each record becomes a
// payload of the form {"msg": ..., "args": {...}, "level": ...}.
type PubHandler struct {
	manager *SocketManager
	socket  string
	topic   string
	level   slog.Leveler
	attrs   []slog.Attr
	group   string
}

var _ slog.Handler = (*PubHandler)(nil)

// LogHandler returns a PubHandler bound to a previously created
// endpoint and the given topic.
func (m *SocketManager) LogHandler(socketName, topicName string) *PubHandler {
	return &PubHandler{
		manager: m,
		socket:  socketName,
		topic:   topicName,
		level:   slog.LevelInfo,
	}
}

// Logger returns a slog.Logger whose records are published on the
// named endpoint under topicName.
func (m *SocketManager) Logger(socketName, topicName string) *slog.Logger {
	return slog.New(m.LogHandler(socketName, topicName))
}

// WithLevel returns a copy of the handler that drops records below
// level.
func (h *PubHandler) WithLevel(level slog.Leveler) *PubHandler {
	clone := *h
	clone.level = level
	return &clone
}

func (h *PubHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PubHandler) Handle(_ context.Context, record slog.Record) error {
	args := make(map[string]any, record.NumAttrs()+len(h.attrs))
	for _, attr := range h.attrs {
		args[attr.Key] = attr.Value.Resolve().Any()
	}
	record.Attrs(func(attr slog.Attr) bool {
		args[h.key(attr.Key)] = attr.Value.Resolve().Any()
		return true
	})
	payload := map[string]any{
		"msg":   record.Message,
		"args":  args,
		"level": record.Level.String(),
	}
	return h.manager.PublishSafe(h.socket, h.topic, payload)
}

// WithAttrs qualifies the new attrs with the group open at the time
// they are bound, matching how the text and JSON handlers scope keys.
func (h *PubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	qualified := append([]slog.Attr(nil), h.attrs...)
	for _, attr := range attrs {
		attr.Key = h.key(attr.Key)
		qualified = append(qualified, attr)
	}
	clone.attrs = qualified
	return &clone
}

func (h *PubHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func (h *PubHandler) key(name string) string {
	if h.group == "" {
		return name
	}
	return h.group + "." + name
}
