package spies

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

type capturedLog struct {
	level   slog.Level
	message string
	attrs   map[string]string
}

// LogHandlerSpy is a slog.Handler that keeps every record, flattened to level, message and
// string attributes, so tests can ask whether a given log line was written.
type LogHandlerSpy struct {
	state *spyState
	attrs []slog.Attr
}

type spyState struct {
	mu     sync.Mutex
	logs   []capturedLog
	stdout slog.Handler
}

// NewLogHandlerSpy creates a LogHandlerSpy. With echo set, records are also written to stdout as JSON.
func NewLogHandlerSpy(echo bool) *LogHandlerSpy {
	state := &spyState{}
	if echo {
		state.stdout = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	return &LogHandlerSpy{state: state}
}

func (s *LogHandlerSpy) Handle(ctx context.Context, record slog.Record) error {
	captured := capturedLog{level: record.Level, message: record.Message, attrs: make(map[string]string)}

	for _, attr := range s.attrs {
		captured.attrs[attr.Key] = attr.Value.String()
	}

	record.Attrs(func(attr slog.Attr) bool {
		captured.attrs[attr.Key] = attr.Value.String()
		return true
	})

	s.state.mu.Lock()
	s.state.logs = append(s.state.logs, captured)
	s.state.mu.Unlock()

	if s.state.stdout != nil {
		return s.state.stdout.WithAttrs(s.attrs).Handle(ctx, record)
	}

	return nil
}

func (s *LogHandlerSpy) Enabled(context.Context, slog.Level) bool {
	return true
}

// WithAttrs returns a handler that shares the captured records and adds attrs to every record it handles.
func (s *LogHandlerSpy) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandlerSpy{state: s.state, attrs: append(append([]slog.Attr{}, s.attrs...), attrs...)}
}

// WithGroup is ignored, attributes are matched by their plain key.
func (s *LogHandlerSpy) WithGroup(string) slog.Handler {
	return s
}

// HasLog reports whether a record with level and message was captured.
func (s *LogHandlerSpy) HasLog(level slog.Level, message string) bool {
	return s.HasLogWithMessage(level, message).Assert()
}

// HasLogWithMessage starts a match on the records with level and message.
// Attribute conditions added to the matcher must all hold for one of those records.
func (s *LogHandlerSpy) HasLogWithMessage(level slog.Level, message string) *SpyLogRecordMatcher {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	matcher := &SpyLogRecordMatcher{}
	for _, captured := range s.state.logs {
		if captured.level == level && captured.message == message {
			matcher.candidates = append(matcher.candidates, captured)
		}
	}

	return matcher
}

// SpyLogRecordMatcher narrows down captured records by their attributes.
type SpyLogRecordMatcher struct {
	candidates []capturedLog
}

// WithAttr keeps the records having an attribute named key.
func (m *SpyLogRecordMatcher) WithAttr(key string) *SpyLogRecordMatcher {
	return m.keep(func(attrs map[string]string) bool {
		_, ok := attrs[key]
		return ok
	})
}

// WithAttrValue keeps the records whose attribute key renders as value.
func (m *SpyLogRecordMatcher) WithAttrValue(key string, value string) *SpyLogRecordMatcher {
	return m.keep(func(attrs map[string]string) bool {
		actual, ok := attrs[key]
		return ok && actual == value
	})
}

// Assert reports whether any record is left.
func (m *SpyLogRecordMatcher) Assert() bool {
	return len(m.candidates) > 0
}

func (m *SpyLogRecordMatcher) keep(match func(attrs map[string]string) bool) *SpyLogRecordMatcher {
	kept := m.candidates[:0]
	for _, candidate := range m.candidates {
		if match(candidate.attrs) {
			kept = append(kept, candidate)
		}
	}

	m.candidates = kept

	return m
}
