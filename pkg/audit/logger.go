package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// LogSink renders events through slog.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger means slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "audit")}
}

func (s *LogSink) Emit(ctx context.Context, ev contracts.Event) error {
	attrs := []any{
		"event_id", ev.ID,
		"event", string(ev.Type),
		"actor", ev.Actor,
	}
	if ev.ActionID != 0 {
		attrs = append(attrs, "lane", string(ev.Lane), "action_id", ev.ActionID)
	}
	if len(ev.Data) > 0 {
		attrs = append(attrs, "data", ev.Data)
	}
	level := slog.LevelInfo
	if ev.Type == contracts.EventExecutionFailed {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "vault event", attrs...)
	return nil
}

// WriterSink writes one JSON document per event, prefixed with "AUDIT: ".
type WriterSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterSink writes to w, or os.Stdout when w is nil.
func NewWriterSink(w io.Writer) *WriterSink {
	if w == nil {
		w = os.Stdout
	}
	return &WriterSink{writer: w}
}

func (s *WriterSink) Emit(_ context.Context, ev contracts.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Prefix with AUDIT: for easy filtering
	_, err = s.writer.Write(append([]byte("AUDIT: "), append(b, '\n')...))
	return err
}
