package observability

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldOpID is the field name for operation ID.
	LogFieldOpID = "op_id"
	// LogFieldCategory is the field name for the memory category.
	LogFieldCategory = "category"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldRows is the field name for affected/returned row counts.
	LogFieldRows = "rows"
)

// NewLogger builds the process logger. Dev mode logs human-readable text at
// debug level; prod logs JSON at info level.
func NewLogger(mode string) *slog.Logger {
	if mode == "prod" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Op tracks a single store operation for structured logging.
type Op struct {
	ID        string
	Name      string
	StartTime time.Time
	Logger    *slog.Logger
}

// StartOp creates an operation context with a generated operation ID.
func StartOp(logger *slog.Logger, name string, attrs ...slog.Attr) *Op {
	op := &Op{
		ID:        uuid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Logger:    logger,
	}
	combined := append([]slog.Attr{slog.String(LogFieldOpID, op.ID)}, attrs...)
	logger.LogAttrs(context.Background(), slog.LevelDebug, name, combined...)
	return op
}

// Done logs the outcome of the operation with its duration.
func (o *Op) Done(err error, attrs ...slog.Attr) {
	combined := append([]slog.Attr{
		slog.String(LogFieldOpID, o.ID),
		slog.Int64(LogFieldDuration, time.Since(o.StartTime).Milliseconds()),
	}, attrs...)
	if err != nil {
		combined = append(combined, slog.String("error", err.Error()))
		o.Logger.LogAttrs(context.Background(), slog.LevelError, o.Name+" failed", combined...)
		return
	}
	o.Logger.LogAttrs(context.Background(), slog.LevelDebug, o.Name+" done", combined...)
}
