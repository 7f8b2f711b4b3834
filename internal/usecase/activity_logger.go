package usecase

import (
	"context"
	"time"

	"github.com/vitos/spot_support_bot/internal/domain"
	"go.uber.org/zap"
)

// ActivityLogger is the canonical domain.EventSink: every event lands in the
// append-only activity log and mirrors to the structured logger. A storage
// failure downgrades to a log line; audit logging never blocks trading.
type ActivityLogger struct {
	repo    domain.ActivityRepository
	logger  *zap.Logger
	timeNow func() time.Time
}

func NewActivityLogger(repo domain.ActivityRepository, logger *zap.Logger) *ActivityLogger {
	return &ActivityLogger{
		repo:    repo,
		logger:  logger,
		timeNow: time.Now,
	}
}

func (l *ActivityLogger) Emit(ctx context.Context, ev domain.ActivityEvent) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.timeNow()
	}

	fields := []zap.Field{
		zap.String("account_id", ev.AccountID),
		zap.String("event_type", ev.Type),
		zap.String("symbol", ev.Symbol),
	}
	if len(ev.Details) > 0 {
		fields = append(fields, zap.Any("details", ev.Details))
	}

	critical := ev.Details != nil && ev.Details["severity"] == "critical"
	switch {
	case critical:
		l.logger.Error("CRITICAL: "+ev.Message, fields...)
	case ev.Type == domain.EventSystemError:
		l.logger.Error(ev.Message, fields...)
	default:
		l.logger.Info(ev.Message, fields...)
	}

	if err := l.repo.SaveEvent(ctx, &ev); err != nil {
		l.logger.Error("Failed to persist activity event",
			zap.Error(err),
			zap.String("event_type", ev.Type))
	}
}
