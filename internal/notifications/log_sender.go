package notifications

import (
	"context"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// LogSender writes notifications to the structured log. Used when no broker is configured.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) *LogSender {
	return &LogSender{logg: logg}
}

func (s *LogSender) Send(ctx context.Context, n Notification) error {
	if s == nil || s.logg == nil {
		return nil
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"notification_id": n.ID.String(),
		"kind":            n.Kind,
		"order_id":        n.OrderID.String(),
		"recipient":       n.Recipient,
	})
	s.logg.Info(logCtx, "notification sent")
	return nil
}
