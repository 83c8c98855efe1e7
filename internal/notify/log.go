package notify

import (
	"context"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	"go.uber.org/zap"
)

// LogPublisher writes notifications to the service log. It is the sink used
// when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns a LogPublisher writing to logger.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements laundry.NotificationPublisher.
func (publisher *LogPublisher) Publish(_ context.Context, notification laundry.Notification) error {
	envelope := NewEnvelope(notification)
	publisher.logger.Info(envelope.Message,
		zap.String("event", envelope.Event),
		zap.String("reservation_id", envelope.ReservationID),
		zap.String("user_id", envelope.UserID),
		zap.String("machine_id", envelope.MachineID),
		zap.Int("remaining_minutes", envelope.RemainingMinutes),
		zap.String("severity", envelope.Severity),
	)
	return nil
}
