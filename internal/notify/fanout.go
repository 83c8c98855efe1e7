package notify

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
)

// Fanout delivers every notification to all sinks. A failing sink does not
// stop delivery to the others; failures are joined.
type Fanout struct {
	sinks []laundry.NotificationPublisher
}

// NewFanout drops nil sinks.
func NewFanout(sinks ...laundry.NotificationPublisher) *Fanout {
	kept := make([]laundry.NotificationPublisher, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	return &Fanout{sinks: kept}
}

// Publish implements laundry.NotificationPublisher.
func (fanout *Fanout) Publish(ctx context.Context, notification laundry.Notification) error {
	var publishErrors []error
	for _, sink := range fanout.sinks {
		if err := sink.Publish(ctx, notification); err != nil {
			publishErrors = append(publishErrors, err)
		}
	}
	return errors.Join(publishErrors...)
}
