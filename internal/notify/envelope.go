// Package notify delivers threshold notifications to logs and message brokers.
package notify

import (
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
)

const (
	EventThresholdReached = "reservation.threshold_reached"
	EventCycleFinished    = "reservation.cycle_finished"
)

// Envelope is the wire form shared by every broker sink.
type Envelope struct {
	Event            string    `json:"event"`
	ReservationID    string    `json:"reservation_id"`
	UserID           string    `json:"user_id"`
	StoreID          string    `json:"store_id"`
	MachineID        string    `json:"machine_id"`
	MachineType      string    `json:"machine_type"`
	RemainingMinutes int       `json:"remaining_minutes"`
	Message          string    `json:"message"`
	Severity         string    `json:"severity"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// NewEnvelope converts a notification into its wire form.
func NewEnvelope(notification laundry.Notification) Envelope {
	event := EventThresholdReached
	if notification.RemainingMinutes == 0 {
		event = EventCycleFinished
	}
	return Envelope{
		Event:            event,
		ReservationID:    notification.ReservationID.String(),
		UserID:           notification.UserID.String(),
		StoreID:          notification.StoreID.String(),
		MachineID:        notification.MachineID.String(),
		MachineType:      notification.MachineType.String(),
		RemainingMinutes: notification.RemainingMinutes,
		Message:          notification.Message,
		Severity:         string(notification.Severity),
		OccurredAt:       notification.OccurredAt.UTC(),
	}
}

// Encode renders the notification envelope as JSON.
func Encode(notification laundry.Notification) ([]byte, error) {
	return json.Marshal(NewEnvelope(notification))
}
