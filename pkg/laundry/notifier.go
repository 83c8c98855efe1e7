package laundry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Thresholds a user may pick, in minutes before completion.
var allowedThresholds = map[int]struct{}{0: {}, 5: {}, 10: {}, 15: {}}

// NotificationSettings controls the threshold alert.
type NotificationSettings struct {
	BeforeCompletion int
	Enabled          bool
}

// DefaultNotificationSettings mirrors the app's initial preferences.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{BeforeCompletion: 5, Enabled: true}
}

// NewNotificationSettings validates the threshold against the allowed set.
func NewNotificationSettings(beforeCompletion int, enabled bool) (NotificationSettings, error) {
	if _, ok := allowedThresholds[beforeCompletion]; !ok {
		return NotificationSettings{}, fmt.Errorf("%w: threshold %d not in {0,5,10,15}", ErrInvalidNotificationSetting, beforeCompletion)
	}
	return NotificationSettings{BeforeCompletion: beforeCompletion, Enabled: enabled}, nil
}

// Severity grades a notification for the presentation surface.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
)

// Notification is a fire-and-forget alert addressed to a user.
type Notification struct {
	ReservationID    ReservationID
	UserID           UserID
	StoreID          StoreID
	MachineID        MachineID
	MachineType      MachineType
	RemainingMinutes int
	Message          string
	Severity         Severity
	OccurredAt       time.Time
}

// NotificationPublisher delivers notifications. Failures are reported but
// never retried by the notifier.
type NotificationPublisher interface {
	Publish(ctx context.Context, notification Notification) error
}

// Observation is what a tick saw for one reservation that was active when
// the tick started.
type Observation struct {
	Reservation Reservation
	Projection  Projection
	ObservedAt  time.Time
}

// ThresholdNotifier fires one alert per reservation when its remaining time
// reaches the configured threshold.
type ThresholdNotifier struct {
	mu        sync.Mutex
	settings  NotificationSettings
	notified  map[ReservationID]bool
	publisher NotificationPublisher
	logger    OperationLogger
}

// NotifierOption configures a ThresholdNotifier.
type NotifierOption func(*ThresholdNotifier)

// WithNotifierLogger reports publish outcomes to logger.
func WithNotifierLogger(logger OperationLogger) NotifierOption {
	return func(notifier *ThresholdNotifier) {
		notifier.logger = logger
	}
}

// NewThresholdNotifier wires a notifier with initial settings.
func NewThresholdNotifier(publisher NotificationPublisher, settings NotificationSettings, options ...NotifierOption) (*ThresholdNotifier, error) {
	if publisher == nil {
		return nil, fmt.Errorf("%w: publisher dependency is nil", ErrInvalidServiceConfig)
	}
	if _, err := NewNotificationSettings(settings.BeforeCompletion, settings.Enabled); err != nil {
		return nil, err
	}
	notifier := &ThresholdNotifier{
		settings:  settings,
		notified:  make(map[ReservationID]bool),
		publisher: publisher,
	}
	for _, option := range options {
		if option != nil {
			option(notifier)
		}
	}
	return notifier, nil
}

// Settings returns the current settings.
func (notifier *ThresholdNotifier) Settings() NotificationSettings {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	return notifier.settings
}

// UpdateSettings replaces the settings. Latches are kept so a reservation
// already alerted is not alerted again for the same crossing.
func (notifier *ThresholdNotifier) UpdateSettings(ctx context.Context, settings NotificationSettings) error {
	validated, err := NewNotificationSettings(settings.BeforeCompletion, settings.Enabled)
	if err == nil {
		notifier.mu.Lock()
		notifier.settings = validated
		notifier.mu.Unlock()
	}
	notifier.log(ctx, OperationLog{
		Operation: operationUpdateSettings,
		Error:     err,
	})
	return err
}

// Observe evaluates one tick's observations and publishes the alerts that
// became due. It returns the notifications it attempted to publish.
func (notifier *ThresholdNotifier) Observe(ctx context.Context, observations []Observation) []Notification {
	due := notifier.collectDue(observations)
	for _, notification := range due {
		publishError := notifier.publisher.Publish(ctx, notification)
		reservationID := notification.ReservationID
		notifier.log(ctx, OperationLog{
			Operation:     operationNotify,
			UserID:        notification.UserID,
			ReservationID: &reservationID,
			Error:         publishError,
		})
	}
	return due
}

func (notifier *ThresholdNotifier) collectDue(observations []Observation) []Notification {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	settings := notifier.settings
	var due []Notification
	for _, observation := range observations {
		reservation := observation.Reservation
		remaining := observation.Projection.RemainingMinutes
		if remaining > settings.BeforeCompletion {
			delete(notifier.notified, reservation.ID)
		} else if settings.Enabled && !notifier.notified[reservation.ID] {
			notifier.notified[reservation.ID] = true
			due = append(due, buildNotification(reservation, remaining, observation.ObservedAt))
		}
		if reservation.Status != ReservationStatusActive {
			delete(notifier.notified, reservation.ID)
		}
	}
	return due
}

func buildNotification(reservation Reservation, remaining int, observedAt time.Time) Notification {
	notification := Notification{
		ReservationID:    reservation.ID,
		UserID:           reservation.UserID,
		StoreID:          reservation.StoreID,
		MachineID:        reservation.MachineID,
		MachineType:      reservation.MachineType,
		RemainingMinutes: remaining,
		Severity:         SeverityInfo,
		OccurredAt:       observedAt,
	}
	if remaining == 0 {
		notification.Severity = SeveritySuccess
		notification.Message = fmt.Sprintf("Your %s machine %s has finished", reservation.MachineType, reservation.MachineID)
		return notification
	}
	notification.Message = fmt.Sprintf("Your %s machine %s finishes in %d minutes", reservation.MachineType, reservation.MachineID, remaining)
	return notification
}

func (notifier *ThresholdNotifier) log(ctx context.Context, entry OperationLog) {
	if notifier.logger == nil {
		return
	}
	if entry.Error != nil {
		entry.Status = operationStatusError
	} else {
		entry.Status = operationStatusOK
	}
	notifier.logger.LogOperation(ctx, entry)
}
