package laundry

import (
	"math"
	"time"
)

// Projection is the derived view of a cycle at a point in time.
type Projection struct {
	Percent          int
	RemainingMinutes int
}

// Project maps a cycle window and the current time to percent complete and
// whole minutes remaining (rounded up). It never fails.
func Project(startTime time.Time, endTime time.Time, now time.Time) Projection {
	total := endTime.Sub(startTime).Milliseconds()
	if total < 1 {
		total = 1
	}
	elapsed := now.Sub(startTime).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	percent := int(math.Floor(float64(elapsed)/float64(total)*100 + 0.5))
	if percent > 100 {
		percent = 100
	}
	remaining := endTime.Sub(now).Milliseconds()
	if remaining < 0 {
		remaining = 0
	}
	return Projection{
		Percent:          percent,
		RemainingMinutes: int((remaining + millisecondsPerMinute - 1) / millisecondsPerMinute),
	}
}

// Advance applies one tick to a reservation. Reservations that are not
// active are returned unchanged.
func Advance(reservation Reservation, now time.Time) Reservation {
	if reservation.Status != ReservationStatusActive {
		return reservation
	}
	projection := Project(reservation.StartTime, reservation.EndTime, now)
	if !now.Before(reservation.EndTime) {
		reservation.Status = ReservationStatusCompleted
		reservation.Progress = 100
		return reservation
	}
	reservation.Progress = projection.Percent
	return reservation
}
