package httpapi

import (
	"encoding/json"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
)

type scanRequest struct {
	Payload string `json:"payload" binding:"required"`
}

type activationRequest struct {
	QRPayload     string `json:"qr_payload" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required"`
}

type topUpRequest struct {
	Amount         int64  `json:"amount"`
	Method         string `json:"method"`
	IdempotencyKey string `json:"idempotency_key"`
}

type settingsRequest struct {
	BeforeCompletion *int  `json:"before_completion"`
	Enabled          *bool `json:"enabled"`
}

type storePayload struct {
	StoreID    string           `json:"store_id"`
	Name       string           `json:"name"`
	Address    string           `json:"address"`
	Status     string           `json:"status"`
	Rating     float64          `json:"rating"`
	Phone      string           `json:"phone"`
	Latitude   float64          `json:"latitude"`
	Longitude  float64          `json:"longitude"`
	DistanceKm float64          `json:"distance_km"`
	Machines   []machinePayload `json:"machines"`
}

type machinePayload struct {
	MachineID        string   `json:"machine_id"`
	StoreID          string   `json:"store_id"`
	Type             string   `json:"type"`
	Status           string   `json:"status"`
	Capacity         int      `json:"capacity"`
	Price            int64    `json:"price"`
	Features         []string `json:"features"`
	RemainingMinutes int      `json:"remaining_minutes"`
}

type reservationPayload struct {
	ReservationID    string `json:"reservation_id"`
	UserID           string `json:"user_id"`
	StoreID          string `json:"store_id"`
	MachineID        string `json:"machine_id"`
	MachineType      string `json:"machine_type"`
	StartUnixUTC     int64  `json:"start_unix_utc"`
	EndUnixUTC       int64  `json:"end_unix_utc"`
	Status           string `json:"status"`
	PaymentStatus    string `json:"payment_status"`
	PaymentMethod    string `json:"payment_method"`
	TotalAmount      int64  `json:"total_amount"`
	Progress         int    `json:"progress"`
	RemainingMinutes int    `json:"remaining_minutes"`
}

type walletResponse struct {
	Balance int64          `json:"balance"`
	Entries []entryPayload `json:"entries"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Type           string          `json:"type"`
	Amount         int64           `json:"amount"`
	ReservationID  string          `json:"reservation_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type settingsPayload struct {
	BeforeCompletion int  `json:"before_completion"`
	Enabled          bool `json:"enabled"`
}

func newStorePayload(view laundry.StoreView) storePayload {
	return storePayload{
		StoreID:    view.Store.ID.String(),
		Name:       view.Store.Name,
		Address:    view.Store.Address,
		Status:     string(view.Store.Status),
		Rating:     view.Store.Rating,
		Phone:      view.Store.Phone,
		Latitude:   view.Store.Latitude,
		Longitude:  view.Store.Longitude,
		DistanceKm: view.DistanceKm,
		Machines:   newMachinePayloads(view.Machines),
	}
}

func newMachinePayloads(views []laundry.MachineView) []machinePayload {
	payloads := make([]machinePayload, 0, len(views))
	for _, view := range views {
		payloads = append(payloads, newMachinePayload(view))
	}
	return payloads
}

func newMachinePayload(view laundry.MachineView) machinePayload {
	features := view.Machine.Features
	if features == nil {
		features = []string{}
	}
	return machinePayload{
		MachineID:        view.Machine.ID.String(),
		StoreID:          view.Machine.StoreID.String(),
		Type:             view.Machine.Type.String(),
		Status:           view.Machine.Status.String(),
		Capacity:         view.Machine.Capacity,
		Price:            view.Machine.Price.Int64(),
		Features:         features,
		RemainingMinutes: view.RemainingMinutes,
	}
}

func newReservationPayload(view laundry.ReservationView) reservationPayload {
	reservation := view.Reservation
	return reservationPayload{
		ReservationID:    reservation.ID.String(),
		UserID:           reservation.UserID.String(),
		StoreID:          reservation.StoreID.String(),
		MachineID:        reservation.MachineID.String(),
		MachineType:      reservation.MachineType.String(),
		StartUnixUTC:     reservation.StartTime.UTC().Unix(),
		EndUnixUTC:       reservation.EndTime.UTC().Unix(),
		Status:           reservation.Status.String(),
		PaymentStatus:    reservation.PaymentStatus.String(),
		PaymentMethod:    reservation.PaymentMethod.String(),
		TotalAmount:      reservation.TotalAmount.Int64(),
		Progress:         view.Projection.Percent,
		RemainingMinutes: view.Projection.RemainingMinutes,
	}
}

func newEntryPayload(entry laundry.WalletEntry) entryPayload {
	reservationIDValue := ""
	if entry.ReservationID != nil {
		reservationIDValue = entry.ReservationID.String()
	}
	return entryPayload{
		EntryID:        entry.EntryID,
		Type:           entry.Type.String(),
		Amount:         entry.Amount.Int64(),
		ReservationID:  reservationIDValue,
		IdempotencyKey: entry.IdempotencyKey.String(),
		Metadata:       json.RawMessage(entry.Metadata.String()),
		CreatedUnixUTC: entry.CreatedAt.UTC().Unix(),
	}
}

func newSettingsPayload(settings laundry.NotificationSettings) settingsPayload {
	return settingsPayload{BeforeCompletion: settings.BeforeCompletion, Enabled: settings.Enabled}
}
