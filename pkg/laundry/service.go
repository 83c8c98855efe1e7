package laundry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service contains the domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() time.Time
	newID  func() string
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// ActivationRequest carries everything needed to start a machine cycle.
type ActivationRequest struct {
	UserID        UserID
	Descriptor    MachineDescriptor
	PaymentMethod PaymentMethod
}

// Activate starts a cycle on the described machine and records the
// reservation. Wallet payments are debited in the same transaction after the
// balance precondition passes; the machine moves to in-use atomically.
func (service *Service) Activate(ctx context.Context, request ActivationRequest) (Reservation, error) {
	var created Reservation
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if request.UserID.String() == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidUserID)
		}
		paymentMethod, err := ParsePaymentMethod(request.PaymentMethod.String())
		if err != nil {
			return err
		}
		descriptor := request.Descriptor
		if err := descriptor.validate(); err != nil {
			return err
		}
		machine, err := transactionStore.GetMachine(ctx, descriptor.StoreID, descriptor.MachineID)
		if err != nil {
			return err
		}
		if machine.Type != descriptor.Type {
			return fmt.Errorf("%w: machine %s is a %s machine, payload says %s", ErrInvalidMachineDescriptor, machine.ID, machine.Type, descriptor.Type)
		}
		if machine.Status != MachineStatusAvailable {
			return fmt.Errorf("%w: machine %s is %s", ErrMachineUnavailable, machine.ID, machine.Status)
		}
		if paymentMethod == PaymentMethodWallet {
			if err := transactionStore.LockWallet(ctx, request.UserID); err != nil {
				return err
			}
			balance, err := transactionStore.SumWallet(ctx, request.UserID)
			if err != nil {
				return err
			}
			if balance < machine.Price {
				return ErrInsufficientBalance
			}
		}
		reservationID, err := NewReservationID(service.newID())
		if err != nil {
			return err
		}
		startTime := service.nowFn()
		reservation := Reservation{
			ID:            reservationID,
			UserID:        request.UserID,
			StoreID:       machine.StoreID,
			MachineID:     machine.ID,
			MachineType:   machine.Type,
			StartTime:     startTime,
			EndTime:       startTime.Add(machine.Type.CycleDuration()),
			Status:        ReservationStatusActive,
			PaymentStatus: paymentMethod.PaymentStatus(),
			PaymentMethod: paymentMethod,
			TotalAmount:   machine.Price,
			Progress:      0,
		}
		if err := transactionStore.CreateReservation(ctx, reservation); err != nil {
			return err
		}
		if paymentMethod == PaymentMethodWallet {
			debit, err := service.activationDebit(reservation)
			if err != nil {
				return err
			}
			if err := transactionStore.InsertWalletEntry(ctx, debit); err != nil {
				return err
			}
		}
		if err := transactionStore.UpdateMachineStatus(ctx, machine.StoreID, machine.ID, MachineStatusAvailable, MachineStatusInUse); err != nil {
			return err
		}
		created = reservation
		return nil
	})
	logEntry := OperationLog{
		Operation: operationActivate,
		UserID:    request.UserID,
		StoreID:   request.Descriptor.StoreID,
		MachineID: request.Descriptor.MachineID,
		Amount:    created.TotalAmount,
		Error:     operationError,
	}
	if operationError == nil {
		reservationRef := created.ID
		logEntry.ReservationID = &reservationRef
	}
	service.logOperation(ctx, logEntry)
	if operationError != nil {
		return Reservation{}, operationError
	}
	return created, nil
}

func (service *Service) activationDebit(reservation Reservation) (WalletEntry, error) {
	idempotencyKey, err := NewIdempotencyKey(idempotencyPrefixActivate + idempotencyKeyDelimiter + reservation.ID.String())
	if err != nil {
		return WalletEntry{}, err
	}
	metadata, err := marshalMetadata(map[string]string{
		"store_id":   reservation.StoreID.String(),
		"machine_id": reservation.MachineID.String(),
	})
	if err != nil {
		return WalletEntry{}, err
	}
	reservationRef := reservation.ID
	return WalletEntry{
		EntryID:        service.newID(),
		UserID:         reservation.UserID,
		Type:           WalletEntryDebit,
		Amount:         -reservation.TotalAmount,
		ReservationID:  &reservationRef,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		CreatedAt:      reservation.StartTime,
	}, nil
}

// Tick re-derives progress for every active reservation, completes the ones
// whose window has elapsed and frees their machines. It returns one
// observation per reservation that was active when the tick started.
// Running it twice with the same clock reading changes nothing the second time.
func (service *Service) Tick(ctx context.Context) ([]Observation, error) {
	now := service.nowFn()
	var observations []Observation
	completed := 0
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		observations = nil
		completed = 0
		active, err := transactionStore.ListReservations(ctx, ReservationFilter{Status: ReservationStatusActive})
		if err != nil {
			return err
		}
		for _, reservation := range active {
			advanced := Advance(reservation, now)
			if advanced.Status != reservation.Status || advanced.Progress != reservation.Progress {
				if err := transactionStore.UpdateReservationProgress(ctx, advanced.ID, advanced.Status, advanced.Progress); err != nil {
					return err
				}
			}
			if advanced.Status == ReservationStatusCompleted {
				completed++
				if err := releaseMachine(ctx, transactionStore, advanced); err != nil {
					return err
				}
			}
			observations = append(observations, Observation{
				Reservation: advanced,
				Projection:  Project(advanced.StartTime, advanced.EndTime, now),
				ObservedAt:  now,
			})
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationTick,
		Count:     completed,
		Error:     operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return observations, nil
}

// releaseMachine returns an in-use machine to the pool. A machine that was
// moved elsewhere in the meantime (e.g. maintenance) is left alone.
func releaseMachine(ctx context.Context, transactionStore Store, reservation Reservation) error {
	err := transactionStore.UpdateMachineStatus(ctx, reservation.StoreID, reservation.MachineID, MachineStatusInUse, MachineStatusAvailable)
	if errors.Is(err, ErrMachineUnavailable) || errors.Is(err, ErrUnknownMachine) {
		return nil
	}
	return err
}

// ReservationView pairs a reservation with its projection at read time.
type ReservationView struct {
	Reservation Reservation
	Projection  Projection
}

// GetReservation returns one reservation with a live projection.
func (service *Service) GetReservation(ctx context.Context, reservationID ReservationID) (ReservationView, error) {
	reservation, err := service.store.GetReservation(ctx, reservationID)
	if err != nil {
		return ReservationView{}, err
	}
	return service.view(reservation), nil
}

// ListReservations returns reservations matching filter with live projections.
func (service *Service) ListReservations(ctx context.Context, filter ReservationFilter) ([]ReservationView, error) {
	if filter.Status != "" {
		if _, err := ParseReservationStatus(filter.Status.String()); err != nil {
			return nil, err
		}
	}
	reservations, err := service.store.ListReservations(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]ReservationView, 0, len(reservations))
	for _, reservation := range reservations {
		views = append(views, service.view(reservation))
	}
	return views, nil
}

func (service *Service) view(reservation Reservation) ReservationView {
	now := service.nowFn()
	projection := Project(reservation.StartTime, reservation.EndTime, now)
	if reservation.Status == ReservationStatusCompleted {
		projection = Projection{Percent: 100, RemainingMinutes: 0}
	}
	return ReservationView{Reservation: reservation, Projection: projection}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func deriveIdempotencyKey(baseKey IdempotencyKey, suffix string) (IdempotencyKey, error) {
	combined := baseKey.String() + idempotencyKeyDelimiter + suffix
	return NewIdempotencyKey(combined)
}

func marshalMetadata(values map[string]string) (MetadataJSON, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return NewMetadataJSON(string(raw))
}
