// Package memstore keeps the laundry state in process memory. It is the
// default store for single-node deployments and the reference store in tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
)

const (
	errorOperationStore     = "store"
	errorSubjectEntry       = "entry"
	errorSubjectFavorite    = "favorite"
	errorSubjectLaundry     = "laundry_store"
	errorSubjectMachine     = "machine"
	errorSubjectReservation = "reservation"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeUpdateStatus   = "update_status"
)

// Store implements laundry.Store over maps guarded by a single mutex.
// WithTx holds the mutex for the whole callback and restores a snapshot when
// the callback fails.
type Store struct {
	mu    *sync.Mutex
	state *state
	inTx  bool
}

type state struct {
	laundryStores map[laundry.StoreID]laundry.LaundryStore
	machines      map[string]laundry.Machine
	reservations  map[laundry.ReservationID]laundry.Reservation
	walletEntries []laundry.WalletEntry
	idempotency   map[string]struct{}
	favorites     map[laundry.UserID]map[laundry.StoreID]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		state: &state{
			laundryStores: make(map[laundry.StoreID]laundry.LaundryStore),
			machines:      make(map[string]laundry.Machine),
			reservations:  make(map[laundry.ReservationID]laundry.Reservation),
			idempotency:   make(map[string]struct{}),
			favorites:     make(map[laundry.UserID]map[laundry.StoreID]struct{}),
		},
	}
}

// WithTx executes fn while holding the store lock.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore laundry.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	snapshot := store.state.clone()
	transactionStore := &Store{mu: store.mu, state: store.state, inTx: true}
	if err := fn(ctx, transactionStore); err != nil {
		*store.state = *snapshot
		return err
	}
	return nil
}

func (store *Store) lock() func() {
	if store.inTx {
		return func() {}
	}
	store.mu.Lock()
	return store.mu.Unlock
}

// LockWallet is a no-op: WithTx already serializes every transaction.
func (store *Store) LockWallet(ctx context.Context, userID laundry.UserID) error {
	return nil
}

func (store *Store) InsertWalletEntry(ctx context.Context, entry laundry.WalletEntry) error {
	unlock := store.lock()
	defer unlock()
	key := idempotencyScope(entry.UserID, entry.IdempotencyKey)
	if _, exists := store.state.idempotency[key]; exists {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, laundry.ErrDuplicateIdempotencyKey)
	}
	store.state.idempotency[key] = struct{}{}
	store.state.walletEntries = append(store.state.walletEntries, entry)
	return nil
}

func (store *Store) SumWallet(ctx context.Context, userID laundry.UserID) (laundry.Amount, error) {
	unlock := store.lock()
	defer unlock()
	var total laundry.Amount
	for _, entry := range store.state.walletEntries {
		if entry.UserID == userID {
			total += entry.Amount
		}
	}
	return total, nil
}

func (store *Store) ListWalletEntries(ctx context.Context, userID laundry.UserID, limit int) ([]laundry.WalletEntry, error) {
	unlock := store.lock()
	defer unlock()
	entries := make([]laundry.WalletEntry, 0)
	for index := len(store.state.walletEntries) - 1; index >= 0 && (limit <= 0 || len(entries) < limit); index-- {
		entry := store.state.walletEntries[index]
		if entry.UserID == userID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (store *Store) UpsertLaundryStore(ctx context.Context, laundryStore laundry.LaundryStore) error {
	unlock := store.lock()
	defer unlock()
	store.state.laundryStores[laundryStore.ID] = laundryStore
	return nil
}

func (store *Store) GetLaundryStore(ctx context.Context, storeID laundry.StoreID) (laundry.LaundryStore, error) {
	unlock := store.lock()
	defer unlock()
	laundryStore, ok := store.state.laundryStores[storeID]
	if !ok {
		return laundry.LaundryStore{}, wrapStoreError(errorSubjectLaundry, errorCodeGet, laundry.ErrUnknownStore)
	}
	return laundryStore, nil
}

func (store *Store) ListLaundryStores(ctx context.Context) ([]laundry.LaundryStore, error) {
	unlock := store.lock()
	defer unlock()
	stores := make([]laundry.LaundryStore, 0, len(store.state.laundryStores))
	for _, laundryStore := range store.state.laundryStores {
		stores = append(stores, laundryStore)
	}
	sort.Slice(stores, func(left, right int) bool {
		return stores[left].ID.String() < stores[right].ID.String()
	})
	return stores, nil
}

func (store *Store) UpsertMachine(ctx context.Context, machine laundry.Machine) error {
	unlock := store.lock()
	defer unlock()
	if _, exists := store.state.laundryStores[machine.StoreID]; !exists {
		return wrapStoreError(errorSubjectMachine, errorCodeGet, laundry.ErrUnknownStore)
	}
	store.state.machines[machineKey(machine.StoreID, machine.ID)] = copyMachine(machine)
	return nil
}

func (store *Store) GetMachine(ctx context.Context, storeID laundry.StoreID, machineID laundry.MachineID) (laundry.Machine, error) {
	unlock := store.lock()
	defer unlock()
	machine, ok := store.state.machines[machineKey(storeID, machineID)]
	if !ok {
		return laundry.Machine{}, wrapStoreError(errorSubjectMachine, errorCodeGet, laundry.ErrUnknownMachine)
	}
	return copyMachine(machine), nil
}

func (store *Store) ListMachines(ctx context.Context, storeID laundry.StoreID) ([]laundry.Machine, error) {
	unlock := store.lock()
	defer unlock()
	var machines []laundry.Machine
	for _, machine := range store.state.machines {
		if machine.StoreID == storeID {
			machines = append(machines, copyMachine(machine))
		}
	}
	sort.Slice(machines, func(left, right int) bool {
		return machines[left].ID.String() < machines[right].ID.String()
	})
	return machines, nil
}

func (store *Store) UpdateMachineStatus(ctx context.Context, storeID laundry.StoreID, machineID laundry.MachineID, from laundry.MachineStatus, to laundry.MachineStatus) error {
	unlock := store.lock()
	defer unlock()
	key := machineKey(storeID, machineID)
	machine, ok := store.state.machines[key]
	if !ok {
		return wrapStoreError(errorSubjectMachine, errorCodeUpdateStatus, laundry.ErrUnknownMachine)
	}
	if machine.Status != from {
		return wrapStoreError(errorSubjectMachine, errorCodeUpdateStatus, fmt.Errorf("%w: status is %s, expected %s", laundry.ErrMachineUnavailable, machine.Status, from))
	}
	machine.Status = to
	store.state.machines[key] = machine
	return nil
}

func (store *Store) CreateReservation(ctx context.Context, reservation laundry.Reservation) error {
	unlock := store.lock()
	defer unlock()
	if _, exists := store.state.reservations[reservation.ID]; exists {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, laundry.ErrReservationExists)
	}
	store.state.reservations[reservation.ID] = reservation
	return nil
}

func (store *Store) GetReservation(ctx context.Context, reservationID laundry.ReservationID) (laundry.Reservation, error) {
	unlock := store.lock()
	defer unlock()
	reservation, ok := store.state.reservations[reservationID]
	if !ok {
		return laundry.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, laundry.ErrUnknownReservation)
	}
	return reservation, nil
}

func (store *Store) ListReservations(ctx context.Context, filter laundry.ReservationFilter) ([]laundry.Reservation, error) {
	unlock := store.lock()
	defer unlock()
	var reservations []laundry.Reservation
	for _, reservation := range store.state.reservations {
		if matchesFilter(reservation, filter) {
			reservations = append(reservations, reservation)
		}
	}
	sort.Slice(reservations, func(left, right int) bool {
		if !reservations[left].StartTime.Equal(reservations[right].StartTime) {
			return reservations[left].StartTime.Before(reservations[right].StartTime)
		}
		return reservations[left].ID.String() < reservations[right].ID.String()
	})
	return reservations, nil
}

func (store *Store) UpdateReservationProgress(ctx context.Context, reservationID laundry.ReservationID, status laundry.ReservationStatus, progress int) error {
	unlock := store.lock()
	defer unlock()
	reservation, ok := store.state.reservations[reservationID]
	if !ok {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, laundry.ErrUnknownReservation)
	}
	if reservation.Status != laundry.ReservationStatusActive {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, laundry.ErrReservationClosed)
	}
	reservation.Status = status
	reservation.Progress = progress
	store.state.reservations[reservationID] = reservation
	return nil
}

func (store *Store) AddFavorite(ctx context.Context, userID laundry.UserID, storeID laundry.StoreID) error {
	unlock := store.lock()
	defer unlock()
	if _, exists := store.state.laundryStores[storeID]; !exists {
		return wrapStoreError(errorSubjectFavorite, errorCodeGet, laundry.ErrUnknownStore)
	}
	saved, ok := store.state.favorites[userID]
	if !ok {
		saved = make(map[laundry.StoreID]struct{})
		store.state.favorites[userID] = saved
	}
	saved[storeID] = struct{}{}
	return nil
}

func (store *Store) RemoveFavorite(ctx context.Context, userID laundry.UserID, storeID laundry.StoreID) error {
	unlock := store.lock()
	defer unlock()
	delete(store.state.favorites[userID], storeID)
	return nil
}

func (store *Store) ListFavorites(ctx context.Context, userID laundry.UserID) ([]laundry.StoreID, error) {
	unlock := store.lock()
	defer unlock()
	storeIDs := make([]laundry.StoreID, 0, len(store.state.favorites[userID]))
	for storeID := range store.state.favorites[userID] {
		storeIDs = append(storeIDs, storeID)
	}
	sort.Slice(storeIDs, func(left, right int) bool {
		return storeIDs[left].String() < storeIDs[right].String()
	})
	return storeIDs, nil
}

func matchesFilter(reservation laundry.Reservation, filter laundry.ReservationFilter) bool {
	if filter.UserID != nil && reservation.UserID != *filter.UserID {
		return false
	}
	if filter.StoreID != nil && reservation.StoreID != *filter.StoreID {
		return false
	}
	if filter.MachineID != nil && reservation.MachineID != *filter.MachineID {
		return false
	}
	if filter.Status != "" && reservation.Status != filter.Status {
		return false
	}
	return true
}

func (current *state) clone() *state {
	cloned := &state{
		laundryStores: make(map[laundry.StoreID]laundry.LaundryStore, len(current.laundryStores)),
		machines:      make(map[string]laundry.Machine, len(current.machines)),
		reservations:  make(map[laundry.ReservationID]laundry.Reservation, len(current.reservations)),
		walletEntries: append([]laundry.WalletEntry(nil), current.walletEntries...),
		idempotency:   make(map[string]struct{}, len(current.idempotency)),
		favorites:     make(map[laundry.UserID]map[laundry.StoreID]struct{}, len(current.favorites)),
	}
	for key, value := range current.laundryStores {
		cloned.laundryStores[key] = value
	}
	for key, value := range current.machines {
		cloned.machines[key] = copyMachine(value)
	}
	for key, value := range current.reservations {
		cloned.reservations[key] = value
	}
	for key := range current.idempotency {
		cloned.idempotency[key] = struct{}{}
	}
	for userID, saved := range current.favorites {
		copied := make(map[laundry.StoreID]struct{}, len(saved))
		for storeID := range saved {
			copied[storeID] = struct{}{}
		}
		cloned.favorites[userID] = copied
	}
	return cloned
}

func copyMachine(machine laundry.Machine) laundry.Machine {
	machine.Features = append([]string(nil), machine.Features...)
	return machine
}

func machineKey(storeID laundry.StoreID, machineID laundry.MachineID) string {
	return storeID.String() + "/" + machineID.String()
}

func idempotencyScope(userID laundry.UserID, key laundry.IdempotencyKey) string {
	return userID.String() + "|" + key.String()
}

func wrapStoreError(subject string, code string, err error) error {
	return laundry.WrapError(errorOperationStore, subject, code, err)
}
