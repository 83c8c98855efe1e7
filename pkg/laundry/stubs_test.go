package laundry

import (
	"context"
	"fmt"
	"testing"
	"time"
)

var testEpoch = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

type stubStore struct {
	laundryStores         []LaundryStore
	machines              map[string]Machine
	machineOrder          []string
	reservations          map[ReservationID]Reservation
	reservationOrder      []ReservationID
	entries               []WalletEntry
	walletLocks           []UserID
	unlockedSums          int
	idempotency           map[string]struct{}
	reservationUpdates    int
	insertEntryError      error
	sumWalletError        error
	listReservationsError error
	updateMachineError    error
	createReservationErr  error
	lockWalletError       error
	favorites             map[UserID][]StoreID
	favoriteError         error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		machines:     make(map[string]Machine),
		reservations: make(map[ReservationID]Reservation),
		idempotency:  make(map[string]struct{}),
		favorites:    make(map[UserID][]StoreID),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) LockWallet(ctx context.Context, userID UserID) error {
	if store.lockWalletError != nil {
		return store.lockWalletError
	}
	store.walletLocks = append(store.walletLocks, userID)
	return nil
}

func (store *stubStore) walletLocked(userID UserID) bool {
	for _, locked := range store.walletLocks {
		if locked == userID {
			return true
		}
	}
	return false
}

func (store *stubStore) InsertWalletEntry(ctx context.Context, entry WalletEntry) error {
	if store.insertEntryError != nil {
		return store.insertEntryError
	}
	key := entry.UserID.String() + "|" + entry.IdempotencyKey.String()
	if _, exists := store.idempotency[key]; exists {
		return ErrDuplicateIdempotencyKey
	}
	store.idempotency[key] = struct{}{}
	store.entries = append(store.entries, entry)
	return nil
}

func (store *stubStore) SumWallet(ctx context.Context, userID UserID) (Amount, error) {
	if store.sumWalletError != nil {
		return 0, store.sumWalletError
	}
	if !store.walletLocked(userID) {
		store.unlockedSums++
	}
	var total Amount
	for _, entry := range store.entries {
		if entry.UserID == userID {
			total += entry.Amount
		}
	}
	return total, nil
}

func (store *stubStore) ListWalletEntries(ctx context.Context, userID UserID, limit int) ([]WalletEntry, error) {
	var entries []WalletEntry
	for index := len(store.entries) - 1; index >= 0 && (limit <= 0 || len(entries) < limit); index-- {
		if store.entries[index].UserID == userID {
			entries = append(entries, store.entries[index])
		}
	}
	return entries, nil
}

func (store *stubStore) UpsertLaundryStore(ctx context.Context, laundryStore LaundryStore) error {
	for index, existing := range store.laundryStores {
		if existing.ID == laundryStore.ID {
			store.laundryStores[index] = laundryStore
			return nil
		}
	}
	store.laundryStores = append(store.laundryStores, laundryStore)
	return nil
}

func (store *stubStore) GetLaundryStore(ctx context.Context, storeID StoreID) (LaundryStore, error) {
	for _, existing := range store.laundryStores {
		if existing.ID == storeID {
			return existing, nil
		}
	}
	return LaundryStore{}, ErrUnknownStore
}

func (store *stubStore) ListLaundryStores(ctx context.Context) ([]LaundryStore, error) {
	return append([]LaundryStore(nil), store.laundryStores...), nil
}

func (store *stubStore) UpsertMachine(ctx context.Context, machine Machine) error {
	key := machineKey(machine.StoreID, machine.ID)
	if _, exists := store.machines[key]; !exists {
		store.machineOrder = append(store.machineOrder, key)
	}
	store.machines[key] = machine
	return nil
}

func (store *stubStore) GetMachine(ctx context.Context, storeID StoreID, machineID MachineID) (Machine, error) {
	machine, ok := store.machines[machineKey(storeID, machineID)]
	if !ok {
		return Machine{}, ErrUnknownMachine
	}
	return machine, nil
}

func (store *stubStore) ListMachines(ctx context.Context, storeID StoreID) ([]Machine, error) {
	var machines []Machine
	for _, key := range store.machineOrder {
		if machine := store.machines[key]; machine.StoreID == storeID {
			machines = append(machines, machine)
		}
	}
	return machines, nil
}

func (store *stubStore) UpdateMachineStatus(ctx context.Context, storeID StoreID, machineID MachineID, from MachineStatus, to MachineStatus) error {
	if store.updateMachineError != nil {
		return store.updateMachineError
	}
	key := machineKey(storeID, machineID)
	machine, ok := store.machines[key]
	if !ok {
		return ErrUnknownMachine
	}
	if machine.Status != from {
		return ErrMachineUnavailable
	}
	machine.Status = to
	store.machines[key] = machine
	return nil
}

func (store *stubStore) CreateReservation(ctx context.Context, reservation Reservation) error {
	if store.createReservationErr != nil {
		return store.createReservationErr
	}
	if _, exists := store.reservations[reservation.ID]; exists {
		return ErrReservationExists
	}
	store.reservations[reservation.ID] = reservation
	store.reservationOrder = append(store.reservationOrder, reservation.ID)
	return nil
}

func (store *stubStore) GetReservation(ctx context.Context, reservationID ReservationID) (Reservation, error) {
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return Reservation{}, ErrUnknownReservation
	}
	return reservation, nil
}

func (store *stubStore) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	if store.listReservationsError != nil {
		return nil, store.listReservationsError
	}
	var reservations []Reservation
	for _, reservationID := range store.reservationOrder {
		reservation := store.reservations[reservationID]
		if filter.UserID != nil && reservation.UserID != *filter.UserID {
			continue
		}
		if filter.StoreID != nil && reservation.StoreID != *filter.StoreID {
			continue
		}
		if filter.MachineID != nil && reservation.MachineID != *filter.MachineID {
			continue
		}
		if filter.Status != "" && reservation.Status != filter.Status {
			continue
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

func (store *stubStore) UpdateReservationProgress(ctx context.Context, reservationID ReservationID, status ReservationStatus, progress int) error {
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return ErrUnknownReservation
	}
	if reservation.Status != ReservationStatusActive {
		return ErrReservationClosed
	}
	reservation.Status = status
	reservation.Progress = progress
	store.reservations[reservationID] = reservation
	store.reservationUpdates++
	return nil
}

func (store *stubStore) mustMachine(test *testing.T, storeID StoreID, machineID MachineID) Machine {
	test.Helper()
	machine, ok := store.machines[machineKey(storeID, machineID)]
	if !ok {
		test.Fatalf("machine %s/%s not found", storeID, machineID)
	}
	return machine
}

func (store *stubStore) mustReservation(test *testing.T, reservationID ReservationID) Reservation {
	test.Helper()
	reservation, ok := store.reservations[reservationID]
	if !ok {
		test.Fatalf("reservation %s not found", reservationID.String())
	}
	return reservation
}

// seedMachine registers a store (if needed) and an available machine.
func (store *stubStore) seedMachine(test *testing.T, rawStoreID string, rawMachineID string, machineType MachineType, price Amount) Machine {
	test.Helper()
	storeID := mustStoreID(test, rawStoreID)
	if _, err := store.GetLaundryStore(context.Background(), storeID); err != nil {
		store.laundryStores = append(store.laundryStores, LaundryStore{ID: storeID, Name: rawStoreID, Status: StoreStatusOpen})
	}
	machine := Machine{
		ID:       mustMachineID(test, rawMachineID),
		StoreID:  storeID,
		Type:     machineType,
		Status:   MachineStatusAvailable,
		Capacity: 8,
		Price:    price,
	}
	if err := store.UpsertMachine(context.Background(), machine); err != nil {
		test.Fatalf("seed machine: %v", err)
	}
	return machine
}

func (store *stubStore) seedBalance(test *testing.T, userID UserID, amount Amount) {
	test.Helper()
	store.entries = append(store.entries, WalletEntry{
		EntryID:        fmt.Sprintf("seed-%d", len(store.entries)),
		UserID:         userID,
		Type:           WalletEntryTopUp,
		Amount:         amount,
		IdempotencyKey: mustIdempotencyKey(test, fmt.Sprintf("seed-%d", len(store.entries))),
	})
}

// manualClock is a settable clock for deterministic tests.
type manualClock struct {
	now time.Time
}

func (clock *manualClock) Now() time.Time {
	return clock.now
}

func (clock *manualClock) Advance(duration time.Duration) {
	clock.now = clock.now.Add(duration)
}

func sequentialIDs() func() string {
	counter := 0
	return func() string {
		counter++
		return fmt.Sprintf("id-%d", counter)
	}
}

func mustNewService(test *testing.T, store Store, clock *manualClock, options ...ServiceOption) *Service {
	test.Helper()
	options = append([]ServiceOption{WithIDGenerator(sequentialIDs())}, options...)
	service, err := NewService(store, clock.Now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustStoreID(test *testing.T, raw string) StoreID {
	test.Helper()
	storeID, err := NewStoreID(raw)
	if err != nil {
		test.Fatalf("store id: %v", err)
	}
	return storeID
}

func mustMachineID(test *testing.T, raw string) MachineID {
	test.Helper()
	machineID, err := NewMachineID(raw)
	if err != nil {
		test.Fatalf("machine id: %v", err)
	}
	return machineID
}

func mustReservationID(test *testing.T, raw string) ReservationID {
	test.Helper()
	reservationID, err := NewReservationID(raw)
	if err != nil {
		test.Fatalf("reservation id: %v", err)
	}
	return reservationID
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

func mustDescriptor(test *testing.T, machine Machine) MachineDescriptor {
	test.Helper()
	descriptor, err := NewMachineDescriptor(machine.StoreID.String(), machine.ID.String(), machine.Type.String(), machine.Price.Int64(), machine.Capacity, machine.Features)
	if err != nil {
		test.Fatalf("descriptor: %v", err)
	}
	return descriptor
}

func (store *stubStore) AddFavorite(ctx context.Context, userID UserID, storeID StoreID) error {
	if store.favoriteError != nil {
		return store.favoriteError
	}
	for _, saved := range store.favorites[userID] {
		if saved == storeID {
			return nil
		}
	}
	store.favorites[userID] = append(store.favorites[userID], storeID)
	return nil
}

func (store *stubStore) RemoveFavorite(ctx context.Context, userID UserID, storeID StoreID) error {
	if store.favoriteError != nil {
		return store.favoriteError
	}
	kept := store.favorites[userID][:0]
	for _, saved := range store.favorites[userID] {
		if saved != storeID {
			kept = append(kept, saved)
		}
	}
	store.favorites[userID] = kept
	return nil
}

func (store *stubStore) ListFavorites(ctx context.Context, userID UserID) ([]StoreID, error) {
	if store.favoriteError != nil {
		return nil, store.favoriteError
	}
	return append([]StoreID(nil), store.favorites[userID]...), nil
}
