// Package storetest holds the behavioural contract every laundry.Store
// implementation must satisfy.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
)

// Factory builds an empty store for a single test.
type Factory func(test *testing.T) laundry.Store

var contractEpoch = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

// Run executes the contract against stores produced by factory.
func Run(test *testing.T, factory Factory) {
	test.Run("catalog", func(test *testing.T) { testCatalog(test, factory(test)) })
	test.Run("machine status compare and set", func(test *testing.T) { testMachineStatus(test, factory(test)) })
	test.Run("wallet entries", func(test *testing.T) { testWallet(test, factory(test)) })
	test.Run("reservations", func(test *testing.T) { testReservations(test, factory(test)) })
	test.Run("transaction rollback", func(test *testing.T) { testRollback(test, factory(test)) })
	test.Run("wallet lock", func(test *testing.T) { testWalletLock(test, factory(test)) })
	test.Run("concurrent wallet activations", func(test *testing.T) { testConcurrentWalletActivations(test, factory(test)) })
	test.Run("favorites", func(test *testing.T) { testFavorites(test, factory(test)) })
}

func testCatalog(test *testing.T, store laundry.Store) {
	ctx := context.Background()
	seedStore(test, store, "2", "Fresh Laundry")
	seedStore(test, store, "1", "Clean Express")
	updated := laundry.LaundryStore{ID: mustStoreID(test, "1"), Name: "Clean Express Q1", Status: laundry.StoreStatusOpen, Rating: 4.6, Latitude: 10.7769, Longitude: 106.7009}
	if err := store.UpsertLaundryStore(ctx, updated); err != nil {
		test.Fatalf("upsert store: %v", err)
	}

	stores, err := store.ListLaundryStores(ctx)
	if err != nil {
		test.Fatalf("list stores: %v", err)
	}
	if len(stores) != 2 || stores[0].ID.String() != "1" || stores[1].ID.String() != "2" {
		test.Fatalf("expected stores 1,2 got %+v", stores)
	}
	fetched, err := store.GetLaundryStore(ctx, mustStoreID(test, "1"))
	if err != nil {
		test.Fatalf("get store: %v", err)
	}
	if fetched.Name != "Clean Express Q1" || fetched.Rating != 4.6 {
		test.Fatalf("upsert did not replace store: %+v", fetched)
	}
	if _, err := store.GetLaundryStore(ctx, mustStoreID(test, "9")); !errors.Is(err, laundry.ErrUnknownStore) {
		test.Fatalf("expected ErrUnknownStore, got %v", err)
	}

	washer := seedMachine(test, store, "1", "W001", laundry.MachineTypeWashing)
	seedMachine(test, store, "1", "D001", laundry.MachineTypeDrying)
	machines, err := store.ListMachines(ctx, mustStoreID(test, "1"))
	if err != nil {
		test.Fatalf("list machines: %v", err)
	}
	if len(machines) != 2 || machines[0].ID.String() != "D001" || machines[1].ID.String() != "W001" {
		test.Fatalf("expected D001,W001 got %+v", machines)
	}
	fetchedMachine, err := store.GetMachine(ctx, washer.StoreID, washer.ID)
	if err != nil {
		test.Fatalf("get machine: %v", err)
	}
	if fetchedMachine.Price != washer.Price || fetchedMachine.Capacity != washer.Capacity || len(fetchedMachine.Features) != 2 || fetchedMachine.Features[0] != "Hot water" {
		test.Fatalf("machine fields lost: %+v", fetchedMachine)
	}
	if _, err := store.GetMachine(ctx, washer.StoreID, mustMachineID(test, "W999")); !errors.Is(err, laundry.ErrUnknownMachine) {
		test.Fatalf("expected ErrUnknownMachine, got %v", err)
	}
	orphan := washer
	orphan.StoreID = mustStoreID(test, "9")
	if err := store.UpsertMachine(ctx, orphan); !errors.Is(err, laundry.ErrUnknownStore) {
		test.Fatalf("expected ErrUnknownStore for orphan machine, got %v", err)
	}
}

func testMachineStatus(test *testing.T, store laundry.Store) {
	ctx := context.Background()
	seedStore(test, store, "1", "Clean Express")
	washer := seedMachine(test, store, "1", "W001", laundry.MachineTypeWashing)

	if err := store.UpdateMachineStatus(ctx, washer.StoreID, washer.ID, laundry.MachineStatusAvailable, laundry.MachineStatusInUse); err != nil {
		test.Fatalf("update status: %v", err)
	}
	err := store.UpdateMachineStatus(ctx, washer.StoreID, washer.ID, laundry.MachineStatusAvailable, laundry.MachineStatusInUse)
	if !errors.Is(err, laundry.ErrMachineUnavailable) {
		test.Fatalf("expected ErrMachineUnavailable, got %v", err)
	}
	err = store.UpdateMachineStatus(ctx, washer.StoreID, mustMachineID(test, "W404"), laundry.MachineStatusAvailable, laundry.MachineStatusInUse)
	if !errors.Is(err, laundry.ErrUnknownMachine) {
		test.Fatalf("expected ErrUnknownMachine, got %v", err)
	}
	machine, err := store.GetMachine(ctx, washer.StoreID, washer.ID)
	if err != nil {
		test.Fatalf("get machine: %v", err)
	}
	if machine.Status != laundry.MachineStatusInUse {
		test.Fatalf("expected in-use, got %s", machine.Status)
	}
}

func testWallet(test *testing.T, store laundry.Store) {
	ctx := context.Background()
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")
	insertEntry(test, store, "e-1", alice, laundry.WalletEntryTopUp, 50_000, "k-1", nil)
	insertEntry(test, store, "e-2", alice, laundry.WalletEntryBonus, 5_000, "k-1:bonus", nil)
	reservationID := mustReservationID(test, "r-1")
	insertEntry(test, store, "e-3", alice, laundry.WalletEntryDebit, -35_000, "activation:r-1", &reservationID)
	insertEntry(test, store, "e-4", bob, laundry.WalletEntryTopUp, 10_000, "k-1", nil)

	err := store.InsertWalletEntry(ctx, laundry.WalletEntry{
		EntryID:        "e-5",
		UserID:         alice,
		Type:           laundry.WalletEntryTopUp,
		Amount:         1,
		IdempotencyKey: mustKey(test, "k-1"),
		CreatedAt:      contractEpoch,
	})
	if !errors.Is(err, laundry.ErrDuplicateIdempotencyKey) {
		test.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	total, err := store.SumWallet(ctx, alice)
	if err != nil {
		test.Fatalf("sum wallet: %v", err)
	}
	if total != 20_000 {
		test.Fatalf("expected 20000, got %d", total)
	}
	empty, err := store.SumWallet(ctx, mustUserID(test, "nobody"))
	if err != nil || empty != 0 {
		test.Fatalf("expected empty wallet 0, got %d (%v)", empty, err)
	}

	entries, err := store.ListWalletEntries(ctx, alice, 2)
	if err != nil {
		test.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 || entries[0].EntryID != "e-3" || entries[1].EntryID != "e-2" {
		test.Fatalf("expected newest first e-3,e-2 got %+v", entries)
	}
	if entries[0].ReservationID == nil || *entries[0].ReservationID != reservationID {
		test.Fatalf("reservation link lost: %+v", entries[0])
	}
	if entries[0].Amount != -35_000 || entries[0].Type != laundry.WalletEntryDebit {
		test.Fatalf("debit fields lost: %+v", entries[0])
	}
	for _, limit := range []int{0, -1} {
		all, err := store.ListWalletEntries(ctx, alice, limit)
		if err != nil {
			test.Fatalf("list entries with limit %d: %v", limit, err)
		}
		if len(all) != 3 || all[0].EntryID != "e-3" {
			test.Fatalf("limit %d: expected all three entries, got %+v", limit, all)
		}
	}
}

func testWalletLock(test *testing.T, store laundry.Store) {
	ctx := context.Background()
	alice := mustUserID(test, "alice")
	insertEntry(test, store, "e-1", alice, laundry.WalletEntryTopUp, 50_000, "k-1", nil)
	err := store.WithTx(ctx, func(ctx context.Context, txStore laundry.Store) error {
		if err := txStore.LockWallet(ctx, alice); err != nil {
			return err
		}
		if err := txStore.LockWallet(ctx, alice); err != nil {
			return fmt.Errorf("relock: %w", err)
		}
		return txStore.LockWallet(ctx, mustUserID(test, "newcomer"))
	})
	if err != nil {
		test.Fatalf("lock wallets: %v", err)
	}
	total, err := store.SumWallet(ctx, alice)
	if err != nil || total != 50_000 {
		test.Fatalf("lock changed the balance: %d (%v)", total, err)
	}
}

func testFavorites(test *testing.T, store laundry.Store) {
	ctx := context.Background()
	seedStore(test, store, "2", "Fresh Laundry")
	seedStore(test, store, "1", "Clean Express")
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")

	for _, rawID := range []string{"2", "1", "2"} {
		if err := store.AddFavorite(ctx, alice, mustStoreID(test, rawID)); err != nil {
			test.Fatalf("add favorite %s: %v", rawID, err)
		}
	}
	if err := store.AddFavorite(ctx, alice, mustStoreID(test, "9")); !errors.Is(err, laundry.ErrUnknownStore) {
		test.Fatalf("expected ErrUnknownStore, got %v", err)
	}
	favorites, err := store.ListFavorites(ctx, alice)
	if err != nil {
		test.Fatalf("list favorites: %v", err)
	}
	if len(favorites) != 2 || favorites[0].String() != "1" || favorites[1].String() != "2" {
		test.Fatalf("expected favorites 1,2 got %v", favorites)
	}
	if others, err := store.ListFavorites(ctx, bob); err != nil || len(others) != 0 {
		test.Fatalf("expected no favorites for bob, got %v (%v)", others, err)
	}

	if err := store.RemoveFavorite(ctx, alice, mustStoreID(test, "2")); err != nil {
		test.Fatalf("remove favorite: %v", err)
	}
	if err := store.RemoveFavorite(ctx, bob, mustStoreID(test, "2")); err != nil {
		test.Fatalf("remove missing favorite: %v", err)
	}
	rollback := errors.New("rollback")
	err = store.WithTx(ctx, func(ctx context.Context, txStore laundry.Store) error {
		if err := txStore.AddFavorite(ctx, bob, mustStoreID(test, "1")); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		test.Fatalf("expected rollback error, got %v", err)
	}
	favorites, err = store.ListFavorites(ctx, alice)
	if err != nil || len(favorites) != 1 || favorites[0].String() != "1" {
		test.Fatalf("expected favorite 1 after removal, got %v (%v)", favorites, err)
	}
	if others, err := store.ListFavorites(ctx, bob); err != nil || len(others) != 0 {
		test.Fatalf("rolled back favorite survived: %v (%v)", others, err)
	}
}

func testConcurrentWalletActivations(test *testing.T, store laundry.Store) {
	const machineCount = 4
	ctx := context.Background()
	seedStore(test, store, "1", "Clean Express")
	alice := mustUserID(test, "alice")
	insertEntry(test, store, "e-1", alice, laundry.WalletEntryTopUp, 50_000, "k-1", nil)
	descriptors := make([]laundry.MachineDescriptor, 0, machineCount)
	for index := 0; index < machineCount; index++ {
		machine := seedMachine(test, store, "1", fmt.Sprintf("W%03d", index+1), laundry.MachineTypeWashing)
		descriptor, err := laundry.NewMachineDescriptor(machine.StoreID.String(), machine.ID.String(), machine.Type.String(), machine.Price.Int64(), machine.Capacity, machine.Features)
		if err != nil {
			test.Fatalf("descriptor: %v", err)
		}
		descriptors = append(descriptors, descriptor)
	}
	service, err := laundry.NewService(store, func() time.Time { return contractEpoch })
	if err != nil {
		test.Fatalf("service: %v", err)
	}

	results := make(chan error, machineCount)
	var waitGroup sync.WaitGroup
	for _, descriptor := range descriptors {
		waitGroup.Add(1)
		go func(descriptor laundry.MachineDescriptor) {
			defer waitGroup.Done()
			_, activateErr := service.Activate(ctx, laundry.ActivationRequest{
				UserID:        alice,
				Descriptor:    descriptor,
				PaymentMethod: laundry.PaymentMethodWallet,
			})
			results <- activateErr
		}(descriptor)
	}
	waitGroup.Wait()
	close(results)

	succeeded := 0
	for activateErr := range results {
		switch {
		case activateErr == nil:
			succeeded++
		case errors.Is(activateErr, laundry.ErrInsufficientBalance):
		default:
			test.Fatalf("unexpected activation error: %v", activateErr)
		}
	}
	if succeeded != 1 {
		test.Fatalf("expected exactly one paid activation, got %d", succeeded)
	}
	total, err := store.SumWallet(ctx, alice)
	if err != nil {
		test.Fatalf("sum wallet: %v", err)
	}
	if total != 15_000 {
		test.Fatalf("expected balance 15000, got %d", total)
	}
}

func testReservations(test *testing.T, store laundry.Store) {
	ctx := context.Background()
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")
	first := buildReservation(test, "r-1", alice, "W001", contractEpoch)
	second := buildReservation(test, "r-2", bob, "D001", contractEpoch.Add(time.Minute))
	for _, reservation := range []laundry.Reservation{second, first} {
		if err := store.CreateReservation(ctx, reservation); err != nil {
			test.Fatalf("create reservation %s: %v", reservation.ID, err)
		}
	}
	if err := store.CreateReservation(ctx, first); !errors.Is(err, laundry.ErrReservationExists) {
		test.Fatalf("expected ErrReservationExists, got %v", err)
	}

	fetched, err := store.GetReservation(ctx, first.ID)
	if err != nil {
		test.Fatalf("get reservation: %v", err)
	}
	if !fetched.StartTime.Equal(first.StartTime) || !fetched.EndTime.Equal(first.EndTime) {
		test.Fatalf("times lost: %+v", fetched)
	}
	if fetched.UserID != alice || fetched.MachineType != laundry.MachineTypeWashing || fetched.PaymentStatus != laundry.PaymentStatusPaid || fetched.TotalAmount != 35_000 {
		test.Fatalf("fields lost: %+v", fetched)
	}
	if _, err := store.GetReservation(ctx, mustReservationID(test, "missing")); !errors.Is(err, laundry.ErrUnknownReservation) {
		test.Fatalf("expected ErrUnknownReservation, got %v", err)
	}

	all, err := store.ListReservations(ctx, laundry.ReservationFilter{})
	if err != nil {
		test.Fatalf("list reservations: %v", err)
	}
	if len(all) != 2 || all[0].ID != first.ID || all[1].ID != second.ID {
		test.Fatalf("expected r-1,r-2 ordered by start, got %+v", all)
	}
	forBob, err := store.ListReservations(ctx, laundry.ReservationFilter{UserID: &bob})
	if err != nil || len(forBob) != 1 || forBob[0].ID != second.ID {
		test.Fatalf("expected bob's reservation, got %+v (%v)", forBob, err)
	}

	if err := store.UpdateReservationProgress(ctx, first.ID, laundry.ReservationStatusActive, 40); err != nil {
		test.Fatalf("update progress: %v", err)
	}
	if err := store.UpdateReservationProgress(ctx, first.ID, laundry.ReservationStatusCompleted, 100); err != nil {
		test.Fatalf("complete: %v", err)
	}
	if err := store.UpdateReservationProgress(ctx, first.ID, laundry.ReservationStatusActive, 10); !errors.Is(err, laundry.ErrReservationClosed) {
		test.Fatalf("expected ErrReservationClosed, got %v", err)
	}
	if err := store.UpdateReservationProgress(ctx, mustReservationID(test, "missing"), laundry.ReservationStatusActive, 10); !errors.Is(err, laundry.ErrUnknownReservation) {
		test.Fatalf("expected ErrUnknownReservation, got %v", err)
	}
	active, err := store.ListReservations(ctx, laundry.ReservationFilter{Status: laundry.ReservationStatusActive})
	if err != nil || len(active) != 1 || active[0].ID != second.ID {
		test.Fatalf("expected only r-2 active, got %+v (%v)", active, err)
	}
	completed, err := store.GetReservation(ctx, first.ID)
	if err != nil || completed.Status != laundry.ReservationStatusCompleted || completed.Progress != 100 {
		test.Fatalf("unexpected completed reservation %+v (%v)", completed, err)
	}
}

func testRollback(test *testing.T, store laundry.Store) {
	ctx := context.Background()
	userID := mustUserID(test, "alice")
	errAbort := errors.New("abort")
	err := store.WithTx(ctx, func(ctx context.Context, transactionStore laundry.Store) error {
		insertEntry(test, transactionStore, "e-1", userID, laundry.WalletEntryTopUp, 50_000, "k-1", nil)
		if err := transactionStore.CreateReservation(ctx, buildReservation(test, "r-1", userID, "W001", contractEpoch)); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		test.Fatalf("expected abort error, got %v", err)
	}
	total, err := store.SumWallet(ctx, userID)
	if err != nil || total != 0 {
		test.Fatalf("expected rolled back balance 0, got %d (%v)", total, err)
	}
	if _, err := store.GetReservation(ctx, mustReservationID(test, "r-1")); !errors.Is(err, laundry.ErrUnknownReservation) {
		test.Fatalf("expected rolled back reservation, got %v", err)
	}

	err = store.WithTx(ctx, func(ctx context.Context, transactionStore laundry.Store) error {
		insertEntry(test, transactionStore, "e-2", userID, laundry.WalletEntryTopUp, 10_000, "k-2", nil)
		return nil
	})
	if err != nil {
		test.Fatalf("commit: %v", err)
	}
	total, err = store.SumWallet(ctx, userID)
	if err != nil || total != 10_000 {
		test.Fatalf("expected committed balance 10000, got %d (%v)", total, err)
	}
}

func seedStore(test *testing.T, store laundry.Store, rawID string, name string) {
	test.Helper()
	err := store.UpsertLaundryStore(context.Background(), laundry.LaundryStore{
		ID:        mustStoreID(test, rawID),
		Name:      name,
		Address:   "District 1",
		Status:    laundry.StoreStatusOpen,
		Rating:    4.5,
		Phone:     "028 1234 5678",
		Latitude:  10.7769,
		Longitude: 106.7009,
	})
	if err != nil {
		test.Fatalf("seed store: %v", err)
	}
}

func seedMachine(test *testing.T, store laundry.Store, rawStoreID string, rawMachineID string, machineType laundry.MachineType) laundry.Machine {
	test.Helper()
	machine := laundry.Machine{
		ID:       mustMachineID(test, rawMachineID),
		StoreID:  mustStoreID(test, rawStoreID),
		Type:     machineType,
		Status:   laundry.MachineStatusAvailable,
		Capacity: 8,
		Price:    35_000,
		Features: []string{"Hot water", "Quick wash"},
	}
	if err := store.UpsertMachine(context.Background(), machine); err != nil {
		test.Fatalf("seed machine: %v", err)
	}
	return machine
}

func insertEntry(test *testing.T, store laundry.Store, entryID string, userID laundry.UserID, entryType laundry.WalletEntryType, amount laundry.Amount, key string, reservationID *laundry.ReservationID) {
	test.Helper()
	err := store.InsertWalletEntry(context.Background(), laundry.WalletEntry{
		EntryID:        entryID,
		UserID:         userID,
		Type:           entryType,
		Amount:         amount,
		ReservationID:  reservationID,
		IdempotencyKey: mustKey(test, key),
		CreatedAt:      contractEpoch,
	})
	if err != nil {
		test.Fatalf("insert entry %s: %v", entryID, err)
	}
}

func buildReservation(test *testing.T, rawID string, userID laundry.UserID, rawMachineID string, start time.Time) laundry.Reservation {
	test.Helper()
	machineType := laundry.MachineTypeWashing
	if rawMachineID[0] == 'D' {
		machineType = laundry.MachineTypeDrying
	}
	return laundry.Reservation{
		ID:            mustReservationID(test, rawID),
		UserID:        userID,
		StoreID:       mustStoreID(test, "1"),
		MachineID:     mustMachineID(test, rawMachineID),
		MachineType:   machineType,
		StartTime:     start,
		EndTime:       start.Add(machineType.CycleDuration()),
		Status:        laundry.ReservationStatusActive,
		PaymentStatus: laundry.PaymentStatusPaid,
		PaymentMethod: laundry.PaymentMethodWallet,
		TotalAmount:   35_000,
	}
}

func mustUserID(test *testing.T, raw string) laundry.UserID {
	test.Helper()
	value, err := laundry.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustStoreID(test *testing.T, raw string) laundry.StoreID {
	test.Helper()
	value, err := laundry.NewStoreID(raw)
	if err != nil {
		test.Fatalf("store id: %v", err)
	}
	return value
}

func mustMachineID(test *testing.T, raw string) laundry.MachineID {
	test.Helper()
	value, err := laundry.NewMachineID(raw)
	if err != nil {
		test.Fatalf("machine id: %v", err)
	}
	return value
}

func mustReservationID(test *testing.T, raw string) laundry.ReservationID {
	test.Helper()
	value, err := laundry.NewReservationID(raw)
	if err != nil {
		test.Fatalf("reservation id: %v", err)
	}
	return value
}

func mustKey(test *testing.T, raw string) laundry.IdempotencyKey {
	test.Helper()
	value, err := laundry.NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return value
}
