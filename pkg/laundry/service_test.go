package laundry

import (
	"context"
	"errors"
	"testing"
	"time"
)

const (
	washerPrice Amount = 35_000
	dryerPrice  Amount = 25_000
)

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, time.Now); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
}

func TestActivateWithWalletDebitsBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	machine := store.seedMachine(test, "store-1", "W001", MachineTypeWashing, washerPrice)
	userID := mustUserID(test, "user1")
	store.seedBalance(test, userID, 50_000)
	clock := &manualClock{now: testEpoch}
	service := mustNewService(test, store, clock)

	reservation, err := service.Activate(context.Background(), ActivationRequest{
		UserID:        userID,
		Descriptor:    mustDescriptor(test, machine),
		PaymentMethod: PaymentMethodWallet,
	})
	if err != nil {
		test.Fatalf("activate: %v", err)
	}

	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.Amount != 15_000 {
		test.Fatalf("expected balance 15000, got %d", balance.Amount)
	}
	if reservation.PaymentStatus != PaymentStatusPaid {
		test.Fatalf("expected paid, got %s", reservation.PaymentStatus)
	}
	if !reservation.EndTime.Equal(testEpoch.Add(40 * time.Minute)) {
		test.Fatalf("expected end %s, got %s", testEpoch.Add(40*time.Minute), reservation.EndTime)
	}
	if reservation.Status != ReservationStatusActive || reservation.Progress != 0 {
		test.Fatalf("unexpected reservation state: %+v", reservation)
	}
	if reservation.TotalAmount != washerPrice {
		test.Fatalf("expected total %d, got %d", washerPrice, reservation.TotalAmount)
	}
	stored := store.mustReservation(test, reservation.ID)
	if stored != reservation {
		test.Fatalf("stored reservation differs: %+v vs %+v", stored, reservation)
	}
	debit := store.entries[len(store.entries)-1]
	if debit.Type != WalletEntryDebit || debit.Amount != -washerPrice {
		test.Fatalf("unexpected debit entry: %+v", debit)
	}
	if debit.ReservationID == nil || *debit.ReservationID != reservation.ID {
		test.Fatalf("debit not linked to reservation: %+v", debit)
	}
	if debit.IdempotencyKey.String() != "activation:"+reservation.ID.String() {
		test.Fatalf("unexpected debit key %q", debit.IdempotencyKey.String())
	}
	if status := store.mustMachine(test, machine.StoreID, machine.ID).Status; status != MachineStatusInUse {
		test.Fatalf("expected machine in-use, got %s", status)
	}
	if len(store.walletLocks) != 1 || store.walletLocks[0] != userID || store.unlockedSums != 0 {
		test.Fatalf("expected the balance check under one wallet lock, locks %v unlocked sums %d", store.walletLocks, store.unlockedSums)
	}
}

func TestActivateReturnsWalletLockErrors(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	machine := store.seedMachine(test, "store-1", "W001", MachineTypeWashing, washerPrice)
	userID := mustUserID(test, "user1")
	store.seedBalance(test, userID, 50_000)
	store.lockWalletError = errors.New("lock timeout")
	service := mustNewService(test, store, &manualClock{now: testEpoch})

	_, err := service.Activate(context.Background(), ActivationRequest{
		UserID:        userID,
		Descriptor:    mustDescriptor(test, machine),
		PaymentMethod: PaymentMethodWallet,
	})
	if !errors.Is(err, store.lockWalletError) {
		test.Fatalf("expected lock error, got %v", err)
	}
	if len(store.reservations) != 0 || len(store.entries) != 1 {
		test.Fatalf("expected no writes, got %d reservations and %d entries", len(store.reservations), len(store.entries))
	}
}

func TestActivateInsufficientBalanceLeavesStateUntouched(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	machine := store.seedMachine(test, "store-1", "W001", MachineTypeWashing, washerPrice)
	userID := mustUserID(test, "user1")
	store.seedBalance(test, userID, 10_000)
	service := mustNewService(test, store, &manualClock{now: testEpoch})

	_, err := service.Activate(context.Background(), ActivationRequest{
		UserID:        userID,
		Descriptor:    mustDescriptor(test, machine),
		PaymentMethod: PaymentMethodWallet,
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if ErrorCode(err) != CodeInsufficientBalance {
		test.Fatalf("expected code %s, got %s", CodeInsufficientBalance, ErrorCode(err))
	}
	if len(store.reservations) != 0 {
		test.Fatalf("expected no reservations, got %d", len(store.reservations))
	}
	balance, _ := service.Balance(context.Background(), userID)
	if balance.Amount != 10_000 {
		test.Fatalf("expected balance unchanged, got %d", balance.Amount)
	}
	if status := store.mustMachine(test, machine.StoreID, machine.ID).Status; status != MachineStatusAvailable {
		test.Fatalf("expected machine available, got %s", status)
	}
}

func TestActivateDirectPaymentIsPending(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	machine := store.seedMachine(test, "store-1", "D001", MachineTypeDrying, dryerPrice)
	service := mustNewService(test, store, &manualClock{now: testEpoch})

	reservation, err := service.Activate(context.Background(), ActivationRequest{
		UserID:        mustUserID(test, "user2"),
		Descriptor:    mustDescriptor(test, machine),
		PaymentMethod: PaymentMethodDirect,
	})
	if err != nil {
		test.Fatalf("activate: %v", err)
	}
	if reservation.PaymentStatus != PaymentStatusPending {
		test.Fatalf("expected pending, got %s", reservation.PaymentStatus)
	}
	if !reservation.EndTime.Equal(testEpoch.Add(30 * time.Minute)) {
		test.Fatalf("expected 30 minute drying cycle, got %s", reservation.EndTime.Sub(reservation.StartTime))
	}
	if len(store.entries) != 0 {
		test.Fatalf("expected no wallet entries, got %d", len(store.entries))
	}
}

func TestActivateRejectsInvalidRequests(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		mutate  func(store *stubStore, request *ActivationRequest)
		wantErr error
	}{
		{
			name: "unknown machine",
			mutate: func(store *stubStore, request *ActivationRequest) {
				request.Descriptor.MachineID = MachineID{value: "W999"}
			},
			wantErr: ErrUnknownMachine,
		},
		{
			name: "type mismatch",
			mutate: func(store *stubStore, request *ActivationRequest) {
				request.Descriptor.Type = MachineTypeDrying
			},
			wantErr: ErrInvalidMachineDescriptor,
		},
		{
			name: "machine busy",
			mutate: func(store *stubStore, request *ActivationRequest) {
				key := machineKey(request.Descriptor.StoreID, request.Descriptor.MachineID)
				machine := store.machines[key]
				machine.Status = MachineStatusMaintenance
				store.machines[key] = machine
			},
			wantErr: ErrMachineUnavailable,
		},
		{
			name: "zero descriptor",
			mutate: func(store *stubStore, request *ActivationRequest) {
				request.Descriptor = MachineDescriptor{}
			},
			wantErr: ErrInvalidMachineDescriptor,
		},
		{
			name: "descriptor without machine id",
			mutate: func(store *stubStore, request *ActivationRequest) {
				request.Descriptor.MachineID = MachineID{}
			},
			wantErr: ErrInvalidMachineDescriptor,
		},
		{
			name: "descriptor with unknown type",
			mutate: func(store *stubStore, request *ActivationRequest) {
				request.Descriptor.Type = MachineType("ironing")
			},
			wantErr: ErrInvalidMachineDescriptor,
		},
		{
			name: "missing user",
			mutate: func(store *stubStore, request *ActivationRequest) {
				request.UserID = UserID{}
			},
			wantErr: ErrInvalidUserID,
		},
		{
			name: "unknown payment method",
			mutate: func(store *stubStore, request *ActivationRequest) {
				request.PaymentMethod = PaymentMethod("cash")
			},
			wantErr: ErrInvalidPaymentMethod,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			machine := store.seedMachine(test, "store-1", "W001", MachineTypeWashing, washerPrice)
			service := mustNewService(test, store, &manualClock{now: testEpoch})
			request := ActivationRequest{
				UserID:        mustUserID(test, "user1"),
				Descriptor:    mustDescriptor(test, machine),
				PaymentMethod: PaymentMethodDirect,
			}
			testCase.mutate(store, &request)

			_, err := service.Activate(context.Background(), request)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
			if len(store.reservations) != 0 {
				test.Fatalf("expected no reservation, got %d", len(store.reservations))
			}
		})
	}
}

func TestActivateUsesCatalogPrice(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	machine := store.seedMachine(test, "store-1", "W001", MachineTypeWashing, washerPrice)
	userID := mustUserID(test, "user1")
	store.seedBalance(test, userID, 100_000)
	service := mustNewService(test, store, &manualClock{now: testEpoch})
	descriptor := mustDescriptor(test, machine)
	descriptor.Price = 1

	reservation, err := service.Activate(context.Background(), ActivationRequest{UserID: userID, Descriptor: descriptor, PaymentMethod: PaymentMethodWallet})
	if err != nil {
		test.Fatalf("activate: %v", err)
	}
	if reservation.TotalAmount != washerPrice {
		test.Fatalf("expected catalog price %d, got %d", washerPrice, reservation.TotalAmount)
	}
}

func TestActivateAssignsDistinctIDs(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	first := store.seedMachine(test, "store-1", "W001", MachineTypeWashing, washerPrice)
	second := store.seedMachine(test, "store-1", "W002", MachineTypeWashing, washerPrice)
	service, err := NewService(store, func() time.Time { return testEpoch })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	userID := mustUserID(test, "user1")

	firstReservation, err := service.Activate(context.Background(), ActivationRequest{UserID: userID, Descriptor: mustDescriptor(test, first), PaymentMethod: PaymentMethodDirect})
	if err != nil {
		test.Fatalf("first activate: %v", err)
	}
	secondReservation, err := service.Activate(context.Background(), ActivationRequest{UserID: userID, Descriptor: mustDescriptor(test, second), PaymentMethod: PaymentMethodDirect})
	if err != nil {
		test.Fatalf("second activate: %v", err)
	}
	if firstReservation.ID == secondReservation.ID {
		test.Fatalf("expected distinct ids, both %s", firstReservation.ID)
	}
}

func TestActivateReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	errStoreFailure := errors.New("store error")
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{name: "sum wallet", configure: func(store *stubStore) { store.sumWalletError = errStoreFailure }},
		{name: "create reservation", configure: func(store *stubStore) { store.createReservationErr = errStoreFailure }},
		{name: "insert entry", configure: func(store *stubStore) { store.insertEntryError = errStoreFailure }},
		{name: "update machine", configure: func(store *stubStore) { store.updateMachineError = errStoreFailure }},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			machine := store.seedMachine(test, "store-1", "W001", MachineTypeWashing, washerPrice)
			userID := mustUserID(test, "user1")
			store.seedBalance(test, userID, 100_000)
			service := mustNewService(test, store, &manualClock{now: testEpoch})
			testCase.configure(store)

			_, err := service.Activate(context.Background(), ActivationRequest{UserID: userID, Descriptor: mustDescriptor(test, machine), PaymentMethod: PaymentMethodWallet})
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf("expected store error, got %v", err)
			}
		})
	}
}

func TestTickAdvancesAndCompletes(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	washer := store.seedMachine(test, "store-1", "W001", MachineTypeWashing, washerPrice)
	dryer := store.seedMachine(test, "store-1", "D001", MachineTypeDrying, dryerPrice)
	clock := &manualClock{now: testEpoch}
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, "user1")
	washing, err := service.Activate(context.Background(), ActivationRequest{UserID: userID, Descriptor: mustDescriptor(test, washer), PaymentMethod: PaymentMethodDirect})
	if err != nil {
		test.Fatalf("activate washer: %v", err)
	}
	drying, err := service.Activate(context.Background(), ActivationRequest{UserID: userID, Descriptor: mustDescriptor(test, dryer), PaymentMethod: PaymentMethodDirect})
	if err != nil {
		test.Fatalf("activate dryer: %v", err)
	}

	clock.Advance(30 * time.Minute)
	observations, err := service.Tick(context.Background())
	if err != nil {
		test.Fatalf("tick: %v", err)
	}
	if len(observations) != 2 {
		test.Fatalf("expected 2 observations, got %d", len(observations))
	}
	if progress := store.mustReservation(test, washing.ID).Progress; progress != 75 {
		test.Fatalf("expected washer progress 75, got %d", progress)
	}
	completedDryer := store.mustReservation(test, drying.ID)
	if completedDryer.Status != ReservationStatusCompleted || completedDryer.Progress != 100 {
		test.Fatalf("expected dryer completed at 100, got %+v", completedDryer)
	}
	if status := store.mustMachine(test, dryer.StoreID, dryer.ID).Status; status != MachineStatusAvailable {
		test.Fatalf("expected dryer released, got %s", status)
	}
	if status := store.mustMachine(test, washer.StoreID, washer.ID).Status; status != MachineStatusInUse {
		test.Fatalf("expected washer still in-use, got %s", status)
	}
	for _, observation := range observations {
		if observation.Reservation.ID == drying.ID && observation.Projection.RemainingMinutes != 0 {
			test.Fatalf("expected completed observation to have 0 minutes, got %d", observation.Projection.RemainingMinutes)
		}
		if observation.Reservation.ID == washing.ID && observation.Projection.RemainingMinutes != 10 {
			test.Fatalf("expected washer 10 minutes remaining, got %d", observation.Projection.RemainingMinutes)
		}
	}
}

func TestTickIsIdempotentForSameClock(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	washer := store.seedMachine(test, "store-1", "W001", MachineTypeWashing, washerPrice)
	clock := &manualClock{now: testEpoch}
	service := mustNewService(test, store, clock)
	reservation, err := service.Activate(context.Background(), ActivationRequest{UserID: mustUserID(test, "user1"), Descriptor: mustDescriptor(test, washer), PaymentMethod: PaymentMethodDirect})
	if err != nil {
		test.Fatalf("activate: %v", err)
	}

	clock.Advance(12 * time.Minute)
	if _, err := service.Tick(context.Background()); err != nil {
		test.Fatalf("first tick: %v", err)
	}
	afterFirst := store.mustReservation(test, reservation.ID)
	updates := store.reservationUpdates
	if _, err := service.Tick(context.Background()); err != nil {
		test.Fatalf("second tick: %v", err)
	}
	if afterSecond := store.mustReservation(test, reservation.ID); afterSecond != afterFirst {
		test.Fatalf("second tick changed state: %+v vs %+v", afterSecond, afterFirst)
	}
	if store.reservationUpdates != updates {
		test.Fatalf("expected no writes on second tick, got %d", store.reservationUpdates-updates)
	}
}

func TestTickLeavesCompletedReservationsAlone(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dryer := store.seedMachine(test, "store-1", "D001", MachineTypeDrying, dryerPrice)
	clock := &manualClock{now: testEpoch}
	service := mustNewService(test, store, clock)
	reservation, err := service.Activate(context.Background(), ActivationRequest{UserID: mustUserID(test, "user1"), Descriptor: mustDescriptor(test, dryer), PaymentMethod: PaymentMethodDirect})
	if err != nil {
		test.Fatalf("activate: %v", err)
	}
	clock.Advance(45 * time.Minute)
	if _, err := service.Tick(context.Background()); err != nil {
		test.Fatalf("tick: %v", err)
	}
	completed := store.mustReservation(test, reservation.ID)

	for round := 0; round < 3; round++ {
		clock.Advance(time.Hour)
		observations, err := service.Tick(context.Background())
		if err != nil {
			test.Fatalf("tick %d: %v", round, err)
		}
		if len(observations) != 0 {
			test.Fatalf("expected no observations for completed reservation, got %d", len(observations))
		}
	}
	if current := store.mustReservation(test, reservation.ID); current != completed {
		test.Fatalf("completed reservation changed: %+v vs %+v", current, completed)
	}
}

func TestTickKeepsMaintenanceMachineUntouched(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	dryer := store.seedMachine(test, "store-1", "D001", MachineTypeDrying, dryerPrice)
	clock := &manualClock{now: testEpoch}
	service := mustNewService(test, store, clock)
	if _, err := service.Activate(context.Background(), ActivationRequest{UserID: mustUserID(test, "user1"), Descriptor: mustDescriptor(test, dryer), PaymentMethod: PaymentMethodDirect}); err != nil {
		test.Fatalf("activate: %v", err)
	}
	key := machineKey(dryer.StoreID, dryer.ID)
	machine := store.machines[key]
	machine.Status = MachineStatusMaintenance
	store.machines[key] = machine

	clock.Advance(31 * time.Minute)
	if _, err := service.Tick(context.Background()); err != nil {
		test.Fatalf("tick: %v", err)
	}
	if status := store.mustMachine(test, dryer.StoreID, dryer.ID).Status; status != MachineStatusMaintenance {
		test.Fatalf("expected maintenance status kept, got %s", status)
	}
}

func TestTickReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.listReservationsError = errors.New("list failed")
	service := mustNewService(test, store, &manualClock{now: testEpoch})
	if _, err := service.Tick(context.Background()); !errors.Is(err, store.listReservationsError) {
		test.Fatalf("expected list error, got %v", err)
	}
}

func TestGetReservationProjectsLiveProgress(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	washer := store.seedMachine(test, "store-1", "W001", MachineTypeWashing, washerPrice)
	clock := &manualClock{now: testEpoch}
	service := mustNewService(test, store, clock)
	reservation, err := service.Activate(context.Background(), ActivationRequest{UserID: mustUserID(test, "user1"), Descriptor: mustDescriptor(test, washer), PaymentMethod: PaymentMethodDirect})
	if err != nil {
		test.Fatalf("activate: %v", err)
	}
	clock.Advance(20 * time.Minute)

	view, err := service.GetReservation(context.Background(), reservation.ID)
	if err != nil {
		test.Fatalf("get reservation: %v", err)
	}
	if view.Projection.Percent != 50 || view.Projection.RemainingMinutes != 20 {
		test.Fatalf("unexpected projection: %+v", view.Projection)
	}
	if _, err := service.GetReservation(context.Background(), mustReservationID(test, "missing")); !errors.Is(err, ErrUnknownReservation) {
		test.Fatalf("expected ErrUnknownReservation, got %v", err)
	}
}

func TestListReservationsFiltersByUserAndStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	first := store.seedMachine(test, "store-1", "W001", MachineTypeWashing, washerPrice)
	second := store.seedMachine(test, "store-1", "D001", MachineTypeDrying, dryerPrice)
	clock := &manualClock{now: testEpoch}
	service := mustNewService(test, store, clock)
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")
	if _, err := service.Activate(context.Background(), ActivationRequest{UserID: alice, Descriptor: mustDescriptor(test, first), PaymentMethod: PaymentMethodDirect}); err != nil {
		test.Fatalf("activate alice: %v", err)
	}
	if _, err := service.Activate(context.Background(), ActivationRequest{UserID: bob, Descriptor: mustDescriptor(test, second), PaymentMethod: PaymentMethodDirect}); err != nil {
		test.Fatalf("activate bob: %v", err)
	}

	views, err := service.ListReservations(context.Background(), ReservationFilter{UserID: &alice})
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(views) != 1 || views[0].Reservation.UserID != alice {
		test.Fatalf("expected one reservation for alice, got %+v", views)
	}
	clock.Advance(35 * time.Minute)
	if _, err := service.Tick(context.Background()); err != nil {
		test.Fatalf("tick: %v", err)
	}
	completed, err := service.ListReservations(context.Background(), ReservationFilter{Status: ReservationStatusCompleted})
	if err != nil {
		test.Fatalf("list completed: %v", err)
	}
	if len(completed) != 1 || completed[0].Reservation.UserID != bob {
		test.Fatalf("expected bob's drying reservation completed, got %+v", completed)
	}
	if completed[0].Projection.Percent != 100 || completed[0].Projection.RemainingMinutes != 0 {
		test.Fatalf("unexpected completed projection: %+v", completed[0].Projection)
	}
	if _, err := service.ListReservations(context.Background(), ReservationFilter{Status: ReservationStatus("paused")}); !errors.Is(err, ErrInvalidReservationStatus) {
		test.Fatalf("expected ErrInvalidReservationStatus, got %v", err)
	}
}
