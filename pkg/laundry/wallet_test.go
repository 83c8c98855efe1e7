package laundry

import (
	"context"
	"errors"
	"testing"
)

func TestTopUpBonus(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		amount Amount
		want   Amount
	}{
		{amount: 10_000, want: 0},
		{amount: 199_999, want: 0},
		{amount: 200_000, want: 20_000},
		{amount: 500_005, want: 50_000},
		{amount: 200_099, want: 20_009},
		{amount: 2_000_000_000_000_000_000, want: 200_000_000_000_000_000},
		{amount: 9_223_372_036_854_775_807, want: 922_337_203_685_477_580},
	}
	for _, testCase := range testCases {
		if got := TopUpBonus(testCase.amount); got != testCase.want {
			test.Fatalf("bonus for %d: expected %d, got %d", testCase.amount, testCase.want, got)
		}
	}
}

func TestTopUpCreditsAmountAndBonus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, &manualClock{now: testEpoch})
	userID := mustUserID(test, "user1")

	result, err := service.TopUp(context.Background(), userID, 200_000, mustIdempotencyKey(test, "topup-1"), mustMetadata(test, `{"source":"card"}`))
	if err != nil {
		test.Fatalf("top up: %v", err)
	}
	if result.Bonus != 20_000 || result.Balance.Amount != 220_000 {
		test.Fatalf("unexpected result: %+v", result)
	}
	if len(store.entries) != 2 {
		test.Fatalf("expected top-up and bonus entries, got %d", len(store.entries))
	}
	bonus := store.entries[1]
	if bonus.Type != WalletEntryBonus || bonus.IdempotencyKey.String() != "topup-1:bonus" {
		test.Fatalf("unexpected bonus entry: %+v", bonus)
	}
}

func TestTopUpEnforcesLimits(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name        string
		amount      Amount
		wantErr     error
		wantBonus   Amount
		wantBalance Amount
	}{
		{name: "below minimum", amount: 9_999, wantErr: ErrInvalidAmount},
		{name: "minimum", amount: 10_000, wantBalance: 10_000},
		{name: "maximum", amount: maximumTopUp, wantBonus: 10_000_000, wantBalance: 110_000_000},
		{name: "above maximum", amount: maximumTopUp + 1, wantErr: ErrInvalidAmount},
		{name: "int64 overflow range", amount: 1_000_000_000_000_000_000, wantErr: ErrInvalidAmount},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			service := mustNewService(test, store, &manualClock{now: testEpoch})
			result, err := service.TopUp(context.Background(), mustUserID(test, "user1"), testCase.amount, mustIdempotencyKey(test, "topup-1"), MetadataJSON{})
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				if len(store.entries) != 0 {
					test.Fatalf("expected no entries, got %d", len(store.entries))
				}
				return
			}
			if err != nil {
				test.Fatalf("top up: %v", err)
			}
			if result.Bonus != testCase.wantBonus || result.Balance.Amount != testCase.wantBalance {
				test.Fatalf("unexpected result: %+v", result)
			}
		})
	}
}

func TestTopUpRefusesBalanceCeiling(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, &manualClock{now: testEpoch})
	userID := mustUserID(test, "user1")
	store.seedBalance(test, userID, maximumWalletBalance-50_000)

	_, err := service.TopUp(context.Background(), userID, 50_001, mustIdempotencyKey(test, "topup-1"), MetadataJSON{})
	if !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := service.Grant(context.Background(), userID, 50_001, mustIdempotencyKey(test, "grant-1"), MetadataJSON{}); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected grant refused, got %v", err)
	}
	result, err := service.TopUp(context.Background(), userID, 50_000, mustIdempotencyKey(test, "topup-2"), MetadataJSON{})
	if err != nil {
		test.Fatalf("top up to ceiling: %v", err)
	}
	if result.Balance.Amount != maximumWalletBalance {
		test.Fatalf("expected balance at ceiling, got %d", result.Balance.Amount)
	}
	if store.unlockedSums != 0 {
		test.Fatalf("expected balance reads under the wallet lock, got %d unlocked", store.unlockedSums)
	}
}

func TestTopUpRejectsDuplicateKey(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, &manualClock{now: testEpoch})
	userID := mustUserID(test, "user1")
	key := mustIdempotencyKey(test, "topup-1")

	if _, err := service.TopUp(context.Background(), userID, 50_000, key, MetadataJSON{}); err != nil {
		test.Fatalf("first top up: %v", err)
	}
	_, err := service.TopUp(context.Background(), userID, 50_000, key, MetadataJSON{})
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		test.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.Amount != 50_000 {
		test.Fatalf("expected balance 50000, got %d", balance.Amount)
	}
}

func TestGrantSkipsMinimumAndBonus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store, &manualClock{now: testEpoch})
	userID := mustUserID(test, "user1")

	if err := service.Grant(context.Background(), userID, 500, mustIdempotencyKey(test, "seed:user1"), MetadataJSON{}); err != nil {
		test.Fatalf("grant: %v", err)
	}
	if err := service.Grant(context.Background(), userID, 0, mustIdempotencyKey(test, "seed:zero"), MetadataJSON{}); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if len(store.entries) != 1 || store.entries[0].Amount != 500 {
		test.Fatalf("unexpected entries: %+v", store.entries)
	}
}

func TestListWalletEntriesNormalizesLimit(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		limit int
		want  int
	}{
		{limit: 0, want: defaultEntryLimit},
		{limit: -3, want: defaultEntryLimit},
		{limit: 10, want: 10},
		{limit: 10_000, want: maximumEntryLimit},
	}
	for _, testCase := range testCases {
		if got := normalizeEntryLimit(testCase.limit); got != testCase.want {
			test.Fatalf("limit %d: expected %d, got %d", testCase.limit, testCase.want, got)
		}
	}

	store := newStubStore(test)
	service := mustNewService(test, store, &manualClock{now: testEpoch})
	userID := mustUserID(test, "user1")
	for _, key := range []string{"a", "b", "c"} {
		if _, err := service.TopUp(context.Background(), userID, 10_000, mustIdempotencyKey(test, key), MetadataJSON{}); err != nil {
			test.Fatalf("top up %s: %v", key, err)
		}
	}
	entries, err := service.ListWalletEntries(context.Background(), userID, 2)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].IdempotencyKey.String() != "c" {
		test.Fatalf("expected newest two entries, got %+v", entries)
	}
	if _, err := service.ListWalletEntries(context.Background(), UserID{}, 2); !errors.Is(err, ErrInvalidUserID) {
		test.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}
