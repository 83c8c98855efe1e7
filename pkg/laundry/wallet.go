package laundry

import (
	"context"
	"fmt"
)

// TopUpResult reports what a top-up credited.
type TopUpResult struct {
	Amount  Amount
	Bonus   Amount
	Balance Balance
}

// TopUpBonus is the promotional credit for a top-up amount: 10% (rounded
// down) from 200,000 upward, nothing below.
func TopUpBonus(amount Amount) Amount {
	if amount < bonusTopUpFloor {
		return 0
	}
	return amount/100*bonusPercent + amount%100*bonusPercent/100
}

// Balance returns the spendable wallet balance.
func (service *Service) Balance(ctx context.Context, userID UserID) (Balance, error) {
	if userID.String() == "" {
		return Balance{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	total, err := service.store.SumWallet(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Amount: total}, nil
}

// Grant appends a plain credit with no minimum and no bonus. It is used for
// seeding and operator adjustments.
func (service *Service) Grant(ctx context.Context, userID UserID, amount Amount, idempotencyKey IdempotencyKey, metadata MetadataJSON) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if userID.String() == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidUserID)
		}
		if _, err := NewPositiveAmount(amount.Int64()); err != nil {
			return err
		}
		if err := ensureWalletHeadroom(ctx, transactionStore, userID, amount); err != nil {
			return err
		}
		return transactionStore.InsertWalletEntry(ctx, WalletEntry{
			EntryID:        service.newID(),
			UserID:         userID,
			Type:           WalletEntryTopUp,
			Amount:         amount,
			IdempotencyKey: idempotencyKey,
			Metadata:       metadata,
			CreatedAt:      service.nowFn(),
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationTopUp,
		UserID:    userID,
		Amount:    amount,
		Error:     operationError,
	})
	return operationError
}

// TopUp credits the wallet with amount plus any bonus. The bonus is written as
// its own entry under a derived idempotency key.
func (service *Service) TopUp(ctx context.Context, userID UserID, amount Amount, idempotencyKey IdempotencyKey, metadata MetadataJSON) (TopUpResult, error) {
	var result TopUpResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if userID.String() == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidUserID)
		}
		if amount < minimumTopUp {
			return fmt.Errorf("%w: top-up must be at least %d", ErrInvalidAmount, minimumTopUp)
		}
		if amount > maximumTopUp {
			return fmt.Errorf("%w: top-up must be at most %d", ErrInvalidAmount, maximumTopUp)
		}
		bonus := TopUpBonus(amount)
		if err := ensureWalletHeadroom(ctx, transactionStore, userID, amount+bonus); err != nil {
			return err
		}
		now := service.nowFn()
		if err := transactionStore.InsertWalletEntry(ctx, WalletEntry{
			EntryID:        service.newID(),
			UserID:         userID,
			Type:           WalletEntryTopUp,
			Amount:         amount,
			IdempotencyKey: idempotencyKey,
			Metadata:       metadata,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if bonus > 0 {
			bonusKey, err := deriveIdempotencyKey(idempotencyKey, idempotencySuffixBonus)
			if err != nil {
				return err
			}
			if err := transactionStore.InsertWalletEntry(ctx, WalletEntry{
				EntryID:        service.newID(),
				UserID:         userID,
				Type:           WalletEntryBonus,
				Amount:         bonus,
				IdempotencyKey: bonusKey,
				Metadata:       metadata,
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}
		total, err := transactionStore.SumWallet(ctx, userID)
		if err != nil {
			return err
		}
		result = TopUpResult{Amount: amount, Bonus: bonus, Balance: Balance{Amount: total}}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationTopUp,
		UserID:    userID,
		Amount:    amount + result.Bonus,
		Error:     operationError,
	})
	if operationError != nil {
		return TopUpResult{}, operationError
	}
	return result, nil
}

// ListWalletEntries returns the newest wallet entries first. A non-positive
// limit selects the default; limits above the maximum are clamped.
func (service *Service) ListWalletEntries(ctx context.Context, userID UserID, limit int) ([]WalletEntry, error) {
	if userID.String() == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return service.store.ListWalletEntries(ctx, userID, normalizeEntryLimit(limit))
}

// ensureWalletHeadroom locks the wallet and refuses credits that would push
// the balance past maximumWalletBalance.
func ensureWalletHeadroom(ctx context.Context, transactionStore Store, userID UserID, credit Amount) error {
	if err := transactionStore.LockWallet(ctx, userID); err != nil {
		return err
	}
	balance, err := transactionStore.SumWallet(ctx, userID)
	if err != nil {
		return err
	}
	if credit > maximumWalletBalance-balance {
		return fmt.Errorf("%w: balance would exceed %d", ErrInvalidAmount, maximumWalletBalance)
	}
	return nil
}

func normalizeEntryLimit(limit int) int {
	if limit <= 0 {
		return defaultEntryLimit
	}
	if limit > maximumEntryLimit {
		return maximumEntryLimit
	}
	return limit
}
