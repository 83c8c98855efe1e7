package laundry

import (
	"context"
	"errors"
	"fmt"
)

// AddFavorite saves storeID for userID. Saving a store twice is a no-op.
func (service *Service) AddFavorite(ctx context.Context, userID UserID, storeID StoreID) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := validateFavorite(userID, storeID); err != nil {
			return err
		}
		if _, err := transactionStore.GetLaundryStore(ctx, storeID); err != nil {
			return err
		}
		return transactionStore.AddFavorite(ctx, userID, storeID)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAddFavorite,
		UserID:    userID,
		StoreID:   storeID,
		Error:     operationError,
	})
	return operationError
}

// RemoveFavorite forgets storeID for userID. Removing an unsaved store is a no-op.
func (service *Service) RemoveFavorite(ctx context.Context, userID UserID, storeID StoreID) error {
	operationError := validateFavorite(userID, storeID)
	if operationError == nil {
		operationError = service.store.RemoveFavorite(ctx, userID, storeID)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationRemoveFavorite,
		UserID:    userID,
		StoreID:   storeID,
		Error:     operationError,
	})
	return operationError
}

// Favorites returns the user's saved stores. Stores that have left the
// catalog are skipped.
func (service *Service) Favorites(ctx context.Context, userID UserID) ([]LaundryStore, error) {
	if userID.String() == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	storeIDs, err := service.store.ListFavorites(ctx, userID)
	if err != nil {
		return nil, err
	}
	stores := make([]LaundryStore, 0, len(storeIDs))
	for _, storeID := range storeIDs {
		laundryStore, err := service.store.GetLaundryStore(ctx, storeID)
		if errors.Is(err, ErrUnknownStore) {
			continue
		}
		if err != nil {
			return nil, err
		}
		stores = append(stores, laundryStore)
	}
	return stores, nil
}

func validateFavorite(userID UserID, storeID StoreID) error {
	if userID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if storeID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidStoreID)
	}
	return nil
}
