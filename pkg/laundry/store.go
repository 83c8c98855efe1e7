package laundry

import "context"

// WalletStore persists the append-only wallet ledger.
type WalletStore interface {
	// LockWallet serializes balance-dependent writes for userID until the
	// surrounding transaction ends.
	LockWallet(ctx context.Context, userID UserID) error
	InsertWalletEntry(ctx context.Context, entry WalletEntry) error
	SumWallet(ctx context.Context, userID UserID) (Amount, error)
	// ListWalletEntries returns newest first; a non-positive limit returns
	// every entry.
	ListWalletEntries(ctx context.Context, userID UserID, limit int) ([]WalletEntry, error)
}

// CatalogStore persists laundry stores and their machines.
type CatalogStore interface {
	UpsertLaundryStore(ctx context.Context, store LaundryStore) error
	GetLaundryStore(ctx context.Context, storeID StoreID) (LaundryStore, error)
	ListLaundryStores(ctx context.Context) ([]LaundryStore, error)
	UpsertMachine(ctx context.Context, machine Machine) error
	GetMachine(ctx context.Context, storeID StoreID, machineID MachineID) (Machine, error)
	ListMachines(ctx context.Context, storeID StoreID) ([]Machine, error)
	// UpdateMachineStatus is a compare-and-set; it fails with
	// ErrMachineUnavailable when the current status is not from.
	UpdateMachineStatus(ctx context.Context, storeID StoreID, machineID MachineID, from MachineStatus, to MachineStatus) error
}

// ReservationStore persists reservations.
type ReservationStore interface {
	CreateReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, reservationID ReservationID) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	// UpdateReservationProgress only touches active reservations; it fails
	// with ErrReservationClosed otherwise.
	UpdateReservationProgress(ctx context.Context, reservationID ReservationID, status ReservationStatus, progress int) error
}

// FavoritesStore persists the laundry stores each user has saved.
type FavoritesStore interface {
	// AddFavorite and RemoveFavorite are idempotent.
	AddFavorite(ctx context.Context, userID UserID, storeID StoreID) error
	RemoveFavorite(ctx context.Context, userID UserID, storeID StoreID) error
	// ListFavorites returns store ids in ascending order.
	ListFavorites(ctx context.Context, userID UserID) ([]StoreID, error)
}

// Store is the persistence contract used by Service.
type Store interface {
	WalletStore
	CatalogStore
	ReservationStore
	FavoritesStore
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
}
