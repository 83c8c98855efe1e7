package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintWalletIdempotency  = "uniq_wallet_user_idem"
	constraintReservationPrimary = "reservations_pkey"
	defaultMetadataJSON          = "{}"
	pgUniqueViolationCode        = "23505"
	mysqlDuplicateEntryCode      = 1062
	sqliteConstraintCode         = 19
	errorOperationStore          = "store"
	errorSubjectBalance          = "balance"
	errorSubjectEntry            = "entry"
	errorSubjectLaundry          = "laundry_store"
	errorSubjectMachine          = "machine"
	errorSubjectReservation      = "reservation"
	errorSubjectWallet           = "wallet"
	errorSubjectFavorite         = "favorite"
	errorCodeCreate              = "create"
	errorCodeDelete              = "delete"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeLock                = "lock"
	errorCodeMigrate             = "migrate"
	errorCodeSum                 = "sum"
	errorCodeUpdateStatus        = "update_status"
	errorCodeUpsert              = "upsert"
)

// Store implements laundry.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the tables used by Store.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return laundry.WrapError(errorOperationStore, "schema", errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore laundry.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// LockWallet creates the user's wallet row if needed and holds it with
// SELECT ... FOR UPDATE until the transaction ends.
func (store *Store) LockWallet(ctx context.Context, userID laundry.UserID) error {
	db := store.db.WithContext(ctx)
	wallet := WalletRecord{UserID: userID.String(), CreatedAt: time.Now().UTC()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&wallet).Error; err != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeLock, err)
	}
	var locked WalletRecord
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID.String()).
		Take(&locked).Error
	if err != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeLock, err)
	}
	return nil
}

func (store *Store) InsertWalletEntry(ctx context.Context, entry laundry.WalletEntry) error {
	var reservationID *string
	if entry.ReservationID != nil {
		value := entry.ReservationID.String()
		reservationID = &value
	}
	record := WalletEntryRecord{
		EntryID:        entry.EntryID,
		UserID:         entry.UserID.String(),
		Type:           entry.Type.String(),
		Amount:         entry.Amount.Int64(),
		ReservationID:  reservationID,
		IdempotencyKey: entry.IdempotencyKey.String(),
		Metadata:       datatypesJSON(entry.Metadata.String()),
		CreatedAt:      entry.CreatedAt.UTC(),
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&record).Error
	if isIdempotencyConflict(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, laundry.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) SumWallet(ctx context.Context, userID laundry.UserID) (laundry.Amount, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&WalletEntryRecord{}).
		Select("coalesce(sum(amount),0) as total").
		Where("user_id = ?", userID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return laundry.Amount(sum.Total), nil
}

func (store *Store) ListWalletEntries(ctx context.Context, userID laundry.UserID, limit int) ([]laundry.WalletEntry, error) {
	var rows []WalletEntryRecord
	query := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("sequence DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]laundry.WalletEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapWalletEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) UpsertLaundryStore(ctx context.Context, laundryStore laundry.LaundryStore) error {
	record := LaundryStoreRecord{
		StoreID:   laundryStore.ID.String(),
		Name:      laundryStore.Name,
		Address:   laundryStore.Address,
		Status:    string(laundryStore.Status),
		Rating:    laundryStore.Rating,
		Phone:     laundryStore.Phone,
		Latitude:  laundryStore.Latitude,
		Longitude: laundryStore.Longitude,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "address", "status", "rating", "phone", "latitude", "longitude", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return wrapStoreError(errorSubjectLaundry, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) GetLaundryStore(ctx context.Context, storeID laundry.StoreID) (laundry.LaundryStore, error) {
	var record LaundryStoreRecord
	err := store.db.WithContext(ctx).Where("store_id = ?", storeID.String()).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return laundry.LaundryStore{}, wrapStoreError(errorSubjectLaundry, errorCodeGet, laundry.ErrUnknownStore)
		}
		return laundry.LaundryStore{}, wrapStoreError(errorSubjectLaundry, errorCodeGet, err)
	}
	laundryStore, err := mapLaundryStore(record)
	if err != nil {
		return laundry.LaundryStore{}, wrapStoreError(errorSubjectLaundry, errorCodeInvalid, err)
	}
	return laundryStore, nil
}

func (store *Store) ListLaundryStores(ctx context.Context) ([]laundry.LaundryStore, error) {
	var records []LaundryStoreRecord
	if err := store.db.WithContext(ctx).Order("store_id ASC").Find(&records).Error; err != nil {
		return nil, wrapStoreError(errorSubjectLaundry, errorCodeList, err)
	}
	stores := make([]laundry.LaundryStore, 0, len(records))
	for _, record := range records {
		laundryStore, err := mapLaundryStore(record)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLaundry, errorCodeInvalid, err)
		}
		stores = append(stores, laundryStore)
	}
	return stores, nil
}

func (store *Store) UpsertMachine(ctx context.Context, machine laundry.Machine) error {
	var count int64
	err := store.db.WithContext(ctx).Model(&LaundryStoreRecord{}).Where("store_id = ?", machine.StoreID.String()).Count(&count).Error
	if err != nil {
		return wrapStoreError(errorSubjectMachine, errorCodeUpsert, err)
	}
	if count == 0 {
		return wrapStoreError(errorSubjectMachine, errorCodeUpsert, laundry.ErrUnknownStore)
	}
	record := MachineRecord{
		StoreID:   machine.StoreID.String(),
		MachineID: machine.ID.String(),
		Type:      machine.Type.String(),
		Status:    machine.Status.String(),
		Capacity:  machine.Capacity,
		Price:     machine.Price.Int64(),
		Features:  datatypes.NewJSONSlice(append([]string{}, machine.Features...)),
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_id"}, {Name: "machine_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"type", "status", "capacity", "price", "features", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return wrapStoreError(errorSubjectMachine, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) GetMachine(ctx context.Context, storeID laundry.StoreID, machineID laundry.MachineID) (laundry.Machine, error) {
	var record MachineRecord
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("store_id = ? AND machine_id = ?", storeID.String(), machineID.String()).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return laundry.Machine{}, wrapStoreError(errorSubjectMachine, errorCodeGet, laundry.ErrUnknownMachine)
		}
		return laundry.Machine{}, wrapStoreError(errorSubjectMachine, errorCodeGet, err)
	}
	machine, err := mapMachine(record)
	if err != nil {
		return laundry.Machine{}, wrapStoreError(errorSubjectMachine, errorCodeInvalid, err)
	}
	return machine, nil
}

func (store *Store) ListMachines(ctx context.Context, storeID laundry.StoreID) ([]laundry.Machine, error) {
	var records []MachineRecord
	err := store.db.WithContext(ctx).
		Where("store_id = ?", storeID.String()).
		Order("machine_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectMachine, errorCodeList, err)
	}
	machines := make([]laundry.Machine, 0, len(records))
	for _, record := range records {
		machine, err := mapMachine(record)
		if err != nil {
			return nil, wrapStoreError(errorSubjectMachine, errorCodeInvalid, err)
		}
		machines = append(machines, machine)
	}
	return machines, nil
}

func (store *Store) UpdateMachineStatus(ctx context.Context, storeID laundry.StoreID, machineID laundry.MachineID, from laundry.MachineStatus, to laundry.MachineStatus) error {
	result := store.db.WithContext(ctx).
		Model(&MachineRecord{}).
		Where("store_id = ? AND machine_id = ? AND status = ?", storeID.String(), machineID.String(), from.String()).
		Updates(map[string]interface{}{"status": to.String(), "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectMachine, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var count int64
	err := store.db.WithContext(ctx).
		Model(&MachineRecord{}).
		Where("store_id = ? AND machine_id = ?", storeID.String(), machineID.String()).
		Count(&count).Error
	if err != nil {
		return wrapStoreError(errorSubjectMachine, errorCodeUpdateStatus, err)
	}
	if count == 0 {
		return wrapStoreError(errorSubjectMachine, errorCodeUpdateStatus, laundry.ErrUnknownMachine)
	}
	return wrapStoreError(errorSubjectMachine, errorCodeUpdateStatus, laundry.ErrMachineUnavailable)
}

func (store *Store) CreateReservation(ctx context.Context, reservation laundry.Reservation) error {
	record := ReservationRecord{
		ReservationID: reservation.ID.String(),
		UserID:        reservation.UserID.String(),
		StoreID:       reservation.StoreID.String(),
		MachineID:     reservation.MachineID.String(),
		MachineType:   reservation.MachineType.String(),
		StartTime:     reservation.StartTime.UTC(),
		EndTime:       reservation.EndTime.UTC(),
		Status:        reservation.Status.String(),
		PaymentStatus: reservation.PaymentStatus.String(),
		PaymentMethod: reservation.PaymentMethod.String(),
		TotalAmount:   reservation.TotalAmount.Int64(),
		Progress:      reservation.Progress,
	}
	err := store.db.WithContext(ctx).Create(&record).Error
	if isReservationConflict(err) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, laundry.ErrReservationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetReservation(ctx context.Context, reservationID laundry.ReservationID) (laundry.Reservation, error) {
	var record ReservationRecord
	err := store.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID.String()).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return laundry.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, laundry.ErrUnknownReservation)
		}
		return laundry.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, err)
	}
	reservation, err := mapReservation(record)
	if err != nil {
		return laundry.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

func (store *Store) ListReservations(ctx context.Context, filter laundry.ReservationFilter) ([]laundry.Reservation, error) {
	query := store.db.WithContext(ctx).Model(&ReservationRecord{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", filter.UserID.String())
	}
	if filter.StoreID != nil {
		query = query.Where("store_id = ?", filter.StoreID.String())
	}
	if filter.MachineID != nil {
		query = query.Where("machine_id = ?", filter.MachineID.String())
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status.String())
	}
	var records []ReservationRecord
	if err := query.Order("start_time ASC").Order("reservation_id ASC").Find(&records).Error; err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
	}
	reservations := make([]laundry.Reservation, 0, len(records))
	for _, record := range records {
		reservation, err := mapReservation(record)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

func (store *Store) UpdateReservationProgress(ctx context.Context, reservationID laundry.ReservationID, status laundry.ReservationStatus, progress int) error {
	result := store.db.WithContext(ctx).
		Model(&ReservationRecord{}).
		Where("reservation_id = ? AND status = ?", reservationID.String(), laundry.ReservationStatusActive.String()).
		Updates(map[string]interface{}{"status": status.String(), "progress": progress, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var count int64
	err := store.db.WithContext(ctx).
		Model(&ReservationRecord{}).
		Where("reservation_id = ?", reservationID.String()).
		Count(&count).Error
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, err)
	}
	if count == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, laundry.ErrUnknownReservation)
	}
	return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, laundry.ErrReservationClosed)
}

func (store *Store) AddFavorite(ctx context.Context, userID laundry.UserID, storeID laundry.StoreID) error {
	var count int64
	err := store.db.WithContext(ctx).Model(&LaundryStoreRecord{}).Where("store_id = ?", storeID.String()).Count(&count).Error
	if err != nil {
		return wrapStoreError(errorSubjectFavorite, errorCodeCreate, err)
	}
	if count == 0 {
		return wrapStoreError(errorSubjectFavorite, errorCodeCreate, laundry.ErrUnknownStore)
	}
	record := FavoriteRecord{UserID: userID.String(), StoreID: storeID.String(), CreatedAt: time.Now().UTC()}
	if err := store.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		return wrapStoreError(errorSubjectFavorite, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) RemoveFavorite(ctx context.Context, userID laundry.UserID, storeID laundry.StoreID) error {
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND store_id = ?", userID.String(), storeID.String()).
		Delete(&FavoriteRecord{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectFavorite, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) ListFavorites(ctx context.Context, userID laundry.UserID) ([]laundry.StoreID, error) {
	var records []FavoriteRecord
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("store_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectFavorite, errorCodeList, err)
	}
	storeIDs := make([]laundry.StoreID, 0, len(records))
	for _, record := range records {
		storeID, err := laundry.NewStoreID(record.StoreID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectFavorite, errorCodeInvalid, err)
		}
		storeIDs = append(storeIDs, storeID)
	}
	return storeIDs, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return laundry.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapLaundryStore(record LaundryStoreRecord) (laundry.LaundryStore, error) {
	storeID, err := laundry.NewStoreID(record.StoreID)
	if err != nil {
		return laundry.LaundryStore{}, err
	}
	return laundry.LaundryStore{
		ID:        storeID,
		Name:      record.Name,
		Address:   record.Address,
		Status:    laundry.StoreStatus(record.Status),
		Rating:    record.Rating,
		Phone:     record.Phone,
		Latitude:  record.Latitude,
		Longitude: record.Longitude,
	}, nil
}

func mapMachine(record MachineRecord) (laundry.Machine, error) {
	storeID, err := laundry.NewStoreID(record.StoreID)
	if err != nil {
		return laundry.Machine{}, err
	}
	machineID, err := laundry.NewMachineID(record.MachineID)
	if err != nil {
		return laundry.Machine{}, err
	}
	machineType, err := laundry.ParseMachineType(record.Type)
	if err != nil {
		return laundry.Machine{}, err
	}
	status, err := laundry.ParseMachineStatus(record.Status)
	if err != nil {
		return laundry.Machine{}, err
	}
	return laundry.Machine{
		ID:       machineID,
		StoreID:  storeID,
		Type:     machineType,
		Status:   status,
		Capacity: record.Capacity,
		Price:    laundry.Amount(record.Price),
		Features: append([]string(nil), record.Features...),
	}, nil
}

func mapReservation(record ReservationRecord) (laundry.Reservation, error) {
	reservationID, err := laundry.NewReservationID(record.ReservationID)
	if err != nil {
		return laundry.Reservation{}, err
	}
	userID, err := laundry.NewUserID(record.UserID)
	if err != nil {
		return laundry.Reservation{}, err
	}
	storeID, err := laundry.NewStoreID(record.StoreID)
	if err != nil {
		return laundry.Reservation{}, err
	}
	machineID, err := laundry.NewMachineID(record.MachineID)
	if err != nil {
		return laundry.Reservation{}, err
	}
	machineType, err := laundry.ParseMachineType(record.MachineType)
	if err != nil {
		return laundry.Reservation{}, err
	}
	status, err := laundry.ParseReservationStatus(record.Status)
	if err != nil {
		return laundry.Reservation{}, err
	}
	paymentStatus, err := laundry.ParsePaymentStatus(record.PaymentStatus)
	if err != nil {
		return laundry.Reservation{}, err
	}
	paymentMethod, err := laundry.ParsePaymentMethod(record.PaymentMethod)
	if err != nil {
		return laundry.Reservation{}, err
	}
	return laundry.Reservation{
		ID:            reservationID,
		UserID:        userID,
		StoreID:       storeID,
		MachineID:     machineID,
		MachineType:   machineType,
		StartTime:     record.StartTime.UTC(),
		EndTime:       record.EndTime.UTC(),
		Status:        status,
		PaymentStatus: paymentStatus,
		PaymentMethod: paymentMethod,
		TotalAmount:   laundry.Amount(record.TotalAmount),
		Progress:      record.Progress,
	}, nil
}

func mapWalletEntry(row WalletEntryRecord) (laundry.WalletEntry, error) {
	userID, err := laundry.NewUserID(row.UserID)
	if err != nil {
		return laundry.WalletEntry{}, err
	}
	entryType, err := laundry.ParseWalletEntryType(row.Type)
	if err != nil {
		return laundry.WalletEntry{}, err
	}
	var reservationID *laundry.ReservationID
	if row.ReservationID != nil {
		parsedReservationID, err := laundry.NewReservationID(*row.ReservationID)
		if err != nil {
			return laundry.WalletEntry{}, err
		}
		reservationID = &parsedReservationID
	}
	idempotencyKey, err := laundry.NewIdempotencyKey(row.IdempotencyKey)
	if err != nil {
		return laundry.WalletEntry{}, err
	}
	metadata, err := laundry.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return laundry.WalletEntry{}, err
	}
	return laundry.WalletEntry{
		EntryID:        row.EntryID,
		UserID:         userID,
		Type:           entryType,
		Amount:         laundry.Amount(row.Amount),
		ReservationID:  reservationID,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		CreatedAt:      row.CreatedAt.UTC(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isIdempotencyConflict(err error) bool {
	return isUniqueViolation(err, constraintWalletIdempotency)
}

func isReservationConflict(err error) bool {
	return isUniqueViolation(err, constraintReservationPrimary)
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntryCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
