package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LaundryStoreRecord mirrors the laundry_stores table.
type LaundryStoreRecord struct {
	StoreID   string    `gorm:"size:64;primaryKey"`
	Name      string    `gorm:"not null"`
	Address   string    `gorm:"not null"`
	Status    string    `gorm:"not null"`
	Rating    float64   `gorm:"not null"`
	Phone     string    `gorm:"not null"`
	Latitude  float64   `gorm:"not null"`
	Longitude float64   `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (LaundryStoreRecord) TableName() string { return "laundry_stores" }

// MachineRecord mirrors the machines table.
type MachineRecord struct {
	StoreID   string                      `gorm:"size:64;primaryKey"`
	MachineID string                      `gorm:"size:64;primaryKey"`
	Type      string                      `gorm:"size:16;not null"`
	Status    string                      `gorm:"size:16;not null;index:idx_machines_status"`
	Capacity  int                         `gorm:"not null"`
	Price     int64                       `gorm:"not null"`
	Features  datatypes.JSONSlice[string] `gorm:"not null"`
	UpdatedAt time.Time                   `gorm:"not null"`
}

func (MachineRecord) TableName() string { return "machines" }

// ReservationRecord mirrors the reservations table.
type ReservationRecord struct {
	ReservationID string    `gorm:"size:64;primaryKey"`
	UserID        string    `gorm:"size:64;not null;index:idx_reservations_user"`
	StoreID       string    `gorm:"size:64;not null;index:idx_reservations_machine,priority:1"`
	MachineID     string    `gorm:"size:64;not null;index:idx_reservations_machine,priority:2"`
	MachineType   string    `gorm:"not null"`
	StartTime     time.Time `gorm:"not null;index:idx_reservations_status_start,priority:2"`
	EndTime       time.Time `gorm:"not null"`
	Status        string    `gorm:"size:16;not null;index:idx_reservations_status_start,priority:1"`
	PaymentStatus string    `gorm:"not null"`
	PaymentMethod string    `gorm:"not null"`
	TotalAmount   int64     `gorm:"not null"`
	Progress      int       `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (ReservationRecord) TableName() string { return "reservations" }

// WalletEntryRecord mirrors the wallet_entries table. Sequence orders entries
// written within the same instant.
type WalletEntryRecord struct {
	Sequence       uint64         `gorm:"primaryKey;autoIncrement"`
	EntryID        string         `gorm:"size:64;not null;uniqueIndex:uniq_wallet_entry_id"`
	UserID         string         `gorm:"size:64;not null;uniqueIndex:uniq_wallet_user_idem,priority:1"`
	Type           string         `gorm:"not null"`
	Amount         int64          `gorm:"not null"`
	ReservationID  *string        `gorm:"size:64;index:idx_wallet_reservation"`
	IdempotencyKey string         `gorm:"size:191;not null;uniqueIndex:uniq_wallet_user_idem,priority:2"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null"`
}

func (WalletEntryRecord) TableName() string { return "wallet_entries" }

func (entry *WalletEntryRecord) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// WalletRecord is the per-user row locked to serialize balance checks.
type WalletRecord struct {
	UserID    string    `gorm:"size:64;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

func (WalletRecord) TableName() string { return "wallets" }

// FavoriteRecord mirrors the favorites table.
type FavoriteRecord struct {
	UserID    string    `gorm:"size:64;primaryKey"`
	StoreID   string    `gorm:"size:64;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

func (FavoriteRecord) TableName() string { return "favorites" }

// Models lists every table managed by the store, in migration order.
func Models() []interface{} {
	return []interface{}{
		&LaundryStoreRecord{},
		&MachineRecord{},
		&ReservationRecord{},
		&WalletRecord{},
		&WalletEntryRecord{},
		&FavoriteRecord{},
	}
}
