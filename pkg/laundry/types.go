package laundry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Amount is an integer currency amount in Vietnamese dong.
type Amount int64

// Int64 returns the raw integer value.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// NewPositiveAmount validates an amount and ensures it is strictly positive.
func NewPositiveAmount(raw int64) (Amount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// UserID identifies a wallet and reservation owner.
type UserID struct {
	value string
}

// StoreID identifies a laundry store.
type StoreID struct {
	value string
}

// MachineID identifies a machine inside a store.
type MachineID struct {
	value string
}

// ReservationID identifies a reservation.
type ReservationID struct {
	value string
}

// IdempotencyKey scopes duplicate wallet entry detection.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewStoreID validates and normalizes a store id.
func NewStoreID(raw string) (StoreID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return StoreID{}, fmt.Errorf("%w: empty value", ErrInvalidStoreID)
	}
	return StoreID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id StoreID) String() string {
	return id.value
}

// NewMachineID validates and normalizes a machine id.
func NewMachineID(raw string) (MachineID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return MachineID{}, fmt.Errorf("%w: empty value", ErrInvalidMachineID)
	}
	return MachineID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id MachineID) String() string {
	return id.value
}

// NewReservationID validates and normalizes a reservation id.
func NewReservationID(raw string) (ReservationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReservationID{}, fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	return ReservationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ReservationID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// MachineType distinguishes washers from dryers.
type MachineType string

const (
	MachineTypeWashing MachineType = "washing"
	MachineTypeDrying  MachineType = "drying"
)

const (
	washingCycle = 40 * time.Minute
	dryingCycle  = 30 * time.Minute
)

// ParseMachineType validates a raw machine type.
func ParseMachineType(raw string) (MachineType, error) {
	switch MachineType(strings.ToLower(strings.TrimSpace(raw))) {
	case MachineTypeWashing:
		return MachineTypeWashing, nil
	case MachineTypeDrying:
		return MachineTypeDrying, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMachineType, raw)
	}
}

// CycleDuration is the fixed cycle length for the machine type.
func (machineType MachineType) CycleDuration() time.Duration {
	if machineType == MachineTypeWashing {
		return washingCycle
	}
	return dryingCycle
}

// String returns the raw value.
func (machineType MachineType) String() string {
	return string(machineType)
}

// MachineStatus is the availability of a machine.
type MachineStatus string

const (
	MachineStatusAvailable   MachineStatus = "available"
	MachineStatusInUse       MachineStatus = "in-use"
	MachineStatusReserved    MachineStatus = "reserved"
	MachineStatusMaintenance MachineStatus = "maintenance"
)

// ParseMachineStatus validates a raw machine status.
func ParseMachineStatus(raw string) (MachineStatus, error) {
	switch MachineStatus(strings.TrimSpace(raw)) {
	case MachineStatusAvailable:
		return MachineStatusAvailable, nil
	case MachineStatusInUse:
		return MachineStatusInUse, nil
	case MachineStatusReserved:
		return MachineStatusReserved, nil
	case MachineStatusMaintenance:
		return MachineStatusMaintenance, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMachineStatus, raw)
	}
}

// String returns the raw value.
func (status MachineStatus) String() string {
	return string(status)
}

// ReservationStatus defines reservation lifecycle.
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusCompleted ReservationStatus = "completed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

// ParseReservationStatus validates a raw reservation status.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	switch ReservationStatus(strings.TrimSpace(raw)) {
	case ReservationStatusActive:
		return ReservationStatusActive, nil
	case ReservationStatusCompleted:
		return ReservationStatusCompleted, nil
	case ReservationStatusCancelled:
		return ReservationStatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReservationStatus, raw)
	}
}

// String returns the raw value.
func (status ReservationStatus) String() string {
	return string(status)
}

// PaymentStatus is set once at activation.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// ParsePaymentStatus validates a raw payment status.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	switch PaymentStatus(strings.TrimSpace(raw)) {
	case PaymentStatusPending:
		return PaymentStatusPending, nil
	case PaymentStatusPaid:
		return PaymentStatusPaid, nil
	case PaymentStatusRefunded:
		return PaymentStatusRefunded, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, raw)
	}
}

// String returns the raw value.
func (status PaymentStatus) String() string {
	return string(status)
}

// PaymentMethod selects how an activation is paid.
type PaymentMethod string

const (
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodDirect PaymentMethod = "direct"
)

// ParsePaymentMethod validates a raw payment method.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentMethodWallet:
		return PaymentMethodWallet, nil
	case PaymentMethodDirect:
		return PaymentMethodDirect, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, raw)
	}
}

// PaymentStatus derives the initial payment status for the method.
func (method PaymentMethod) PaymentStatus() PaymentStatus {
	if method == PaymentMethodWallet {
		return PaymentStatusPaid
	}
	return PaymentStatusPending
}

// String returns the raw value.
func (method PaymentMethod) String() string {
	return string(method)
}

// StoreStatus reports whether a store is open.
type StoreStatus string

const (
	StoreStatusOpen   StoreStatus = "open"
	StoreStatusClosed StoreStatus = "closed"
)

// LaundryStore is a self-service laundromat.
type LaundryStore struct {
	ID        StoreID
	Name      string
	Address   string
	Status    StoreStatus
	Rating    float64
	Phone     string
	Latitude  float64
	Longitude float64
}

// Machine is a washer or dryer in the catalog.
type Machine struct {
	ID       MachineID
	StoreID  StoreID
	Type     MachineType
	Status   MachineStatus
	Capacity int
	Price    Amount
	Features []string
}

// Reservation binds a user to a machine for a fixed cycle window.
type Reservation struct {
	ID            ReservationID
	UserID        UserID
	StoreID       StoreID
	MachineID     MachineID
	MachineType   MachineType
	StartTime     time.Time
	EndTime       time.Time
	Status        ReservationStatus
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	TotalAmount   Amount
	Progress      int
}

// ReservationFilter narrows ListReservations. Zero values match everything.
type ReservationFilter struct {
	UserID    *UserID
	StoreID   *StoreID
	MachineID *MachineID
	Status    ReservationStatus
}

// WalletEntryType enumerates wallet ledger entry kinds.
type WalletEntryType string

const (
	WalletEntryTopUp WalletEntryType = "topup"
	WalletEntryBonus WalletEntryType = "bonus"
	WalletEntryDebit WalletEntryType = "debit"
)

// ParseWalletEntryType validates a raw entry type.
func ParseWalletEntryType(raw string) (WalletEntryType, error) {
	switch WalletEntryType(strings.TrimSpace(raw)) {
	case WalletEntryTopUp:
		return WalletEntryTopUp, nil
	case WalletEntryBonus:
		return WalletEntryBonus, nil
	case WalletEntryDebit:
		return WalletEntryDebit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
	}
}

// String returns the raw value.
func (entryType WalletEntryType) String() string {
	return string(entryType)
}

// WalletEntry is a single immutable line in a user's wallet ledger.
// Amount is signed: credits are positive, debits negative.
type WalletEntry struct {
	EntryID        string
	UserID         UserID
	Type           WalletEntryType
	Amount         Amount
	ReservationID  *ReservationID
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
	CreatedAt      time.Time
}

// Balance is the spendable wallet balance.
type Balance struct {
	Amount Amount
}
