package laundry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MachineDescriptor is the payload printed on a machine's QR code.
type MachineDescriptor struct {
	StoreID   StoreID
	MachineID MachineID
	Type      MachineType
	Price     Amount
	Capacity  int
	Features  []string
}

type descriptorPayload struct {
	StoreID   string   `json:"storeId"`
	MachineID string   `json:"machineId"`
	Type      string   `json:"type"`
	Price     int64    `json:"price"`
	Capacity  int      `json:"capacity"`
	Features  []string `json:"features"`
}

// ParseMachineDescriptor decodes and validates a scanned QR payload.
// Every failure unwraps to ErrInvalidMachineDescriptor.
func ParseMachineDescriptor(raw []byte) (MachineDescriptor, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return MachineDescriptor{}, fmt.Errorf("%w: empty payload", ErrInvalidMachineDescriptor)
	}
	var payload descriptorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return MachineDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidMachineDescriptor, err)
	}
	return NewMachineDescriptor(payload.StoreID, payload.MachineID, payload.Type, payload.Price, payload.Capacity, payload.Features)
}

// NewMachineDescriptor validates descriptor fields supplied individually.
func NewMachineDescriptor(rawStoreID string, rawMachineID string, rawType string, price int64, capacity int, features []string) (MachineDescriptor, error) {
	storeID, err := NewStoreID(rawStoreID)
	if err != nil {
		return MachineDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidMachineDescriptor, err)
	}
	machineID, err := NewMachineID(rawMachineID)
	if err != nil {
		return MachineDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidMachineDescriptor, err)
	}
	machineType, err := ParseMachineType(rawType)
	if err != nil {
		return MachineDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidMachineDescriptor, err)
	}
	amount, err := NewPositiveAmount(price)
	if err != nil {
		return MachineDescriptor{}, fmt.Errorf("%w: %v", ErrInvalidMachineDescriptor, err)
	}
	if capacity < 0 {
		return MachineDescriptor{}, fmt.Errorf("%w: negative capacity", ErrInvalidMachineDescriptor)
	}
	return MachineDescriptor{
		StoreID:   storeID,
		MachineID: machineID,
		Type:      machineType,
		Price:     amount,
		Capacity:  capacity,
		Features:  append([]string(nil), features...),
	}, nil
}

// validate rejects descriptors that were not built by NewMachineDescriptor,
// such as the zero value.
func (descriptor MachineDescriptor) validate() error {
	if descriptor.StoreID.String() == "" || descriptor.MachineID.String() == "" {
		return fmt.Errorf("%w: missing store or machine id", ErrInvalidMachineDescriptor)
	}
	if _, err := ParseMachineType(descriptor.Type.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMachineDescriptor, err)
	}
	return nil
}

// Marshal renders the descriptor back into its QR payload form.
func (descriptor MachineDescriptor) Marshal() ([]byte, error) {
	return json.Marshal(descriptorPayload{
		StoreID:   descriptor.StoreID.String(),
		MachineID: descriptor.MachineID.String(),
		Type:      descriptor.Type.String(),
		Price:     descriptor.Price.Int64(),
		Capacity:  descriptor.Capacity,
		Features:  descriptor.Features,
	})
}
