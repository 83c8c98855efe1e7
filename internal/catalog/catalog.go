// Package catalog loads the laundromat catalog and demo wallets from YAML and
// writes them into a store.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	"gopkg.in/yaml.v3"
)

const seedKeyPrefix = "seed"

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the YAML document shape.
type Seed struct {
	Stores  []StoreSeed  `yaml:"stores"`
	Wallets []WalletSeed `yaml:"wallets"`
}

// StoreSeed describes one store and its machines.
type StoreSeed struct {
	ID        string        `yaml:"id"`
	Name      string        `yaml:"name"`
	Address   string        `yaml:"address"`
	Status    string        `yaml:"status"`
	Rating    float64       `yaml:"rating"`
	Phone     string        `yaml:"phone"`
	Latitude  float64       `yaml:"latitude"`
	Longitude float64       `yaml:"longitude"`
	Machines  []MachineSeed `yaml:"machines"`
}

// MachineSeed describes one washer or dryer.
type MachineSeed struct {
	ID       string   `yaml:"id"`
	Type     string   `yaml:"type"`
	Status   string   `yaml:"status"`
	Capacity int      `yaml:"capacity"`
	Price    int64    `yaml:"price"`
	Features []string `yaml:"features"`
}

// WalletSeed is an opening wallet credit.
type WalletSeed struct {
	UserID string `yaml:"user_id"`
	Amount int64  `yaml:"amount"`
}

// Granter credits wallets. *laundry.Service satisfies it.
type Granter interface {
	Grant(ctx context.Context, userID laundry.UserID, amount laundry.Amount, idempotencyKey laundry.IdempotencyKey, metadata laundry.MetadataJSON) error
}

// Summary counts what Apply wrote.
type Summary struct {
	Stores   int
	Machines int
	Wallets  int
}

// Default returns the embedded seed.
func Default() (Seed, error) {
	return Parse(defaultSeed)
}

// LoadFile reads a seed from path. An empty path selects the embedded seed.
func LoadFile(path string) (Seed, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML seed.
func Parse(raw []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("catalog: decode: %w", err)
	}
	if _, _, err := seed.records(); err != nil {
		return Seed{}, err
	}
	for _, wallet := range seed.Wallets {
		if _, err := wallet.credit(); err != nil {
			return Seed{}, err
		}
	}
	return seed, nil
}

// Apply upserts stores and machines inside one transaction, then grants each
// wallet seed once. Machines already known keep their current status so a
// restart does not free a machine with a running cycle. Seeded in-use or
// reserved machines start available because no reservation backs them.
func Apply(ctx context.Context, store laundry.Store, granter Granter, seed Seed) (Summary, error) {
	stores, machines, err := seed.records()
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{}
	err = store.WithTx(ctx, func(ctx context.Context, transactionStore laundry.Store) error {
		for _, laundryStore := range stores {
			if err := transactionStore.UpsertLaundryStore(ctx, laundryStore); err != nil {
				return err
			}
		}
		for _, machine := range machines {
			existing, err := transactionStore.GetMachine(ctx, machine.StoreID, machine.ID)
			switch {
			case err == nil:
				machine.Status = existing.Status
			case !errors.Is(err, laundry.ErrUnknownMachine):
				return err
			}
			if err := transactionStore.UpsertMachine(ctx, machine); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	summary.Stores = len(stores)
	summary.Machines = len(machines)
	for _, wallet := range seed.Wallets {
		credit, err := wallet.credit()
		if err != nil {
			return summary, err
		}
		err = granter.Grant(ctx, credit.userID, credit.amount, credit.idempotencyKey, credit.metadata)
		if errors.Is(err, laundry.ErrDuplicateIdempotencyKey) {
			continue
		}
		if err != nil {
			return summary, err
		}
		summary.Wallets++
	}
	return summary, nil
}

func (seed Seed) records() ([]laundry.LaundryStore, []laundry.Machine, error) {
	stores := make([]laundry.LaundryStore, 0, len(seed.Stores))
	var machines []laundry.Machine
	for _, storeSeed := range seed.Stores {
		storeID, err := laundry.NewStoreID(storeSeed.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("catalog: store %q: %w", storeSeed.ID, err)
		}
		status := laundry.StoreStatus(storeSeed.Status)
		if status != laundry.StoreStatusOpen && status != laundry.StoreStatusClosed {
			return nil, nil, fmt.Errorf("catalog: store %s: unknown status %q", storeSeed.ID, storeSeed.Status)
		}
		stores = append(stores, laundry.LaundryStore{
			ID:        storeID,
			Name:      storeSeed.Name,
			Address:   storeSeed.Address,
			Status:    status,
			Rating:    storeSeed.Rating,
			Phone:     storeSeed.Phone,
			Latitude:  storeSeed.Latitude,
			Longitude: storeSeed.Longitude,
		})
		for _, machineSeed := range storeSeed.Machines {
			machine, err := machineSeed.machine(storeID)
			if err != nil {
				return nil, nil, fmt.Errorf("catalog: store %s machine %q: %w", storeSeed.ID, machineSeed.ID, err)
			}
			machines = append(machines, machine)
		}
	}
	return stores, machines, nil
}

func (machineSeed MachineSeed) machine(storeID laundry.StoreID) (laundry.Machine, error) {
	machineID, err := laundry.NewMachineID(machineSeed.ID)
	if err != nil {
		return laundry.Machine{}, err
	}
	machineType, err := laundry.ParseMachineType(machineSeed.Type)
	if err != nil {
		return laundry.Machine{}, err
	}
	status := laundry.MachineStatusAvailable
	if machineSeed.Status != "" {
		status, err = laundry.ParseMachineStatus(machineSeed.Status)
		if err != nil {
			return laundry.Machine{}, err
		}
	}
	if status == laundry.MachineStatusInUse || status == laundry.MachineStatusReserved {
		status = laundry.MachineStatusAvailable
	}
	price, err := laundry.NewPositiveAmount(machineSeed.Price)
	if err != nil {
		return laundry.Machine{}, err
	}
	return laundry.Machine{
		ID:       machineID,
		StoreID:  storeID,
		Type:     machineType,
		Status:   status,
		Capacity: machineSeed.Capacity,
		Price:    price,
		Features: append([]string(nil), machineSeed.Features...),
	}, nil
}

type walletCredit struct {
	userID         laundry.UserID
	amount         laundry.Amount
	idempotencyKey laundry.IdempotencyKey
	metadata       laundry.MetadataJSON
}

func (wallet WalletSeed) credit() (walletCredit, error) {
	userID, err := laundry.NewUserID(wallet.UserID)
	if err != nil {
		return walletCredit{}, fmt.Errorf("catalog: wallet %q: %w", wallet.UserID, err)
	}
	amount, err := laundry.NewPositiveAmount(wallet.Amount)
	if err != nil {
		return walletCredit{}, fmt.Errorf("catalog: wallet %s: %w", wallet.UserID, err)
	}
	idempotencyKey, err := laundry.NewIdempotencyKey(seedKeyPrefix + ":" + userID.String())
	if err != nil {
		return walletCredit{}, err
	}
	metadata, err := laundry.NewMetadataJSON(`{"source":"seed"}`)
	if err != nil {
		return walletCredit{}, err
	}
	return walletCredit{userID: userID, amount: amount, idempotencyKey: idempotencyKey, metadata: metadata}, nil
}
