package laundry

import (
	"context"
	"fmt"
	"math"
	"sort"
)

const earthRadiusKm = 6371.0

// SearchParams narrows a store search. A nil location disables distance
// filtering and ordering.
type SearchParams struct {
	Latitude      *float64
	Longitude     *float64
	RadiusKm      float64
	MachineType   MachineType
	AvailableOnly bool
}

// MachineView is a machine plus the remaining minutes of its running cycle.
type MachineView struct {
	Machine          Machine
	RemainingMinutes int
}

// StoreView is a search hit.
type StoreView struct {
	Store      LaundryStore
	DistanceKm float64
	Machines   []MachineView
}

// SearchStores lists stores with their machines, closest first when a
// location is given and best rated first otherwise.
func (service *Service) SearchStores(ctx context.Context, params SearchParams) ([]StoreView, error) {
	if (params.Latitude == nil) != (params.Longitude == nil) {
		return nil, fmt.Errorf("%w: latitude and longitude go together", ErrInvalidSearchParams)
	}
	if params.RadiusKm < 0 {
		return nil, fmt.Errorf("%w: negative radius", ErrInvalidSearchParams)
	}
	if params.MachineType != "" {
		if _, err := ParseMachineType(params.MachineType.String()); err != nil {
			return nil, err
		}
	}
	stores, err := service.store.ListLaundryStores(ctx)
	if err != nil {
		return nil, err
	}
	remaining, err := service.remainingByMachine(ctx)
	if err != nil {
		return nil, err
	}
	hasLocation := params.Latitude != nil
	views := make([]StoreView, 0, len(stores))
	for _, laundryStore := range stores {
		distance := 0.0
		if hasLocation {
			distance = HaversineKm(*params.Latitude, *params.Longitude, laundryStore.Latitude, laundryStore.Longitude)
			if params.RadiusKm > 0 && distance > params.RadiusKm {
				continue
			}
		}
		machines, err := service.store.ListMachines(ctx, laundryStore.ID)
		if err != nil {
			return nil, err
		}
		matching := make([]MachineView, 0, len(machines))
		for _, machine := range machines {
			if params.MachineType != "" && machine.Type != params.MachineType {
				continue
			}
			if params.AvailableOnly && machine.Status != MachineStatusAvailable {
				continue
			}
			matching = append(matching, MachineView{Machine: machine, RemainingMinutes: remaining[machineKey(machine.StoreID, machine.ID)]})
		}
		if (params.AvailableOnly || params.MachineType != "") && len(matching) == 0 {
			continue
		}
		views = append(views, StoreView{Store: laundryStore, DistanceKm: distance, Machines: matching})
	}
	sort.SliceStable(views, func(left, right int) bool {
		if hasLocation {
			return views[left].DistanceKm < views[right].DistanceKm
		}
		return views[left].Store.Rating > views[right].Store.Rating
	})
	return views, nil
}

// StoreMachines lists one store's machines.
func (service *Service) StoreMachines(ctx context.Context, storeID StoreID) ([]MachineView, error) {
	if _, err := service.store.GetLaundryStore(ctx, storeID); err != nil {
		return nil, err
	}
	machines, err := service.store.ListMachines(ctx, storeID)
	if err != nil {
		return nil, err
	}
	remaining, err := service.remainingByMachine(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]MachineView, 0, len(machines))
	for _, machine := range machines {
		views = append(views, MachineView{Machine: machine, RemainingMinutes: remaining[machineKey(machine.StoreID, machine.ID)]})
	}
	return views, nil
}

// Machine returns a single catalog machine.
func (service *Service) Machine(ctx context.Context, storeID StoreID, machineID MachineID) (Machine, error) {
	return service.store.GetMachine(ctx, storeID, machineID)
}

func (service *Service) remainingByMachine(ctx context.Context) (map[string]int, error) {
	active, err := service.store.ListReservations(ctx, ReservationFilter{Status: ReservationStatusActive})
	if err != nil {
		return nil, err
	}
	now := service.nowFn()
	remaining := make(map[string]int, len(active))
	for _, reservation := range active {
		remaining[machineKey(reservation.StoreID, reservation.MachineID)] = Project(reservation.StartTime, reservation.EndTime, now).RemainingMinutes
	}
	return remaining, nil
}

func machineKey(storeID StoreID, machineID MachineID) string {
	return storeID.String() + "/" + machineID.String()
}

// HaversineKm is the great-circle distance between two coordinates.
func HaversineKm(fromLatitude float64, fromLongitude float64, toLatitude float64, toLongitude float64) float64 {
	latitudeDelta := degreesToRadians(toLatitude - fromLatitude)
	longitudeDelta := degreesToRadians(toLongitude - fromLongitude)
	a := math.Sin(latitudeDelta/2)*math.Sin(latitudeDelta/2) +
		math.Cos(degreesToRadians(fromLatitude))*math.Cos(degreesToRadians(toLatitude))*
			math.Sin(longitudeDelta/2)*math.Sin(longitudeDelta/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
