package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldUserID           = "user_id"
	fieldReservationID    = "reservation_id"
	fieldStoreID          = "store_id"
	fieldMachineType      = "machine_type"
	fieldPaymentMethod    = "payment_method"
	fieldQRPayload        = "qr_payload"
	fieldStatus           = "status"
	fieldAmount           = "amount"
	fieldIdempotencyKey   = "idempotency_key"
	fieldMetadataJSON     = "metadata_json"
	fieldLimit            = "limit"
	fieldLatitude         = "latitude"
	fieldLongitude        = "longitude"
	fieldRadiusKm         = "radius_km"
	fieldAvailableOnly    = "available_only"
	fieldBeforeCompletion = "before_completion"
	fieldEnabled          = "enabled"

	// Struct numbers are doubles; integers beyond 2^53 are not exact.
	maxExactInteger = 1 << 53
)

// LaundryServiceServer exposes the laundry service over gRPC.
type LaundryServiceServer struct {
	laundryService *laundry.Service
	notifier       *laundry.ThresholdNotifier
}

// NewLaundryServiceServer constructs a gRPC server for the laundry service.
func NewLaundryServiceServer(laundryService *laundry.Service, notifier *laundry.ThresholdNotifier) *LaundryServiceServer {
	return &LaundryServiceServer{laundryService: laundryService, notifier: notifier}
}

func (server *LaundryServiceServer) Activate(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := laundry.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	paymentMethod, err := laundry.ParsePaymentMethod(stringField(request, fieldPaymentMethod))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	descriptor, err := laundry.ParseMachineDescriptor([]byte(stringField(request, fieldQRPayload)))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservation, operationError := server.laundryService.Activate(ctx, laundry.ActivationRequest{
		UserID:        userID,
		Descriptor:    descriptor,
		PaymentMethod: paymentMethod,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(map[string]interface{}{
		"reservation": reservationFields(laundry.ReservationView{
			Reservation: reservation,
			Projection:  laundry.Projection{Percent: 0, RemainingMinutes: int(reservation.MachineType.CycleDuration() / time.Minute)},
		}),
	})
}

// GetReservation answers NotFound for reservations owned by another user.
func (server *LaundryServiceServer) GetReservation(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := laundry.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reservationID, err := laundry.NewReservationID(stringField(request, fieldReservationID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	view, operationError := server.laundryService.GetReservation(ctx, reservationID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	if view.Reservation.UserID != userID {
		return nil, mapToGRPCError(laundry.ErrUnknownReservation)
	}
	return respond(map[string]interface{}{"reservation": reservationFields(view)})
}

func (server *LaundryServiceServer) ListReservations(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := laundry.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	filter := laundry.ReservationFilter{UserID: &userID, Status: laundry.ReservationStatus(stringField(request, fieldStatus))}
	if raw := stringField(request, fieldStoreID); raw != "" {
		storeID, err := laundry.NewStoreID(raw)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		filter.StoreID = &storeID
	}
	views, operationError := server.laundryService.ListReservations(ctx, filter)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	reservations := make([]interface{}, 0, len(views))
	for _, view := range views {
		reservations = append(reservations, reservationFields(view))
	}
	return respond(map[string]interface{}{"reservations": reservations})
}

func (server *LaundryServiceServer) GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := laundry.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, operationError := server.laundryService.Balance(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(map[string]interface{}{"balance": balance.Amount.Int64()})
}

func (server *LaundryServiceServer) TopUp(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := laundry.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	rawAmount, _, err := integerField(request, fieldAmount)
	if err != nil {
		return nil, err
	}
	amount, err := laundry.NewPositiveAmount(rawAmount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idempotencyKey, err := laundry.NewIdempotencyKey(stringField(request, fieldIdempotencyKey))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := laundry.NewMetadataJSON(stringField(request, fieldMetadataJSON))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := server.laundryService.TopUp(ctx, userID, amount, idempotencyKey, metadata)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(map[string]interface{}{
		"amount":  result.Amount.Int64(),
		"bonus":   result.Bonus.Int64(),
		"balance": result.Balance.Amount.Int64(),
	})
}

func (server *LaundryServiceServer) ListWalletEntries(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	userID, err := laundry.NewUserID(stringField(request, fieldUserID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit, _, err := integerField(request, fieldLimit)
	if err != nil {
		return nil, err
	}
	entries, operationError := server.laundryService.ListWalletEntries(ctx, userID, int(limit))
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := make([]interface{}, 0, len(entries))
	for _, entry := range entries {
		reservationIDValue := ""
		if entry.ReservationID != nil {
			reservationIDValue = entry.ReservationID.String()
		}
		response = append(response, map[string]interface{}{
			"entry_id":         entry.EntryID,
			"type":             entry.Type.String(),
			"amount":           entry.Amount.Int64(),
			"reservation_id":   reservationIDValue,
			"idempotency_key":  entry.IdempotencyKey.String(),
			"metadata_json":    entry.Metadata.String(),
			"created_unix_utc": entry.CreatedAt.UTC().Unix(),
		})
	}
	return respond(map[string]interface{}{"entries": response})
}

func (server *LaundryServiceServer) SearchStores(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	radiusKm, _, err := numberField(request, fieldRadiusKm)
	if err != nil {
		return nil, err
	}
	availableOnly, _, err := optionalBoolField(request, fieldAvailableOnly)
	if err != nil {
		return nil, err
	}
	params := laundry.SearchParams{
		RadiusKm:      radiusKm,
		MachineType:   laundry.MachineType(stringField(request, fieldMachineType)),
		AvailableOnly: availableOnly,
	}
	latitude, hasLatitude, err := numberField(request, fieldLatitude)
	if err != nil {
		return nil, err
	}
	if hasLatitude {
		params.Latitude = &latitude
	}
	longitude, hasLongitude, err := numberField(request, fieldLongitude)
	if err != nil {
		return nil, err
	}
	if hasLongitude {
		params.Longitude = &longitude
	}
	views, operationError := server.laundryService.SearchStores(ctx, params)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	stores := make([]interface{}, 0, len(views))
	for _, view := range views {
		fields := storeFields(view.Store)
		fields["distance_km"] = view.DistanceKm
		fields["machines"] = machineList(view.Machines)
		stores = append(stores, fields)
	}
	return respond(map[string]interface{}{"stores": stores})
}

func (server *LaundryServiceServer) ListStoreMachines(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	storeID, err := laundry.NewStoreID(stringField(request, fieldStoreID))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	machines, operationError := server.laundryService.StoreMachines(ctx, storeID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(map[string]interface{}{"machines": machineList(machines)})
}

func (server *LaundryServiceServer) GetNotificationSettings(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return respond(settingsFields(server.notifier.Settings()))
}

func (server *LaundryServiceServer) UpdateNotificationSettings(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	current := server.notifier.Settings()
	beforeCompletion := current.BeforeCompletion
	rawBeforeCompletion, hasBeforeCompletion, err := integerField(request, fieldBeforeCompletion)
	if err != nil {
		return nil, err
	}
	if hasBeforeCompletion {
		beforeCompletion = int(rawBeforeCompletion)
	}
	enabled := current.Enabled
	rawEnabled, hasEnabled, err := optionalBoolField(request, fieldEnabled)
	if err != nil {
		return nil, err
	}
	if hasEnabled {
		enabled = rawEnabled
	}
	if operationError := server.notifier.UpdateSettings(ctx, laundry.NotificationSettings{BeforeCompletion: beforeCompletion, Enabled: enabled}); operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return respond(settingsFields(server.notifier.Settings()))
}

func reservationFields(view laundry.ReservationView) map[string]interface{} {
	reservation := view.Reservation
	return map[string]interface{}{
		"reservation_id":    reservation.ID.String(),
		"user_id":           reservation.UserID.String(),
		"store_id":          reservation.StoreID.String(),
		"machine_id":        reservation.MachineID.String(),
		"machine_type":      reservation.MachineType.String(),
		"start_unix_utc":    reservation.StartTime.UTC().Unix(),
		"end_unix_utc":      reservation.EndTime.UTC().Unix(),
		"status":            reservation.Status.String(),
		"payment_status":    reservation.PaymentStatus.String(),
		"payment_method":    reservation.PaymentMethod.String(),
		"total_amount":      reservation.TotalAmount.Int64(),
		"progress":          view.Projection.Percent,
		"remaining_minutes": view.Projection.RemainingMinutes,
	}
}

func storeFields(laundryStore laundry.LaundryStore) map[string]interface{} {
	return map[string]interface{}{
		"store_id":  laundryStore.ID.String(),
		"name":      laundryStore.Name,
		"address":   laundryStore.Address,
		"status":    string(laundryStore.Status),
		"rating":    laundryStore.Rating,
		"phone":     laundryStore.Phone,
		"latitude":  laundryStore.Latitude,
		"longitude": laundryStore.Longitude,
	}
}

func machineList(machines []laundry.MachineView) []interface{} {
	response := make([]interface{}, 0, len(machines))
	for _, view := range machines {
		features := make([]interface{}, 0, len(view.Machine.Features))
		for _, feature := range view.Machine.Features {
			features = append(features, feature)
		}
		response = append(response, map[string]interface{}{
			"machine_id":        view.Machine.ID.String(),
			"store_id":          view.Machine.StoreID.String(),
			"type":              view.Machine.Type.String(),
			"status":            view.Machine.Status.String(),
			"capacity":          view.Machine.Capacity,
			"price":             view.Machine.Price.Int64(),
			"features":          features,
			"remaining_minutes": view.RemainingMinutes,
		})
	}
	return response
}

func settingsFields(settings laundry.NotificationSettings) map[string]interface{} {
	return map[string]interface{}{
		fieldBeforeCompletion: settings.BeforeCompletion,
		fieldEnabled:          settings.Enabled,
	}
}

func respond(fields map[string]interface{}) (*structpb.Struct, error) {
	response, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return response, nil
}

func stringField(request *structpb.Struct, name string) string {
	return request.GetFields()[name].GetStringValue()
}

func invalidField() error {
	return status.Error(codes.InvalidArgument, laundry.CodeInvalidArgument)
}

// presentField returns the field unless it is missing or null.
func presentField(request *structpb.Struct, name string) (*structpb.Value, bool) {
	value, ok := request.GetFields()[name]
	if !ok {
		return nil, false
	}
	if _, isNull := value.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, false
	}
	return value, true
}

// numberField rejects non-number kinds and non-finite values.
func numberField(request *structpb.Struct, name string) (float64, bool, error) {
	value, ok := presentField(request, name)
	if !ok {
		return 0, false, nil
	}
	if _, isNumber := value.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return 0, false, invalidField()
	}
	number := value.GetNumberValue()
	if math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false, invalidField()
	}
	return number, true, nil
}

// integerField also rejects fractions and magnitudes a double cannot hold exactly.
func integerField(request *structpb.Struct, name string) (int64, bool, error) {
	number, ok, err := numberField(request, name)
	if err != nil || !ok {
		return 0, ok, err
	}
	if number != math.Trunc(number) || math.Abs(number) > maxExactInteger {
		return 0, false, invalidField()
	}
	return int64(number), true, nil
}

func optionalBoolField(request *structpb.Struct, name string) (bool, bool, error) {
	value, ok := presentField(request, name)
	if !ok {
		return false, false, nil
	}
	if _, isBool := value.GetKind().(*structpb.Value_BoolValue); !isBool {
		return false, false, invalidField()
	}
	return value.GetBoolValue(), true, nil
}

func mapToGRPCError(source error) error {
	code := laundry.ErrorCode(source)
	switch code {
	case laundry.CodeInvalidArgument, laundry.CodeInvalidMachineDescriptor:
		return status.Error(codes.InvalidArgument, code)
	case laundry.CodeInsufficientBalance, laundry.CodeMachineUnavailable:
		return status.Error(codes.FailedPrecondition, code)
	case laundry.CodeUnknownMachine, laundry.CodeUnknownStore, laundry.CodeUnknownReservation:
		return status.Error(codes.NotFound, code)
	case laundry.CodeDuplicateIdempotencyKey:
		return status.Error(codes.AlreadyExists, code)
	}
	if errors.Is(source, laundry.ErrReservationExists) {
		return status.Error(codes.AlreadyExists, "reservation_exists")
	}
	if errors.Is(source, laundry.ErrReservationClosed) {
		return status.Error(codes.FailedPrecondition, "reservation_closed")
	}
	if errors.Is(source, context.Canceled) {
		return status.Error(codes.Canceled, source.Error())
	}
	if errors.Is(source, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, source.Error())
	}
	return status.Error(codes.Internal, source.Error())
}
