package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultTopUpMethod = "zalopay"
	topUpKeyPrefix     = "topup"
)

var topUpMethods = map[string]struct{}{"zalopay": {}, "momo": {}, "bank": {}}

func newIdempotencySuffix() string {
	return uuid.NewString()
}

func (handler *Handler) handleSearchStores(ctx *gin.Context) {
	params, err := parseSearchParams(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	views, err := handler.laundryService.SearchStores(requestCtx, params)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	stores := make([]storePayload, 0, len(views))
	for _, view := range views {
		stores = append(stores, newStorePayload(view))
	}
	ctx.JSON(http.StatusOK, gin.H{"stores": stores})
}

func (handler *Handler) handleStoreMachines(ctx *gin.Context) {
	storeID, err := laundry.NewStoreID(ctx.Param("storeID"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	machines, err := handler.laundryService.StoreMachines(requestCtx, storeID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"machines": newMachinePayloads(machines)})
}

// handleScan validates a QR payload against the catalog without activating.
func (handler *Handler) handleScan(ctx *gin.Context) {
	var request scanRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	descriptor, err := laundry.ParseMachineDescriptor([]byte(request.Payload))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	machine, err := handler.laundryService.Machine(requestCtx, descriptor.StoreID, descriptor.MachineID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if machine.Type != descriptor.Type {
		handler.respondError(ctx, fmt.Errorf("%w: machine %s is a %s machine", laundry.ErrInvalidMachineDescriptor, machine.ID, machine.Type))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"machine":   newMachinePayload(laundry.MachineView{Machine: machine}),
		"available": machine.Status == laundry.MachineStatusAvailable,
	})
}

func (handler *Handler) handleActivate(ctx *gin.Context) {
	var request activationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	descriptor, err := laundry.ParseMachineDescriptor([]byte(request.QRPayload))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	reservation, err := handler.laundryService.Activate(requestCtx, laundry.ActivationRequest{
		UserID:        currentUser(ctx),
		Descriptor:    descriptor,
		PaymentMethod: laundry.PaymentMethod(request.PaymentMethod),
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	view, err := handler.laundryService.GetReservation(requestCtx, reservation.ID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"reservation": newReservationPayload(view)})
}

func (handler *Handler) handleListReservations(ctx *gin.Context) {
	userID := currentUser(ctx)
	filter := laundry.ReservationFilter{
		UserID: &userID,
		Status: laundry.ReservationStatus(ctx.Query("status")),
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	views, err := handler.laundryService.ListReservations(requestCtx, filter)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	reservations := make([]reservationPayload, 0, len(views))
	for _, view := range views {
		reservations = append(reservations, newReservationPayload(view))
	}
	ctx.JSON(http.StatusOK, gin.H{"reservations": reservations})
}

func (handler *Handler) handleGetReservation(ctx *gin.Context) {
	reservationID, err := laundry.NewReservationID(ctx.Param("reservationID"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	view, err := handler.laundryService.GetReservation(requestCtx, reservationID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if view.Reservation.UserID != currentUser(ctx) {
		handler.respondError(ctx, laundry.ErrUnknownReservation)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reservation": newReservationPayload(view)})
}

func (handler *Handler) handleWallet(ctx *gin.Context) {
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(laundry.CodeInvalidArgument, "limit must be an integer"))
			return
		}
		limit = parsed
	}
	handler.respondWithWallet(ctx, currentUser(ctx), limit)
}

func (handler *Handler) handleTopUp(ctx *gin.Context) {
	var request topUpRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	method := strings.ToLower(strings.TrimSpace(request.Method))
	if method == "" {
		method = defaultTopUpMethod
	}
	if _, ok := topUpMethods[method]; !ok {
		ctx.JSON(http.StatusBadRequest, errorResponse(laundry.CodeInvalidArgument, fmt.Sprintf("unsupported top-up method %q", request.Method)))
		return
	}
	rawKey := request.IdempotencyKey
	if strings.TrimSpace(rawKey) == "" {
		rawKey = topUpKeyPrefix + ":" + handler.newKey()
	}
	idempotencyKey, err := laundry.NewIdempotencyKey(rawKey)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := laundry.NewMetadataJSON(marshalMetadata(map[string]string{"method": method}))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.laundryService.TopUp(requestCtx, currentUser(ctx), laundry.Amount(request.Amount), idempotencyKey, metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"amount":  result.Amount.Int64(),
		"bonus":   result.Bonus.Int64(),
		"balance": result.Balance.Amount.Int64(),
	})
}

func (handler *Handler) handleGetSettings(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, newSettingsPayload(handler.notifier.Settings()))
}

func (handler *Handler) handleUpdateSettings(ctx *gin.Context) {
	var request settingsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	settings := handler.notifier.Settings()
	if request.BeforeCompletion != nil {
		settings.BeforeCompletion = *request.BeforeCompletion
	}
	if request.Enabled != nil {
		settings.Enabled = *request.Enabled
	}
	if err := handler.notifier.UpdateSettings(ctx.Request.Context(), settings); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newSettingsPayload(handler.notifier.Settings()))
}

func (handler *Handler) respondWithWallet(ctx *gin.Context, userID laundry.UserID, limit int) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.laundryService.Balance(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	entries, err := handler.laundryService.ListWalletEntries(requestCtx, userID, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, newEntryPayload(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": walletResponse{Balance: balance.Amount.Int64(), Entries: payloads}})
}

func parseSearchParams(ctx *gin.Context) (laundry.SearchParams, error) {
	params := laundry.SearchParams{
		MachineType:   laundry.MachineType(ctx.Query("type")),
		AvailableOnly: ctx.Query("available") == "true",
	}
	for _, field := range []struct {
		name   string
		target **float64
	}{
		{name: "lat", target: &params.Latitude},
		{name: "lng", target: &params.Longitude},
	} {
		raw := ctx.Query(field.name)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return laundry.SearchParams{}, fmt.Errorf("%w: %s must be a number", laundry.ErrInvalidSearchParams, field.name)
		}
		*field.target = &value
	}
	if raw := ctx.Query("radius_km"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return laundry.SearchParams{}, fmt.Errorf("%w: radius_km must be a number", laundry.ErrInvalidSearchParams)
		}
		params.RadiusKm = radius
	}
	return params, nil
}

func marshalMetadata(metadata any) string {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func (handler *Handler) handleListFavorites(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	favorites, err := handler.laundryService.Favorites(requestCtx, currentUser(ctx))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	stores := make([]storePayload, 0, len(favorites))
	for _, laundryStore := range favorites {
		stores = append(stores, newStorePayload(laundry.StoreView{Store: laundryStore}))
	}
	ctx.JSON(http.StatusOK, gin.H{"stores": stores})
}

func (handler *Handler) handleAddFavorite(ctx *gin.Context) {
	handler.changeFavorite(ctx, handler.laundryService.AddFavorite)
}

func (handler *Handler) handleRemoveFavorite(ctx *gin.Context) {
	handler.changeFavorite(ctx, handler.laundryService.RemoveFavorite)
}

func (handler *Handler) changeFavorite(ctx *gin.Context, change func(context.Context, laundry.UserID, laundry.StoreID) error) {
	storeID, err := laundry.NewStoreID(ctx.Param("storeID"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := change(requestCtx, currentUser(ctx), storeID); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
