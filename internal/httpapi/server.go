// Package httpapi serves the laundromat mini-app over HTTP/JSON.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerUserID    = "X-User-ID"
	contextUserID   = "laundry_user_id"
	shutdownTimeout = 5 * time.Second
)

// Config carries router settings.
type Config struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Handler serves the API on top of the in-process service and notifier.
type Handler struct {
	logger         *zap.Logger
	laundryService *laundry.Service
	notifier       *laundry.ThresholdNotifier
	requestTimeout time.Duration
	newKey         func() string
}

// NewHandler wires a Handler. A nil logger is replaced by a no-op logger.
func NewHandler(logger *zap.Logger, laundryService *laundry.Service, notifier *laundry.ThresholdNotifier, requestTimeout time.Duration) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if requestTimeout <= 0 {
		requestTimeout = 3 * time.Second
	}
	return &Handler{
		logger:         logger,
		laundryService: laundryService,
		notifier:       notifier,
		requestTimeout: requestTimeout,
		newKey:         newIdempotencySuffix,
	}
}

// NewRouter builds the gin engine with CORS, recovery and every route.
func NewRouter(cfg Config, handler *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", headerUserID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/stores", handler.handleSearchStores)
	api.GET("/stores/:storeID/machines", handler.handleStoreMachines)
	api.POST("/scan", handler.handleScan)
	api.GET("/notification-settings", handler.handleGetSettings)
	api.PUT("/notification-settings", handler.handleUpdateSettings)

	user := api.Group("")
	user.Use(requireUser())
	user.POST("/activations", handler.handleActivate)
	user.GET("/reservations", handler.handleListReservations)
	user.GET("/reservations/:reservationID", handler.handleGetReservation)
	user.GET("/wallet", handler.handleWallet)
	user.POST("/wallet/topups", handler.handleTopUp)
	user.GET("/favorites", handler.handleListFavorites)
	user.PUT("/favorites/:storeID", handler.handleAddFavorite)
	user.DELETE("/favorites/:storeID", handler.handleRemoveFavorite)

	return router
}

// Serve runs router on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, router http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requireUser() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		userID, err := laundry.NewUserID(ctx.GetHeader(headerUserID))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing "+headerUserID+" header"))
			return
		}
		ctx.Set(contextUserID, userID)
		ctx.Next()
	}
}

func currentUser(ctx *gin.Context) laundry.UserID {
	value, _ := ctx.Get(contextUserID)
	userID, _ := value.(laundry.UserID)
	return userID
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func statusForCode(code string) int {
	switch code {
	case laundry.CodeInvalidArgument, laundry.CodeInvalidMachineDescriptor:
		return http.StatusBadRequest
	case laundry.CodeInsufficientBalance:
		return http.StatusPaymentRequired
	case laundry.CodeUnknownMachine, laundry.CodeUnknownStore, laundry.CodeUnknownReservation:
		return http.StatusNotFound
	case laundry.CodeMachineUnavailable, laundry.CodeDuplicateIdempotencyKey:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (handler *Handler) respondError(ctx *gin.Context, err error) {
	code := laundry.ErrorCode(err)
	httpStatus := statusForCode(code)
	if httpStatus == http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(httpStatus, errorResponse(code, "internal error"))
		return
	}
	ctx.JSON(httpStatus, errorResponse(code, err.Error()))
}

func (handler *Handler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.requestTimeout)
}
