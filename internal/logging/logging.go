// Package logging bridges laundry operation callbacks into zap.
package logging

import (
	"context"

	"github.com/MarkoPoloResearchLab/laundromat/pkg/laundry"
	"go.uber.org/zap"
)

const operationMessage = "laundry operation"

// OperationLogger writes laundry.OperationLog entries as structured zap records.
type OperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger wraps logger. A nil logger yields a no-op logger.
func NewOperationLogger(logger *zap.Logger) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger}
}

// LogOperation implements laundry.OperationLogger.
func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry laundry.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if userID := entry.UserID.String(); userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	if entry.ReservationID != nil {
		fields = append(fields, zap.String("reservation_id", entry.ReservationID.String()))
	}
	if storeID := entry.StoreID.String(); storeID != "" {
		fields = append(fields, zap.String("store_id", storeID))
	}
	if machineID := entry.MachineID.String(); machineID != "" {
		fields = append(fields, zap.String("machine_id", machineID))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount.Int64()))
	}
	if entry.Count != 0 {
		fields = append(fields, zap.Int("count", entry.Count))
	}
	if entry.Error != nil {
		fields = append(fields, zap.String("code", laundry.ErrorCode(entry.Error)), zap.Error(entry.Error))
		operationLogger.logger.Warn(operationMessage, fields...)
		return
	}
	operationLogger.logger.Debug(operationMessage, fields...)
}

var _ laundry.OperationLogger = (*OperationLogger)(nil)
