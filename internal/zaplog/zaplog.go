// Package zaplog adapts zap to the loyalty operation-log callback.
package zaplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"go.uber.org/zap"
)

// Logger emits one structured line per loyalty operation.
type Logger struct {
	base *zap.Logger
}

// New wires a Logger over a zap core.
func New(base *zap.Logger) *Logger {
	return &Logger{base: base}
}

// LogOperation implements loyalty.OperationLogger.
func (logger *Logger) LogOperation(ctx context.Context, entry loyalty.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.CustomerID != "" {
		fields = append(fields, zap.String("customer_id", entry.CustomerID))
	}
	if entry.Points != 0 {
		fields = append(fields, zap.Int64("points", entry.Points))
	}
	if entry.Source != "" {
		fields = append(fields, zap.String("source", entry.Source.String()))
	}
	if entry.RewardID != "" {
		fields = append(fields, zap.String("reward_id", entry.RewardID))
	}
	if entry.Code != "" {
		fields = append(fields, zap.String("code", entry.Code))
	}
	if entry.ActorID != "" {
		fields = append(fields, zap.String("actor_id", entry.ActorID))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		logger.base.Warn("loyalty operation failed", fields...)
		return
	}
	logger.base.Info("loyalty operation", fields...)
}
