// Package telemetry wires up the process-wide structured logger.
//
// LogTxError gives a failed-transaction record a fixed set of fields
// (transaction type, error, and the order id when there is one). No
// other package of the engine calls it; error paths elsewhere log
// through their own zap calls.
package telemetry

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production JSON logger, matching the teacher's
// zap.NewProductionConfig + ISO8601 time key convention.
func New() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// NewWithFile logs to both stdout and a file, used so batch
// finalization and restore runs leave an audit trail on disk.
func NewWithFile(logPath string) (*zap.Logger, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stdout), zap.InfoLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), zap.InfoLevel),
	)

	return zap.New(core), nil
}

// LogTxError records a rejected/failed transaction with the fields a
// conforming engine must keep for post-mortem: the error kind, the
// transaction type, and (when applicable) the order id that should be
// retried or cancelled at the matching edge.
func LogTxError(log *zap.Logger, txType string, err error, orderID *uint64) {
	fields := []zap.Field{
		zap.String("tx_type", txType),
		zap.Error(err),
	}
	if orderID != nil {
		fields = append(fields, zap.Uint64("invalid_order_id", *orderID))
	}
	log.Error("transaction execution failed", fields...)
}
