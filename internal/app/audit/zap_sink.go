package audit

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapSink appends entries to a file as JSON lines.
type ZapSink struct {
	log  *zap.Logger
	file *os.File
}

// NewZapSink opens (or creates) path for appending.
func NewZapSink(path string) (*ZapSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "logged_at"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.MessageKey = "event"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.InfoLevel)

	return &ZapSink{log: zap.New(core), file: f}, nil
}

func (s *ZapSink) Write(entry Entry) error {
	s.log.Info("ipn_audit",
		zap.Time("time", entry.Time),
		zap.String("stage", entry.Stage),
		zap.String("outcome", entry.Outcome),
		zap.String("transaction_id", entry.TransactionID),
		zap.String("provider_txn_id", entry.ProviderTxnID),
		zap.String("request", entry.Request),
		zap.String("response", entry.Response),
		zap.String("detail", entry.Detail),
	)
	return nil
}

// Close flushes and closes the file.
func (s *ZapSink) Close() error {
	_ = s.log.Sync()
	return s.file.Close()
}
