// Package logging builds the process-wide zap logger. Components take a
// *zap.Logger in their constructors and derive named children from it;
// only main calls New.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs the root logger: development encoder, colored capital
// levels, no timestamps (systemd/journald stamps lines already), no
// stacktraces or caller annotations.
func New(name string) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = ""
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	log := zap.Must(cfg.Build())
	return log.Named(name)
}
