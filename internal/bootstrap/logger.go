package bootstrap

import (
	"converter_strategy/pkg/logging"
)

// InitLogger builds the zap logger for the configured level, tagged with the app name.
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.WithField("app", cfg.App.Name).Debug("Logger initialized", "level", cfg.System.LogLevel)
	return logger, nil
}
