package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance, configured once via Initialize.
var Log zerolog.Logger

// Initialize sets up the global logger with the given level and output mode.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "pluginhost").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// Registry scopes log entries to the plugin registry (C1).
func Registry() *zerolog.Logger {
	l := Log.With().Str("component", "registry").Logger()
	return &l
}

// Discovery scopes log entries to the discovery pipeline (C2).
func Discovery() *zerolog.Logger {
	l := Log.With().Str("component", "discovery").Logger()
	return &l
}

// Validator scopes log entries to the validator (C3).
func Validator() *zerolog.Logger {
	l := Log.With().Str("component", "validator").Logger()
	return &l
}

// Loader scopes log entries to the isolated loader (C4).
func Loader() *zerolog.Logger {
	l := Log.With().Str("component", "loader").Logger()
	return &l
}

// DI scopes log entries to the DI/isolation policy subsystem (C5).
func DI() *zerolog.Logger {
	l := Log.With().Str("component", "di").Logger()
	return &l
}

// Lifecycle scopes log entries to the lifecycle engine (C6).
func Lifecycle() *zerolog.Logger {
	l := Log.With().Str("component", "lifecycle").Logger()
	return &l
}

// Supervisor scopes log entries to the runtime supervisor (C7).
func Supervisor() *zerolog.Logger {
	l := Log.With().Str("component", "supervisor").Logger()
	return &l
}

// HTTP scopes log entries to the HTTP adapter.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}
