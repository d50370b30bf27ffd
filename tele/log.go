package tele

import (
	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/zap/exp/zapslog"
	"golang.org/x/exp/slog"
)

// DefaultLogger returns a structured logger for the given subsystem. The
// output and level follow the go-log configuration, e.g. the environment
// variable GOLOG_LOG_LEVEL="topicview=debug".
func DefaultLogger(system string) *slog.Logger {
	return slog.New(zapslog.NewHandler(logging.Logger(system).Desugar().Core()))
}

// SetLevel changes the log level of a subsystem whose logger was created by
// [DefaultLogger].
func SetLevel(system string, level string) error {
	return logging.SetLogLevel(system, level)
}

// LogAttrError returns a slog attribute for an error.
func LogAttrError(err error) slog.Attr {
	return slog.String("err", err.Error())
}

// LogAttrSourceKey returns a slog attribute for the key a source publishes
// events under.
func LogAttrSourceKey(key string) slog.Attr {
	return slog.String("source_key", key)
}
