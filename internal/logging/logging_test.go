package logging_test

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/waabox/bgrelease/internal/logging"
)

func TestNew_VerboseEnablesDebug(t *testing.T) {
	logger := logging.New(logging.Options{Verbose: true, RunID: "abc"})
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be enabled in verbose mode")
	}
}

func TestNew_DefaultIsInfo(t *testing.T) {
	logger := logging.New(logging.Options{})
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be disabled by default")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info level to be enabled")
	}
	logging.Sync(logger)
}
