package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationErrorMessage(t *testing.T) {
	err := &ConfigurationError{Component: "SchedulerConfig"}
	assert.Equal(t, "configuration error: SchedulerConfig", err.Error())

	err.Err = fmt.Errorf("clock must not be nil")
	assert.Equal(t, "configuration error: SchedulerConfig: clock must not be nil", err.Error())
}

func TestErrorsUnwrap(t *testing.T) {
	base := errors.New("boom")

	var cerr *ConfigurationError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", &ConfigurationError{Component: "x", Err: base}), &cerr)
	assert.ErrorIs(t, cerr, base)

	var derr *DecodeError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", &DecodeError{Path: "a/b", Err: base}), &derr)
	assert.Equal(t, "a/b", derr.Path)
	assert.ErrorIs(t, derr, base)

	assert.ErrorIs(t, &DeliveryError{Err: base}, base)
	assert.Equal(t, "flush delivery failed", (&DeliveryError{}).Error())
}
