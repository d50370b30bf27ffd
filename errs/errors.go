package errs

import "fmt"

// A ConfigurationError is returned when a component's configuration is found to be invalid or unusable.
type ConfigurationError struct {
	Component string
	Err       error
}

var _ error = (*ConfigurationError)(nil)

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("configuration error: %s", e.Component)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Component, e.Err.Error())
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// A DecodeError is returned when the payload of an event could not be decoded.
// The path of the event is still usable.
type DecodeError struct {
	Path string
	Err  error
}

var _ error = (*DecodeError)(nil)

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload of %q: %s", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// A DeliveryError records that the flush consumer returned an error or panicked
// while handling a flush. It never stops subsequent flushes.
type DeliveryError struct {
	Err error
}

var _ error = (*DeliveryError)(nil)

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return "flush delivery failed"
	}
	return fmt.Sprintf("flush delivery failed: %s", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
