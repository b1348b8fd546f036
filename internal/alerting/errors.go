package alerting

import "fmt"

// DeliveryError reports a failed outbound send.
type DeliveryError struct {
	Channel  string
	Notifier string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s via %s: %v", e.Channel, e.Notifier, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ConfigurationError marks a channel that could not be resolved at startup.
// Such a channel stays a no-op for the life of the process.
type ConfigurationError struct {
	Channel string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("channel %q unresolved: %s", e.Channel, e.Reason)
}
