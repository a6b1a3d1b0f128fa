package rabbitmq

import "time"

const (
	DefaultConfirmTimeout = 5 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 100 * time.Millisecond
)

type settings struct {
	dial           Dialer
	confirmTimeout time.Duration
	maxRetries     int
	retryDelay     time.Duration
	consumerTag    string
}

func defaultSettings() settings {
	return settings{
		dial:           Dial,
		confirmTimeout: DefaultConfirmTimeout,
		maxRetries:     DefaultMaxRetries,
		retryDelay:     DefaultRetryDelay,
	}
}

type Option func(*settings)

// WithDialer replaces the network dialer, mostly for tests.
func WithDialer(d Dialer) Option {
	return func(s *settings) { s.dial = d }
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

// WithRetry sets the number of attempts after the first and the initial
// backoff, which doubles on every attempt.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(s *settings) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		if delay > 0 {
			s.retryDelay = delay
		}
	}
}

func WithConsumerTag(tag string) Option {
	return func(s *settings) { s.consumerTag = tag }
}
