package vs2

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Default timing of the polling loops
const (
	DefaultHandshakeInterval = 100 * time.Millisecond
	DefaultHandshakeAttempts = 30
	DefaultPollInterval      = 10 * time.Millisecond
	DefaultPollAttempts      = 300
)

// Timing limits accepted by the options
const (
	MinInterval = 1 * time.Millisecond
	MaxInterval = 5 * time.Second
	MinAttempts = 1
	MaxAttempts = 10000
)

type sessionConfig struct {
	handshakeInterval time.Duration
	handshakeAttempts int
	pollInterval      time.Duration
	pollAttempts      int
	drainOnNack       bool
	clock             Clock
	logger            log.FieldLogger
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		handshakeInterval: DefaultHandshakeInterval,
		handshakeAttempts: DefaultHandshakeAttempts,
		pollInterval:      DefaultPollInterval,
		pollAttempts:      DefaultPollAttempts,
		clock:             SystemClock{},
		logger:            log.StandardLogger(),
	}
}

// Option configures a Session
type Option interface {
	apply(*sessionConfig) error
}

type optFunc func(*sessionConfig) error

func (f optFunc) apply(cfg *sessionConfig) error { return f(cfg) }

func checkTiming(what string, interval time.Duration, attempts int) error {
	if interval < MinInterval || interval > MaxInterval {
		return fmt.Errorf("vs2: %s interval %v out of range [%v, %v]", what, interval, MinInterval, MaxInterval)
	}
	if attempts < MinAttempts || attempts > MaxAttempts {
		return fmt.Errorf("vs2: %s attempts %d out of range [%d, %d]", what, attempts, MinAttempts, MaxAttempts)
	}
	return nil
}

// WithHandshakeTiming sets poll interval and attempt count of each handshake stage.
// Default is 30 attempts of 100ms.
func WithHandshakeTiming(interval time.Duration, attempts int) Option {
	return optFunc(func(cfg *sessionConfig) error {
		if err := checkTiming("handshake", interval, attempts); err != nil {
			return err
		}
		cfg.handshakeInterval, cfg.handshakeAttempts = interval, attempts
		return nil
	})
}

// WithExchangeTiming sets poll interval and attempt count while awaiting a response.
// Default is 300 attempts of 10ms.
func WithExchangeTiming(interval time.Duration, attempts int) Option {
	return optFunc(func(cfg *sessionConfig) error {
		if err := checkTiming("exchange", interval, attempts); err != nil {
			return err
		}
		cfg.pollInterval, cfg.pollAttempts = interval, attempts
		return nil
	})
}

// WithClock replaces the clock used between polls
func WithClock(c Clock) Option {
	return optFunc(func(cfg *sessionConfig) error {
		if c == nil {
			return fmt.Errorf("vs2: clock is nil")
		}
		cfg.clock = c
		return nil
	})
}

// WithLogger sets the logger for diagnostic traces
func WithLogger(l log.FieldLogger) Option {
	return optFunc(func(cfg *sessionConfig) error {
		if l == nil {
			return fmt.Errorf("vs2: logger is nil")
		}
		cfg.logger = l
		return nil
	})
}

// WithDrainOnNack makes the session wait one poll interval after a NAK
// and discard whatever the device still sends for the aborted exchange.
func WithDrainOnNack(enabled bool) Option {
	return optFunc(func(cfg *sessionConfig) error {
		cfg.drainOnNack = enabled
		return nil
	})
}
