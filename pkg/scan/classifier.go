// ABOUTME: Barcode scanner detection over a passive keystroke stream
// ABOUTME: Separates scanner bursts from manual typing by inter-key timing

package scan

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nainya/catalogops/internal/logger"
	"github.com/nainya/catalogops/internal/metrics"
)

const (
	// DefaultMaxGap is the largest pause between two scanner pulses.
	// Hardware scanners emit a serial burst well inside this window while a
	// human typist pauses longer between keys.
	DefaultMaxGap = 50 * time.Millisecond

	// DefaultIdleTimeout discards a buffer that never saw a terminator
	DefaultIdleTimeout = 500 * time.Millisecond

	// DefaultMinLength is the shortest buffer accepted as a code
	DefaultMinLength = 3
)

// Config tunes the classifier thresholds
type Config struct {
	MaxGap      time.Duration // Inter-character threshold
	IdleTimeout time.Duration // Abandon a scan after this much silence
	MinLength   int           // Minimum code length, terminator excluded
}

// DefaultConfig returns the documented thresholds
func DefaultConfig() Config {
	return Config{
		MaxGap:      DefaultMaxGap,
		IdleTimeout: DefaultIdleTimeout,
		MinLength:   DefaultMinLength,
	}
}

// Event is one keystroke seen by the global listener
type Event struct {
	Key string    // Single character, or a key name such as "Enter"
	At  time.Time // When the key was received
}

// Option configures a Classifier
type Option func(*Classifier)

// WithLogger attaches a logger
func WithLogger(l *logger.Logger) Option {
	return func(c *Classifier) { c.log = l.ComponentLogger("scan") }
}

// WithMetrics attaches metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// Classifier accumulates keystrokes and emits completed scan codes.
// One instance serves one input surface; Close releases its idle timer.
type Classifier struct {
	cfg     Config
	onCode  func(string)
	onError func(error)
	log     *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	buf     []rune
	last    time.Time
	hasLast bool
	gen     uint64
	idle    *time.Timer
	closed  bool
}

// NewClassifier creates a classifier. onError may be nil.
func NewClassifier(cfg Config, onCode func(string), onError func(error), opts ...Option) *Classifier {
	def := DefaultConfig()
	if cfg.MaxGap <= 0 {
		cfg.MaxGap = def.MaxGap
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}

	c := &Classifier{
		cfg:     cfg,
		onCode:  onCode,
		onError: onError,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsTerminator reports whether key ends a scan
func IsTerminator(key string) bool {
	switch key {
	case "Enter", "\r", "\n", "\r\n":
		return true
	}
	return false
}

// FeedEvent is Feed for an Event value
func (c *Classifier) FeedEvent(ev Event) bool {
	return c.Feed(ev.Key, ev.At)
}

// Feed processes one keystroke and reports whether it completed a scan.
// The classifier only observes: callers still deliver the key to whatever
// field has focus.
func (c *Classifier) Feed(key string, at time.Time) bool {
	terminator := IsTerminator(key)
	if !terminator && utf8.RuneCountInString(key) != 1 {
		// Modifier and navigation keys interleave with scanner output
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	if !c.hasLast || at.Sub(c.last) > c.cfg.MaxGap {
		if len(c.buf) > 0 {
			c.count("gap")
		}
		c.buf = c.buf[:0]
	}
	c.last = at
	c.hasLast = true
	c.gen++

	if !terminator {
		r, _ := utf8.DecodeRuneInString(key)
		c.buf = append(c.buf, r)
		c.armIdle()
		c.mu.Unlock()
		return false
	}

	c.stopIdle()
	if len(c.buf) < c.cfg.MinLength {
		if len(c.buf) > 0 {
			c.count("short")
		}
		c.buf = c.buf[:0]
		c.mu.Unlock()
		return false
	}

	code := string(c.buf)
	c.buf = c.buf[:0]
	c.mu.Unlock()

	c.emit(code)
	return true
}

// Pending returns the characters accumulated so far
func (c *Classifier) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}

// Reset drops the buffer and the last timestamp
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopIdle()
	c.buf = c.buf[:0]
	c.hasLast = false
	c.gen++
}

// Close stops the idle timer; later events are ignored
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopIdle()
	c.buf = nil
	c.closed = true
}

// armIdle restarts the abandonment timer; caller holds mu
func (c *Classifier) armIdle() {
	c.stopIdle()
	gen := c.gen
	c.idle = time.AfterFunc(c.cfg.IdleTimeout, func() { c.expire(gen) })
}

// stopIdle cancels a pending abandonment timer; caller holds mu
func (c *Classifier) stopIdle() {
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
}

// expire silently discards an abandoned scan
func (c *Classifier) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || len(c.buf) == 0 {
		return
	}
	c.log.Debug("scan abandoned").Int("chars", len(c.buf)).Send()
	c.count("timeout")
	c.buf = c.buf[:0]
	c.idle = nil
}

// count records a discarded buffer; caller holds mu
func (c *Classifier) count(reason string) {
	if c.metrics != nil {
		c.metrics.ScansDiscardedTotal.WithLabelValues(reason).Inc()
	}
}

func (c *Classifier) emit(code string) {
	if c.metrics != nil {
		c.metrics.ScansEmittedTotal.Inc()
	}
	c.log.Debug("scan recognised").Str("code", code).Send()

	if c.onCode == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("scan handler panicked on %q: %v", code, r)
			c.log.Error("scan handler failed").Err(err).Send()
			if c.onError != nil {
				c.onError(err)
			}
		}
	}()
	c.onCode(code)
}
