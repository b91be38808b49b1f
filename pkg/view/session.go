// ABOUTME: Live filter state for one list screen
// ABOUTME: Recomputes the view on every criteria change and debounces search typing

package view

import (
	"sync"
	"time"

	"github.com/romdo/go-debounce"

	"github.com/nainya/catalogops/internal/logger"
	"github.com/nainya/catalogops/pkg/catalog"
	"github.com/nainya/catalogops/pkg/filter"
)

const (
	DefaultSearchWait    = 150 * time.Millisecond
	DefaultSearchMaxWait = time.Second
)

// Listener receives every newly computed view
type Listener func(visible []catalog.Record)

// SessionOption configures a Session
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	wait    time.Duration
	maxWait time.Duration
	onError func(error)
	log     *logger.Logger
}

// WithSearchDebounce sets the search coalescing window
func WithSearchDebounce(wait, maxWait time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.wait = wait
		c.maxWait = maxWait
	}
}

// WithErrorHandler receives errors from debounced recomputation
func WithErrorHandler(fn func(error)) SessionOption {
	return func(c *sessionConfig) { c.onError = fn }
}

// WithSessionLogger attaches a logger
func WithSessionLogger(l *logger.Logger) SessionOption {
	return func(c *sessionConfig) { c.log = l }
}

// Session owns the current snapshot, criteria and visible view
type Session struct {
	projector *Projector
	listener  Listener
	onError   func(error)
	log       *logger.Logger

	mu            sync.Mutex
	records       []catalog.Record
	criteria      filter.Criteria
	visible       []catalog.Record
	pendingSearch string
	gen           uint64

	notifyMu sync.Mutex
	notified uint64

	debouncedSearch func()
	cancelSearch    func()
}

// NewSession creates a session with default criteria. listener may be nil.
func NewSession(p *Projector, listener Listener, opts ...SessionOption) *Session {
	cfg := sessionConfig{wait: DefaultSearchWait, maxWait: DefaultSearchMaxWait}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		projector: p,
		listener:  listener,
		onError:   cfg.onError,
		log:       logger.OrNop(cfg.log).ComponentLogger("view"),
		criteria:  filter.Default(),
	}
	s.debouncedSearch, s.cancelSearch = debounce.NewWithMaxWait(cfg.wait, cfg.maxWait, func() {
		if err := s.FlushSearch(); err != nil {
			s.log.Warn("search rejected").Err(err).Send()
			if s.onError != nil {
				s.onError(err)
			}
		}
	})
	return s
}

// Criteria returns the applied criteria
func (s *Session) Criteria() filter.Criteria {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.criteria
}

// Visible returns the current view
func (s *Session) Visible() []catalog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Records returns the current snapshot
func (s *Session) Records() []catalog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

// SetRecords swaps the snapshot and recomputes
func (s *Session) SetRecords(records []catalog.Record) error {
	return s.update(func(r *[]catalog.Record, _ *filter.Criteria) { *r = records })
}

// SetCriteria replaces every filter at once
func (s *Session) SetCriteria(c filter.Criteria) error {
	return s.update(func(_ *[]catalog.Record, cur *filter.Criteria) {
		*cur = c
		s.pendingSearch = c.SearchText
	})
}

// SetStatus changes the status filter
func (s *Session) SetStatus(status filter.StatusFilter) error {
	return s.update(func(_ *[]catalog.Record, c *filter.Criteria) { c.Status = status })
}

// SetItemType changes the item type filter
func (s *Session) SetItemType(itemType string) error {
	return s.update(func(_ *[]catalog.Record, c *filter.Criteria) { c.ItemType = itemType })
}

// SetDates changes the CreatedAt bounds; nil clears a bound
func (s *Session) SetDates(from, to *time.Time) error {
	return s.update(func(_ *[]catalog.Record, c *filter.Criteria) {
		c.DateFrom = from
		c.DateTo = to
	})
}

// SetSearchText records the search text and schedules recomputation
func (s *Session) SetSearchText(text string) {
	s.mu.Lock()
	s.pendingSearch = text
	s.mu.Unlock()
	s.debouncedSearch()
}

// FlushSearch applies pending search text immediately
func (s *Session) FlushSearch() error {
	s.mu.Lock()
	text := s.pendingSearch
	s.mu.Unlock()
	return s.update(func(_ *[]catalog.Record, c *filter.Criteria) { c.SearchText = text })
}

// Close cancels a pending debounced search
func (s *Session) Close() {
	s.cancelSearch()
}

// update applies a mutation only when the resulting criteria are valid.
// mutate runs with mu held.
func (s *Session) update(mutate func(records *[]catalog.Record, c *filter.Criteria)) error {
	s.mu.Lock()
	records, criteria := s.records, s.criteria
	mutate(&records, &criteria)

	visible, err := s.projector.Project(records, criteria)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.records = records
	s.criteria = criteria
	s.visible = visible
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.notify(gen, visible)
	return nil
}

// notify delivers views in generation order, dropping superseded ones
func (s *Session) notify(gen uint64, visible []catalog.Record) {
	if s.listener == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if gen <= s.notified {
		return
	}
	s.notified = gen
	s.listener(visible)
}
