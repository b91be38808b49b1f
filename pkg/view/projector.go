// ABOUTME: Stable filtered projection of the item collection
// ABOUTME: Memoizes recent results keyed by snapshot identity and criteria

package view

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nainya/catalogops/internal/metrics"
	"github.com/nainya/catalogops/pkg/catalog"
	"github.com/nainya/catalogops/pkg/filter"
)

// DefaultCacheSize keeps only the last computed projection
const DefaultCacheSize = 1

// projectionKey identifies a snapshot by its backing array and length.
// Snapshots are treated as immutable; a changed collection is a new slice.
type projectionKey struct {
	data     *catalog.Record
	n        int
	criteria string
}

// Option configures a Projector
type Option func(*Projector)

// WithMetrics counts cache hits and misses
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Projector) { p.metrics = m }
}

// WithCompileOptions forwards options to filter.Compile
func WithCompileOptions(opts ...filter.CompileOption) Option {
	return func(p *Projector) { p.compileOpts = append(p.compileOpts, opts...) }
}

// Projector derives the visible subsequence of a record snapshot
type Projector struct {
	cache       *lru.Cache[projectionKey, []catalog.Record]
	compileOpts []filter.CompileOption
	metrics     *metrics.Metrics
}

// New creates a projector holding up to cacheSize results
func New(cacheSize int, opts ...Option) (*Projector, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[projectionKey, []catalog.Record](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("view: init cache: %w", err)
	}

	p := &Projector{cache: cache}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Project returns the records matching criteria in their original order.
// The returned slice is shared with the cache and must not be modified.
func (p *Projector) Project(records []catalog.Record, criteria filter.Criteria) ([]catalog.Record, error) {
	key := projectionKey{n: len(records), criteria: criteria.Key()}
	if len(records) > 0 {
		key.data = &records[0]
	}

	if visible, ok := p.cache.Get(key); ok {
		if p.metrics != nil {
			p.metrics.ViewCacheHits.Inc()
		}
		return visible, nil
	}

	pred, err := filter.Compile(criteria, p.compileOpts...)
	if err != nil {
		return nil, err
	}

	visible := filter.Apply(records, pred)
	p.cache.Add(key, visible)
	if p.metrics != nil {
		p.metrics.ViewCacheMisses.Inc()
	}
	return visible, nil
}

// Purge drops every cached projection
func (p *Projector) Purge() {
	p.cache.Purge()
}
