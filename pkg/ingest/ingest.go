// ABOUTME: Validates and encodes item images into inline data URIs
// ABOUTME: Checks declared type, size and sniffed content before encoding

package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nainya/catalogops/internal/logger"
	"github.com/nainya/catalogops/internal/metrics"
)

// DefaultMaxBytes is the largest accepted image
const DefaultMaxBytes = 5 << 20

// DefaultAcceptedTypes are the image types accepted out of the box
var DefaultAcceptedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

var (
	ErrInvalidType = errors.New("ingest: invalid type")
	ErrTooLarge    = errors.New("ingest: file too large")
	ErrReadFailed  = errors.New("ingest: read failed")
)

// Error is an ingestion failure carrying a message fit for the operator
type Error struct {
	Kind    error // ErrInvalidType, ErrTooLarge or ErrReadFailed
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// File is a user-chosen file before its content is read
type File interface {
	Name() string
	Size() int64
	Type() string // Declared MIME type
	Open() (io.ReadCloser, error)
}

// Encoded is an accepted image
type Encoded struct {
	DataURI  string
	MIMEType string
	Size     int64
}

// Config bounds accepted images
type Config struct {
	MaxBytes      int64
	AcceptedTypes []string
}

// DefaultConfig returns the 5MB common-web-image configuration
func DefaultConfig() Config {
	return Config{MaxBytes: DefaultMaxBytes, AcceptedTypes: DefaultAcceptedTypes}
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger attaches a logger
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics attaches metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline validates and encodes images
type Pipeline struct {
	maxBytes int64
	accepted map[string]struct{}
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// New creates a pipeline; zero config fields take defaults
func New(cfg Config, opts ...Option) *Pipeline {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if len(cfg.AcceptedTypes) == 0 {
		cfg.AcceptedTypes = DefaultAcceptedTypes
	}

	p := &Pipeline{
		maxBytes: cfg.MaxBytes,
		accepted: make(map[string]struct{}, len(cfg.AcceptedTypes)),
	}
	for _, t := range cfg.AcceptedTypes {
		p.accepted[baseType(t)] = struct{}{}
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logger.OrNop(p.log).ComponentLogger("ingest")
	p.metrics = metrics.OrDiscard(p.metrics)
	return p
}

// Ingest processes f in the background and reports through exactly one of
// the callbacks. The returned channel closes after the callback returns.
func (p *Pipeline) Ingest(ctx context.Context, f File, onSuccess func(Encoded), onError func(error)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		enc, err := p.Process(ctx, f)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onSuccess != nil {
			onSuccess(enc)
		}
	}()
	return done
}

// Process validates and encodes f synchronously
func (p *Pipeline) Process(ctx context.Context, f File) (Encoded, error) {
	enc, err := p.process(ctx, f)
	result := "accepted"
	if err != nil {
		result = resultLabel(err)
		p.log.Warn("image rejected").Str("file", f.Name()).Err(err).Send()
	} else {
		p.log.Debug("image accepted").Str("file", f.Name()).Str("mime", enc.MIMEType).Int64("bytes", enc.Size).Send()
	}
	p.metrics.ImageIngestsTotal.WithLabelValues(result).Inc()
	return enc, err
}

func (p *Pipeline) process(ctx context.Context, f File) (Encoded, error) {
	declared := baseType(f.Type())
	if !p.accepts(declared) {
		return Encoded{}, &Error{
			Kind:    ErrInvalidType,
			Message: fmt.Sprintf("%s: %q is not an accepted image type", f.Name(), f.Type()),
		}
	}

	if f.Size() > p.maxBytes {
		return Encoded{}, p.tooLarge(f.Name(), f.Size())
	}

	if err := ctx.Err(); err != nil {
		return Encoded{}, &Error{Kind: ErrReadFailed, Message: fmt.Sprintf("%s: read cancelled", f.Name()), Err: err}
	}

	rc, err := f.Open()
	if err != nil {
		return Encoded{}, &Error{Kind: ErrReadFailed, Message: fmt.Sprintf("%s: could not open file", f.Name()), Err: err}
	}
	defer rc.Close()

	// Read one byte past the limit so an understated size still fails
	data, err := io.ReadAll(io.LimitReader(rc, p.maxBytes+1))
	if err != nil {
		return Encoded{}, &Error{Kind: ErrReadFailed, Message: fmt.Sprintf("%s: could not read file", f.Name()), Err: err}
	}
	if int64(len(data)) > p.maxBytes {
		return Encoded{}, p.tooLarge(f.Name(), int64(len(data)))
	}

	detected := baseType(mimetype.Detect(data).String())
	if !strings.HasPrefix(detected, "image/") || !p.accepts(detected) {
		return Encoded{}, &Error{
			Kind:    ErrInvalidType,
			Message: fmt.Sprintf("%s: content is %s, not an accepted image", f.Name(), detected),
		}
	}

	return Encoded{
		DataURI:  "data:" + detected + ";base64," + base64.StdEncoding.EncodeToString(data),
		MIMEType: detected,
		Size:     int64(len(data)),
	}, nil
}

func (p *Pipeline) accepts(mimeType string) bool {
	_, ok := p.accepted[mimeType]
	return ok
}

func (p *Pipeline) tooLarge(name string, size int64) error {
	return &Error{
		Kind:    ErrTooLarge,
		Message: fmt.Sprintf("%s: %d bytes exceeds the %d byte limit", name, size, p.maxBytes),
	}
}

func baseType(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(t))
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidType):
		return "invalid_type"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	default:
		return "read_failed"
	}
}
