// ABOUTME: Declarative filter criteria for the item master list
// ABOUTME: Fluent builder, validation and URL-style parsing

package filter

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nainya/catalogops/pkg/catalog"
)

// StatusFilter selects records by active flag
type StatusFilter string

const (
	StatusAll      StatusFilter = "all"
	StatusActive   StatusFilter = "active"
	StatusInactive StatusFilter = "inactive"
)

// TypeAll disables the item type constraint
const TypeAll = "all"

// Criteria is the full set of list filters. The zero value is all-permissive.
type Criteria struct {
	Status     StatusFilter `validate:"omitempty,oneof=all active inactive"`
	ItemType   string       `validate:"omitempty,max=64"`
	DateFrom   *time.Time   // Inclusive lower bound on CreatedAt
	DateTo     *time.Time   // Inclusive upper bound on CreatedAt
	SearchText string       `validate:"max=256"`
}

// Default returns all-permissive criteria
func Default() Criteria {
	return Criteria{Status: StatusAll, ItemType: TypeAll}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate rejects malformed criteria with a *catalog.ValidationError
func (c Criteria) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &catalog.ValidationError{
				Field:  fe.Field(),
				Reason: fmt.Sprintf("failed %q constraint with value %v", fe.Tag(), fe.Value()),
			}
		}
		return &catalog.ValidationError{Reason: err.Error()}
	}

	if t := c.ItemType; t != "" && t != TypeAll {
		if _, err := catalog.ParseItemType(t); err != nil {
			return err
		}
	}

	if c.DateFrom != nil && c.DateTo != nil && c.DateFrom.After(*c.DateTo) {
		return &catalog.ValidationError{Field: "DateFrom", Reason: "must not be after DateTo"}
	}

	return nil
}

// Key returns a canonical string; equal keys compile to equivalent predicates
func (c Criteria) Key() string {
	status := c.Status
	if status == "" {
		status = StatusAll
	}
	itemType := strings.ToLower(strings.TrimSpace(c.ItemType))
	if itemType == "" {
		itemType = TypeAll
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		status, itemType,
		timeKey(c.DateFrom), timeKey(c.DateTo),
		normalizeSearch(c.SearchText),
	)
}

func timeKey(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprint(t.UnixNano())
}

// normalizeSearch folds case only; surrounding spaces are part of the substring
func normalizeSearch(s string) string {
	return strings.ToLower(s)
}

// Builder provides a fluent interface for building criteria
type Builder struct {
	criteria Criteria
}

// New creates a builder starting from Default()
func New() *Builder {
	return &Builder{criteria: Default()}
}

// Status sets the status constraint
func (b *Builder) Status(s StatusFilter) *Builder {
	b.criteria.Status = s
	return b
}

// ItemType sets the item type constraint
func (b *Builder) ItemType(t catalog.ItemType) *Builder {
	b.criteria.ItemType = string(t)
	return b
}

// From sets the inclusive lower CreatedAt bound
func (b *Builder) From(t time.Time) *Builder {
	b.criteria.DateFrom = &t
	return b
}

// To sets the inclusive upper CreatedAt bound
func (b *Builder) To(t time.Time) *Builder {
	b.criteria.DateTo = &t
	return b
}

// Between sets both CreatedAt bounds
func (b *Builder) Between(from, to time.Time) *Builder {
	return b.From(from).To(to)
}

// Search sets the free-text search
func (b *Builder) Search(text string) *Builder {
	b.criteria.SearchText = text
	return b
}

// Build returns the constructed criteria
func (b *Builder) Build() Criteria {
	return b.criteria
}

const dateLayout = "2006-01-02"

// ParseQuery builds criteria from status, type, from, to and q parameters.
// Dates accept RFC 3339 or YYYY-MM-DD; a date-only "to" covers the whole day.
func ParseQuery(v url.Values) (Criteria, error) {
	c := Default()

	if s := v.Get("status"); s != "" {
		c.Status = StatusFilter(strings.ToLower(s))
	}
	if t := v.Get("type"); t != "" {
		c.ItemType = strings.ToLower(t)
	}
	if s := v.Get("from"); s != "" {
		t, _, err := parseBound(s)
		if err != nil {
			return Criteria{}, &catalog.ValidationError{Field: "DateFrom", Reason: err.Error()}
		}
		c.DateFrom = &t
	}
	if s := v.Get("to"); s != "" {
		t, dateOnly, err := parseBound(s)
		if err != nil {
			return Criteria{}, &catalog.ValidationError{Field: "DateTo", Reason: err.Error()}
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		c.DateTo = &t
	}
	c.SearchText = v.Get("q")

	if err := c.Validate(); err != nil {
		return Criteria{}, err
	}
	return c, nil
}

func parseBound(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid date %q", s)
	}
	return t, true, nil
}
