// ABOUTME: Compiles filter criteria into a single record predicate
// ABOUTME: Pure and deterministic so projections can be memoized

package filter

import (
	"strings"

	"github.com/nainya/catalogops/pkg/catalog"
)

// Predicate reports whether a record passes the filters
type Predicate func(catalog.Record) bool

// Field names a searchable text attribute
type Field string

const (
	FieldCode         Field = "code"
	FieldName         Field = "name"
	FieldSupplier     Field = "supplier"
	FieldManufacturer Field = "manufacturer"
	FieldBarcode      Field = "barcode"
	FieldDescription  Field = "description"
)

// DefaultSecondaryFields are searched in addition to code and name
var DefaultSecondaryFields = []Field{FieldSupplier, FieldManufacturer, FieldBarcode}

func (f Field) value(r catalog.Record) string {
	switch f {
	case FieldCode:
		return r.Code
	case FieldName:
		return r.Name
	case FieldSupplier:
		return r.Supplier
	case FieldManufacturer:
		return r.Manufacturer
	case FieldBarcode:
		return r.Barcode
	case FieldDescription:
		return r.Description
	default:
		return ""
	}
}

type compileOptions struct {
	secondary []Field
}

// CompileOption adjusts predicate compilation
type CompileOption func(*compileOptions)

// SecondaryFields replaces the secondary search fields
func SecondaryFields(fields ...Field) CompileOption {
	return func(o *compileOptions) {
		o.secondary = append([]Field(nil), fields...)
	}
}

// Compile validates criteria and returns the AND of every active rule
func Compile(c Criteria, opts ...CompileOption) (Predicate, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	o := compileOptions{secondary: DefaultSecondaryFields}
	for _, opt := range opts {
		opt(&o)
	}

	var rules []Predicate

	switch c.Status {
	case StatusActive:
		rules = append(rules, func(r catalog.Record) bool { return r.Status })
	case StatusInactive:
		rules = append(rules, func(r catalog.Record) bool { return !r.Status })
	}

	if t := strings.ToLower(strings.TrimSpace(c.ItemType)); t != "" && t != TypeAll {
		want := catalog.ItemType(t)
		rules = append(rules, func(r catalog.Record) bool { return r.ItemType == want })
	}

	if c.DateFrom != nil {
		from := *c.DateFrom
		rules = append(rules, func(r catalog.Record) bool { return !r.CreatedAt.Before(from) })
	}
	if c.DateTo != nil {
		to := *c.DateTo
		rules = append(rules, func(r catalog.Record) bool { return !r.CreatedAt.After(to) })
	}

	if needle := normalizeSearch(c.SearchText); needle != "" {
		fields := append([]Field{FieldCode, FieldName}, o.secondary...)
		rules = append(rules, func(r catalog.Record) bool {
			for _, f := range fields {
				if strings.Contains(strings.ToLower(f.value(r)), needle) {
					return true
				}
			}
			return false
		})
	}

	return func(r catalog.Record) bool {
		for _, rule := range rules {
			if !rule(r) {
				return false
			}
		}
		return true
	}, nil
}

// Apply filters records with p, preserving their relative order
func Apply(records []catalog.Record, p Predicate) []catalog.Record {
	out := make([]catalog.Record, 0, len(records))
	for _, r := range records {
		if p(r) {
			out = append(out, r)
		}
	}
	return out
}
