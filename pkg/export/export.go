// ABOUTME: Serializes item records into downloadable tabular payloads
// ABOUTME: CSV and SpreadsheetML workbooks with a fixed column set

package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nainya/catalogops/pkg/catalog"
)

// Format selects the payload encoding
type Format string

const (
	FormatCSV         Format = "csv"
	FormatSpreadsheet Format = "spreadsheet"
)

// Formats lists supported formats
var Formats = []Format{FormatCSV, FormatSpreadsheet}

// ParseFormat converts a string into a known Format
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatCSV, FormatSpreadsheet:
		return f, nil
	case "xls", "excel":
		return FormatSpreadsheet, nil
	}
	return "", &catalog.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported export format %q", s)}
}

// Columns are the exported headers, in order
var Columns = []string{
	"Code",
	"Name",
	"Item Type",
	"Supplier",
	"Manufacturer",
	"Barcode",
	"Unit",
	"Status",
	"Sort Order",
	"Created At",
}

const (
	createdAtLayout = "2006-01-02 15:04:05"
	filenameLayout  = "20060102-150405"
	filenameStem    = "items"
	utf8BOM         = "\ufeff"
)

// Payload is a serialized export ready to be saved or downloaded
type Payload struct {
	Data      []byte
	Filename  string
	Extension string
	MIMEType  string
}

type options struct {
	bom   bool
	clock func() time.Time
}

// Option configures serialization
type Option func(*options)

// WithBOM prefixes CSV output with a UTF-8 byte order mark
func WithBOM() Option {
	return func(o *options) { o.bom = true }
}

// WithClock overrides the time used for the filename
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// Serialize renders records in the given format
func Serialize(records []catalog.Record, format Format, opts ...Option) (Payload, error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		data []byte
		err  error
		p    Payload
	)
	switch format {
	case FormatCSV:
		data, err = encodeCSV(records, o.bom)
		p.Extension, p.MIMEType = "csv", "text/csv; charset=utf-8"
	case FormatSpreadsheet:
		data, err = encodeSpreadsheet(records)
		p.Extension, p.MIMEType = "xls", "application/vnd.ms-excel"
	default:
		return Payload{}, &catalog.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported export format %q", format)}
	}
	if err != nil {
		return Payload{}, fmt.Errorf("export %s: %w", format, err)
	}

	p.Data = data
	p.Filename = fmt.Sprintf("%s-%s.%s", filenameStem, o.clock().Format(filenameLayout), p.Extension)
	return p, nil
}

func row(r catalog.Record) []string {
	return []string{
		r.Code,
		r.Name,
		string(r.ItemType),
		r.Supplier,
		r.Manufacturer,
		r.Barcode,
		r.Unit,
		r.StatusLabel(),
		strconv.Itoa(r.SortOrder),
		formatTime(r.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(createdAtLayout)
}

func encodeCSV(records []catalog.Record, bom bool) ([]byte, error) {
	var buf bytes.Buffer
	if bom {
		buf.WriteString(utf8BOM)
	}

	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := w.Write(row(r)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
