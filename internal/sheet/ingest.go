// Package sheet turns uploaded or hosted spreadsheets into a header row and
// rectangular data rows.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/mailstream/mailstream/internal/model"
)

// Format is a spreadsheet encoding
type Format string

// Supported formats
const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// Ingestion errors
var (
	ErrNoHeaders          = errors.New("sheet has no header row")
	ErrNoRows             = errors.New("sheet has no data rows")
	ErrMissingEmailColumn = errors.New("sheet has no email column")
	ErrRemoteDisabled     = errors.New("remote sheet urls are disabled")
	ErrURLRequired        = errors.New("sheet url is required")
)

// ParseError wraps a failure to decode the spreadsheet bytes
type ParseError struct {
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s sheet: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Fetcher downloads a URL after checking it is safe to fetch
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, allowlist []string) ([]byte, error)
}

// DetectFormat infers the format from a filename extension. Unknown
// extensions are read as CSV.
func DetectFormat(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".tsv":
		return FormatTSV
	case ".xlsx":
		return FormatXLSX
	case ".xls":
		return FormatXLS
	default:
		return FormatCSV
	}
}

// FromFile parses an uploaded file
func FromFile(data []byte, filename string) (*model.SheetMatrix, error) {
	return parse(data, DetectFormat(filename))
}

// Ingestor reads sheets from remote URLs through a Fetcher
type Ingestor struct {
	fetcher       Fetcher
	remoteEnabled bool
}

// NewIngestor creates an Ingestor. With remoteEnabled false FromURL always
// fails with ErrRemoteDisabled.
func NewIngestor(fetcher Fetcher, remoteEnabled bool) *Ingestor {
	return &Ingestor{fetcher: fetcher, remoteEnabled: remoteEnabled}
}

// FromURL fetches a hosted sheet and parses it. The format comes from the
// URL path, ignoring any query string.
func (i *Ingestor) FromURL(ctx context.Context, rawURL string, allowlist []string) (*model.SheetMatrix, error) {
	if !i.remoteEnabled {
		return nil, ErrRemoteDisabled
	}
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrURLRequired
	}

	data, err := i.fetcher.Fetch(ctx, rawURL, allowlist)
	if err != nil {
		return nil, err
	}

	name := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		name = u.Path
	}
	return parse(data, DetectFormat(name))
}

// RequireEmailColumn returns the index of the email column
func RequireEmailColumn(headers []string) (int, error) {
	if len(headers) == 0 {
		return -1, ErrNoHeaders
	}
	idx := model.HeaderIndex(headers, "email")
	if idx < 0 {
		return -1, ErrMissingEmailColumn
	}
	return idx, nil
}

func parse(data []byte, format Format) (*model.SheetMatrix, error) {
	var (
		raw [][]string
		err error
	)
	switch format {
	case FormatXLSX:
		raw, err = parseXLSX(data)
	case FormatXLS:
		raw, err = parseXLS(data)
	case FormatTSV:
		raw, err = parseDelimited(data, '\t')
	default:
		raw, err = parseDelimited(data, ',')
	}
	if err != nil {
		return nil, &ParseError{Format: format, Err: err}
	}

	m := Normalize(raw)
	if len(m.Headers) == 0 {
		return nil, ErrNoHeaders
	}
	if len(m.Rows) == 0 {
		return nil, ErrNoRows
	}
	return m, nil
}

// Normalize drops blank rows, takes the first remaining row as trimmed
// headers, and pads or truncates data rows to the header width.
func Normalize(raw [][]string) *model.SheetMatrix {
	kept := make([][]string, 0, len(raw))
	for _, row := range raw {
		if !isBlank(row) {
			kept = append(kept, row)
		}
	}
	if len(kept) == 0 {
		return &model.SheetMatrix{Headers: []string{}, Rows: [][]string{}}
	}

	headers := make([]string, len(kept[0]))
	for i, h := range kept[0] {
		headers[i] = strings.TrimSpace(h)
	}

	rows := make([][]string, 0, len(kept)-1)
	for _, r := range kept[1:] {
		row := make([]string, len(headers))
		copy(row, r)
		rows = append(rows, row)
	}
	return &model.SheetMatrix{Headers: headers, Rows: rows}
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
