package sheet

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mailstream/mailstream/internal/model"
)

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"list.csv":          FormatCSV,
		"LIST.TSV":          FormatTSV,
		"people.xlsx":       FormatXLSX,
		"legacy.xls":        FormatXLS,
		"notes.txt":         FormatCSV,
		"no-extension":      FormatCSV,
		"/path/to/sheet.ts": FormatCSV,
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, DetectFormat(name))
		})
	}
}

func TestFromFile_CSV(t *testing.T) {
	data := "\xef\xbb\xbf Email , Name ,Event\n" +
		"a@x.com,Ada\n" +
		",,\n" +
		"b@x.com,Bob,GopherCon,extra\n" +
		"\n"

	m, err := FromFile([]byte(data), "people.csv")
	require.NoError(t, err)

	assert.Equal(t, []string{"Email", "Name", "Event"}, m.Headers)
	assert.Equal(t, [][]string{
		{"a@x.com", "Ada", ""},
		{"b@x.com", "Bob", "GopherCon"},
	}, m.Rows)
	for _, row := range m.Rows {
		assert.Len(t, row, len(m.Headers))
	}
}

func TestFromFile_TSV(t *testing.T) {
	m, err := FromFile([]byte("email\tname\na@x.com\tAda \"the\" first\n"), "people.tsv")
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, m.Headers)
	assert.Equal(t, "Ada \"the\" first", m.Rows[0][1])
}

func TestFromFile_LeadingBlankRows(t *testing.T) {
	m, err := FromFile([]byte("\n , \nemail\na@x.com\n"), "x.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, m.Headers)
	assert.Equal(t, [][]string{{"a@x.com"}}, m.Rows)
}

func TestFromFile_Empty(t *testing.T) {
	_, err := FromFile([]byte(""), "x.csv")
	assert.ErrorIs(t, err, ErrNoHeaders)

	_, err = FromFile([]byte("email,name\n,\n"), "x.csv")
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestFromFile_XLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"email", "name"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"a@x.com", "Ada"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]interface{}{"b@x.com"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	m, err := FromFile(buf.Bytes(), "people.xlsx")
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, m.Headers)
	assert.Equal(t, [][]string{{"a@x.com", "Ada"}, {"b@x.com", ""}}, m.Rows)
}

func TestFromFile_BadXLSX(t *testing.T) {
	_, err := FromFile([]byte("definitely not a zip"), "people.xlsx")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, FormatXLSX, perr.Format)
}

func TestParseXLS(t *testing.T) {
	data, err := os.ReadFile("testdata/contacts.xls")
	require.NoError(t, err)

	raw, err := parseXLS(data)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"email", "name"},
		{"ada@example.com", "Ada"},
		nil,
		{"bob@example.com", "Bob"},
	}, raw)
}

func TestFromFile_XLS(t *testing.T) {
	data, err := os.ReadFile("testdata/contacts.xls")
	require.NoError(t, err)

	m, err := FromFile(data, "contacts.xls")
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, m.Headers)
	assert.Equal(t, [][]string{{"ada@example.com", "Ada"}, {"bob@example.com", "Bob"}}, m.Rows)
}

func TestFromFile_BadXLS(t *testing.T) {
	_, err := FromFile([]byte("not a compound document"), "contacts.xls")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, FormatXLS, perr.Format)
}

func TestNormalize(t *testing.T) {
	m := Normalize([][]string{{"a", "b"}, {"1"}, {"1", "2", "3"}, {" ", ""}})
	assert.Equal(t, &model.SheetMatrix{
		Headers: []string{"a", "b"},
		Rows:    [][]string{{"1", ""}, {"1", "2"}},
	}, m)

	empty := Normalize(nil)
	assert.Empty(t, empty.Headers)
	assert.Empty(t, empty.Rows)
}

func TestRequireEmailColumn(t *testing.T) {
	idx, err := RequireEmailColumn([]string{"Name", "E-Mail", " EMAIL "})
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	_, err = RequireEmailColumn([]string{"name"})
	assert.ErrorIs(t, err, ErrMissingEmailColumn)

	_, err = RequireEmailColumn(nil)
	assert.ErrorIs(t, err, ErrNoHeaders)
}

type fakeFetcher struct {
	body      []byte
	err       error
	gotURL    string
	allowlist []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string, allowlist []string) ([]byte, error) {
	f.gotURL = rawURL
	f.allowlist = allowlist
	return f.body, f.err
}

func TestIngestor_FromURL(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte("email\tname\na@x.com\tAda\n")}
	ing := NewIngestor(fetcher, true)

	m, err := ing.FromURL(context.Background(), "https://docs.example.com/list.tsv?export=1", []string{"docs.example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, m.Headers)
	assert.Equal(t, []string{"docs.example.com"}, fetcher.allowlist)
}

func TestIngestor_FromURL_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewIngestor(&fakeFetcher{}, false).FromURL(ctx, "https://docs.example.com/a.csv", nil)
	assert.ErrorIs(t, err, ErrRemoteDisabled)

	_, err = NewIngestor(&fakeFetcher{}, true).FromURL(ctx, "  ", nil)
	assert.ErrorIs(t, err, ErrURLRequired)

	boom := errors.New("boom")
	_, err = NewIngestor(&fakeFetcher{err: boom}, true).FromURL(ctx, "https://docs.example.com/a.csv", nil)
	assert.ErrorIs(t, err, boom)
}
