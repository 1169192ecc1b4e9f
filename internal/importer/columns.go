package importer

import (
	"fmt"
	"strings"
)

// Register column names.
const (
	ColTitle          = "Title"
	ColCharityNumber  = "Charity Number"
	ColActivities     = "Activities"
	ColContactAddress = "Contact Address"
	ColWebsite        = "website"
	ColTelephone      = "Contact Telephone"
	ColDateRemoved    = "date removed"
	ColClassification = "Charity Classification"
)

// Required column sets, checked against a source header before any row is
// processed.
var (
	OrganisationColumns = []string{ColTitle, ColActivities, ColContactAddress, ColWebsite, ColTelephone, ColDateRemoved}
	CategoryColumns     = []string{ColTitle, ColClassification}
)

// Positions in the email export, which has no usable header.
const (
	emailNameIndex  = 0
	emailEmailIndex = 7
)

// Header indexes a source's header row. Lookups ignore case and surrounding
// whitespace.
type Header struct {
	names []string
	index map[string]int
}

// NewHeader builds a Header. Later duplicates of a name are ignored.
func NewHeader(names []string) *Header {
	h := &Header{names: names, index: make(map[string]int, len(names))}
	for i, n := range names {
		key := headerKey(n)
		if _, dup := h.index[key]; !dup {
			h.index[key] = i
		}
	}
	return h
}

func headerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Len returns the number of header columns.
func (h *Header) Len() int { return len(h.names) }

// Missing returns the required names absent from h, in the order given.
func (h *Header) Missing(required []string) []string {
	var missing []string
	for _, name := range required {
		if _, ok := h.index[headerKey(name)]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// MissingColumnsError reports required columns absent from a header. It is
// fatal for a batch.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("importer: missing required columns: %s", strings.Join(e.Missing, ", "))
}

// CheckColumns returns *MissingColumnsError when any required column is
// missing from the row's header.
func CheckColumns(row Row, required []string) error {
	if row.Header == nil {
		return &MissingColumnsError{Missing: required}
	}
	if missing := row.Header.Missing(required); len(missing) > 0 {
		return &MissingColumnsError{Missing: missing}
	}
	return nil
}

// Row is one record from a source, read once.
type Row struct {
	Header *Header
	Fields []string
	Line   int // 1-based record number in the source, header included
}

// NewRow pairs fields with a header.
func NewRow(header *Header, fields []string, line int) Row {
	return Row{Header: header, Fields: fields, Line: line}
}

// Get returns the trimmed value of a named column.
func (r Row) Get(col string) string {
	if r.Header == nil {
		return ""
	}
	i, ok := r.Header.index[headerKey(col)]
	if !ok {
		return ""
	}
	return r.At(i)
}

// At returns the trimmed value at position i, or "" past the end.
func (r Row) At(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return strings.TrimSpace(r.Fields[i])
}
