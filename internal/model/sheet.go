package model

import "strings"

// SheetMatrix is a rectangular table with a header row
type SheetMatrix struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// ColumnIndex returns the index of the first header equal to name
// (case-insensitive), or -1.
func (m *SheetMatrix) ColumnIndex(name string) int {
	return HeaderIndex(m.Headers, name)
}

// HeaderIndex returns the index of the first header equal to name
// (case-insensitive, surrounding whitespace ignored), or -1.
func HeaderIndex(headers []string, name string) int {
	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}
