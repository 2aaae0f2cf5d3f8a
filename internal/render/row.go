// Package render fills email bodies from row data and named templates.
package render

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)
	positionalRe  = regexp.MustCompile(`^\d+$`)
)

// RenderRow substitutes {{token}} placeholders in template with values from
// row. A numeric token is a 1-based position in row; any other token is
// matched case-insensitively against headers, the last of several equal
// headers winning. Tokens that resolve to nothing become the empty string.
func RenderRow(template string, headers, row []string) string {
	if template == "" {
		return ""
	}

	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		token := strings.TrimSpace(placeholderRe.FindStringSubmatch(match)[1])

		if positionalRe.MatchString(token) {
			pos, err := strconv.Atoi(token)
			if err != nil || pos < 1 || pos > len(row) {
				return ""
			}
			return row[pos-1]
		}

		if i, ok := index[strings.ToLower(token)]; ok && i < len(row) {
			return row[i]
		}
		return ""
	})
}
