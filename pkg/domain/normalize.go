package domain

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// NormalizeContent canonicalizes raw content for the given artifact type.
// It is idempotent: feeding its own output back yields the same value.
// Empty string, all-whitespace and empty-grid inputs all collapse to nil so
// "no content" has exactly one representation.
func NormalizeContent(typ ArtifactType, v any) any {
	if v == nil {
		return nil
	}
	switch typ {
	case TypeText, TypeImage:
		return normalizeString(v)
	case TypeTable:
		return normalizeGridContent(v, false)
	case TypeSpreadsheet:
		return normalizeGridContent(v, true)
	}
	return normalizeString(v)
}

func normalizeString(v any) any {
	s := strings.TrimSpace(stringify(v))
	if s == "" {
		return nil
	}
	return s
}

// normalizeGridContent handles both shapes a table may arrive in: a
// structured grid, or a pre-rendered opaque string (legacy path), which is
// trimmed rather than re-parsed.
func normalizeGridContent(v any, spreadsheet bool) any {
	if s, ok := v.(string); ok {
		return normalizeString(s)
	}
	grid, ok := asGrid(v)
	if !ok {
		return normalizeString(v)
	}
	grid = trimGrid(grid)
	if len(grid) == 0 {
		return nil
	}
	if spreadsheet {
		for _, row := range grid {
			for i, cell := range row {
				row[i] = canonicalizeFormula(cell)
			}
		}
	}
	return grid
}

// asGrid coerces the shapes produced by the parser and by JSON decoding
// ([][]string, [][]any, []any of rows) into a [][]string with every empty
// cell as the canonical "".
func asGrid(v any) ([][]string, bool) {
	switch rows := v.(type) {
	case [][]string:
		out := make([][]string, len(rows))
		for i, row := range rows {
			out[i] = make([]string, len(row))
			for j, cell := range row {
				out[i][j] = strings.TrimSpace(cell)
			}
		}
		return out, true
	case [][]any:
		out := make([][]string, len(rows))
		for i, row := range rows {
			out[i] = coerceRow(row)
		}
		return out, true
	case []any:
		out := make([][]string, 0, len(rows))
		for _, raw := range rows {
			switch row := raw.(type) {
			case []string:
				cells := make([]string, len(row))
				for j, cell := range row {
					cells[j] = strings.TrimSpace(cell)
				}
				out = append(out, cells)
			case []any:
				out = append(out, coerceRow(row))
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}

func coerceRow(row []any) []string {
	cells := make([]string, len(row))
	for j, cell := range row {
		if cell == nil {
			cells[j] = ""
			continue
		}
		cells[j] = strings.TrimSpace(stringify(cell))
	}
	return cells
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprintf("%v", v)
}

// trimGrid strips trailing all-empty rows and trailing all-empty columns.
// Leading/interior empties are kept: position is meaningful inside a table.
func trimGrid(grid [][]string) [][]string {
	lastRow := -1
	for i, row := range grid {
		if !rowEmpty(row) {
			lastRow = i
		}
	}
	grid = grid[:lastRow+1]

	width := 0
	for _, row := range grid {
		for j, cell := range row {
			if cell != "" && j+1 > width {
				width = j + 1
			}
		}
	}
	for i, row := range grid {
		if len(row) > width {
			grid[i] = row[:width]
		}
	}
	return grid
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}

// canonicalizeFormula upper-cases formula text outside quoted string
// literals, so =sum("Text",a1) becomes =SUM("Text",A1). Doubled quotes
// inside a literal are the spreadsheet escape and stay inside the literal.
func canonicalizeFormula(cell string) string {
	if !strings.HasPrefix(cell, "=") {
		return cell
	}
	var b strings.Builder
	b.Grow(len(cell))
	inQuote := false
	rs := []rune(cell)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if r == '"' {
			if inQuote && i+1 < len(rs) && rs[i+1] == '"' {
				b.WriteRune(r)
				b.WriteRune(rs[i+1])
				i++
				continue
			}
			inQuote = !inQuote
			b.WriteRune(r)
			continue
		}
		if inQuote {
			b.WriteRune(r)
		} else {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
