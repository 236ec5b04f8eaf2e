// Package render prints stage summaries to the console.
package render

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = cellStyle.Foreground(lipgloss.Color("10"))
	failStyle   = cellStyle.Foreground(lipgloss.Color("9"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// Table is a header plus rows of already formatted cells.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Print writes t under title. Cells of status-like columns are colored by
// outcome.
func Print(w io.Writer, title string, t Table) {
	statusCols := map[int]bool{}
	for i, h := range t.Headers {
		if isStatusColumn(h) {
			statusCols[i] = true
		}
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(t.Headers...).
		Rows(t.Rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if statusCols[col] && row >= 0 && row < len(t.Rows) && col < len(t.Rows[row]) {
				return statusStyle(t.Rows[row][col])
			}
			return cellStyle
		})

	if title != "" {
		fmt.Fprintln(w, titleStyle.Render(title))
	}
	fmt.Fprintln(w, tbl.String())
}

func isStatusColumn(h string) bool {
	h = strings.ToLower(h)
	return strings.Contains(h, "status")
}

func statusStyle(v string) lipgloss.Style {
	switch {
	case v == "COMPLETE", v == "ACTIVE", v == "SUBMITTED", v == "200":
		return okStyle
	case strings.Contains(v, "ERROR"), strings.Contains(v, "FAIL"), v == "ABORTED", strings.HasPrefix(v, "4"), strings.HasPrefix(v, "5"):
		return failStyle
	default:
		return cellStyle
	}
}

// GroupCount counts identical rows. The result has the given headers plus a
// trailing "count" column and is sorted by key.
func GroupCount(headers []string, rows [][]string) Table {
	counts := map[string]int{}
	keys := map[string][]string{}
	for _, r := range rows {
		k := strings.Join(r, "\x00")
		if _, ok := keys[k]; !ok {
			keys[k] = r
		}
		counts[k]++
	}

	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	out := Table{Headers: append(append([]string(nil), headers...), "count")}
	for _, k := range ordered {
		out.Rows = append(out.Rows, append(append([]string(nil), keys[k]...), strconv.Itoa(counts[k])))
	}
	return out
}
