package workbook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// StrictModeSuffix is the path segment removable from match locations.
const StrictModeSuffix = "/options/strictMode"

// EncodeList renders a list of rule-tree paths as a cell, e.g.
// ["/rules/behaviors/0","/rules/children/1/behaviors/2"].
func EncodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.Encode(items)
	return strings.TrimSuffix(buf.String(), "\n")
}

// DecodeList parses a cell written by EncodeList. It also accepts the
// single-quoted list syntax, e.g. ['/rules/behaviors/0'].
func DecodeList(cell string) ([]string, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(cell), &items); err == nil {
		return items, nil
	}
	if !strings.HasPrefix(cell, "[") || !strings.HasSuffix(cell, "]") {
		return nil, fmt.Errorf("not a list literal: %q", cell)
	}
	inner := strings.TrimSpace(cell[1 : len(cell)-1])
	if inner == "" {
		return []string{}, nil
	}
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if len(part) < 2 || part[0] != part[len(part)-1] || (part[0] != '\'' && part[0] != '"') {
			return nil, fmt.Errorf("unquoted list item %q", part)
		}
		items = append(items, part[1:len(part)-1])
	}
	return items, nil
}

// StripStrictMode removes every StrictModeSuffix from a matchLocations cell.
func StripStrictMode(cell string) string {
	return strings.ReplaceAll(cell, StrictModeSuffix, "")
}
