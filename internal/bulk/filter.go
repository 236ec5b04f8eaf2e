package bulk

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/edgeops/edgectl/internal/papi"
	"github.com/rs/zerolog"
)

// Version selectors.
const (
	VersionProduction = "production"
	VersionStaging    = "staging"
	VersionLatest     = "latest"
)

// Filter selects rows of a working set. Zero-valued options are ignored and
// the rest are combined with AND. Product is only meaningful after
// enrichment.
type Filter struct {
	Version      string   `flag:"version" validate:"omitempty,oneof=production staging latest"`
	NameContains string   `flag:"name-contains"`
	Env          string   `flag:"env"`
	Properties   []string `flag:"property"`
	Include      string   `flag:"include"`
	Exclude      string   `flag:"exclude"`
	Product      string   `flag:"product"`
}

type predicate struct {
	name string
	keep func(WorkingRow) bool
}

// compiledFilter is a Filter with its name-list files loaded.
type compiledFilter struct {
	raw      []predicate
	enriched []predicate
}

func (f Filter) compile() (*compiledFilter, error) {
	if f.Include != "" && f.Exclude != "" {
		return nil, fmt.Errorf("--include and --exclude are mutually exclusive")
	}
	c := &compiledFilter{}

	switch f.Version {
	case "":
	case VersionProduction:
		c.raw = append(c.raw, predicate{"version=production", func(r WorkingRow) bool { return r.ProductionStatus == papi.StatusActive }})
	case VersionStaging:
		c.raw = append(c.raw, predicate{"version=staging", func(r WorkingRow) bool { return r.StagingStatus == papi.StatusActive }})
	case VersionLatest:
		c.raw = append(c.raw, predicate{"version=latest", func(r WorkingRow) bool { return r.IsLatest }})
	default:
		return nil, fmt.Errorf("unknown version selector %q", f.Version)
	}

	if f.NameContains != "" {
		sub := f.NameContains
		c.raw = append(c.raw, predicate{"name_contains", func(r WorkingRow) bool { return strings.Contains(r.PropertyName, sub) }})
	}
	if f.Env != "" {
		env := f.Env
		c.raw = append(c.raw, predicate{"env", func(r WorkingRow) bool { return r.Env == env }})
	}
	if len(f.Properties) > 0 {
		names := nameSet(f.Properties)
		c.raw = append(c.raw, predicate{"property", func(r WorkingRow) bool { return names[r.PropertyName] }})
	}
	if f.Include != "" {
		list, err := LoadNameList(f.Include)
		if err != nil {
			return nil, err
		}
		names := nameSet(list)
		c.raw = append(c.raw, predicate{"include", func(r WorkingRow) bool { return names[r.PropertyName] }})
	}
	if f.Exclude != "" {
		list, err := LoadNameList(f.Exclude)
		if err != nil {
			return nil, err
		}
		names := nameSet(list)
		c.raw = append(c.raw, predicate{"exclude", func(r WorkingRow) bool { return !names[r.PropertyName] }})
	}
	if f.Product != "" {
		product := f.Product
		c.enriched = append(c.enriched, predicate{"product", func(r WorkingRow) bool { return r.ProductID == product }})
	}
	return c, nil
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// LoadNameList reads a newline-delimited list of property names. Blank lines
// and surrounding whitespace are dropped.
func LoadNameList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading name list: %w", err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			names = append(names, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading name list: %w", err)
	}
	return names, nil
}

func apply(rows WorkingSet, preds []predicate, stage string, logger zerolog.Logger) WorkingSet {
	out := slices.Clone(rows)
	for _, p := range preds {
		before := len(out)
		out = slices.DeleteFunc(out, func(r WorkingRow) bool { return !p.keep(r) })
		logger.Debug().Str("filter", p.name).Int("before", before).Int("after", len(out)).Msg("filter applied")
	}
	logger.Info().Str("stage", stage).Int("rows_in", len(rows)).Int("rows_out", len(out)).Msg("filter report")
	return out
}

// ApplyRaw applies every option that does not need enrichment.
func (c *compiledFilter) ApplyRaw(rows WorkingSet, logger zerolog.Logger) WorkingSet {
	return apply(rows, c.raw, "raw", logger)
}

// ApplyEnriched applies the options that read enrichment columns.
func (c *compiledFilter) ApplyEnriched(rows WorkingSet, logger zerolog.Logger) WorkingSet {
	return apply(rows, c.enriched, "enriched", logger)
}

// Apply runs both passes on rows that are already enriched.
func (f Filter) Apply(rows WorkingSet, logger zerolog.Logger) (WorkingSet, error) {
	c, err := f.compile()
	if err != nil {
		return nil, err
	}
	return c.ApplyEnriched(c.ApplyRaw(rows, logger), logger), nil
}
