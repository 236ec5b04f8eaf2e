// Package bulk drives the bulk property workflow: SEARCH, CREATE, UPDATE and
// ACTIVATE, plus ADD-BEHAVIOR on the default rule. Each stage reads its input
// from a remote job id or a workbook written by the previous stage, fans
// per-row lookups out over a bounded worker pool, prints a summary table and
// writes its own workbook.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/edgeops/edgectl/internal/artifact"
	"github.com/edgeops/edgectl/internal/audit"
	"github.com/edgeops/edgectl/internal/client"
	"github.com/edgeops/edgectl/internal/config"
	"github.com/edgeops/edgectl/internal/enrich"
	"github.com/edgeops/edgectl/internal/papi"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Stage names, as used in workbook file names and the artifact catalog.
const (
	StageSearch     = "search"
	StageCreate     = "create"
	StageUpdate     = "update"
	StageActivation = "activation"
	StageAdd        = "add"
)

var (
	// ErrNoProperties means filtering left nothing for later stages to act on.
	ErrNoProperties = errors.New("no property found with requested conditions")
	// ErrScopeConflict is returned when a search names both a contract and groups.
	ErrScopeConflict = errors.New("--contract and --group are mutually exclusive")
)

// API is the part of the property API the engine drives. *papi.Client
// implements it.
type API interface {
	SubmitBulkSearch(ctx context.Context, query []byte, scope papi.SearchScope) (int64, error)
	GetBulkSearch(ctx context.Context, id int64) (*papi.BulkSearch, error)
	SubmitBulkCreate(ctx context.Context, pairs []papi.VersionPair) (int64, error)
	GetBulkCreate(ctx context.Context, id int64) (*papi.BulkCreate, error)
	SubmitBulkPatch(ctx context.Context, targets []papi.PatchTarget) (int64, error)
	GetBulkPatch(ctx context.Context, id int64) (*papi.BulkPatch, error)
	SubmitBulkActivation(ctx context.Context, req papi.BulkActivationRequest) (int64, error)
	GetBulkActivation(ctx context.Context, id int64) (*papi.BulkActivation, error)

	GetVersion(ctx context.Context, propertyID int64, version int) (*client.Response, error)
	GetHostnames(ctx context.Context, propertyID int64, version int) ([]string, error)
	ListGroups(ctx context.Context) (*papi.Groups, error)
	ListVersions(ctx context.Context, propertyID int64) (*papi.VersionList, error)
	GetRuleTree(ctx context.Context, propertyID int64, version int) (*papi.RuleTree, error)
	PutRuleTree(ctx context.Context, propertyID int64, version int, ruleFormat, note string, rules map[string]any) (int, []byte, error)
	Activate(ctx context.Context, propertyID int64, req papi.ActivationRequest) (int64, error)
	GetActivation(ctx context.Context, propertyID, activationID int64) (*papi.Activation, error)
	GetActivationByLink(ctx context.Context, link string) (*papi.Activation, error)
}

// Snapshots keeps JSON copies of remote jobs. *artifact.Store implements it.
type Snapshots interface {
	SaveJSON(stage string, jobID int64, label string, v any) (*artifact.Record, error)
}

// Auditor records submitted changes. *audit.Logger implements it.
type Auditor interface {
	Record(event audit.EventType, detail any) error
}

// Options configures an Engine. Dir is the account's bulk output directory.
type Options struct {
	Workers      int
	PollInterval time.Duration
	ConsoleURL   string
	Dir          string
	Out          io.Writer
	Logger       zerolog.Logger
	Snapshots    Snapshots
	Audit        Auditor
	Now          func() time.Time
}

// Engine runs bulk stages against one account.
type Engine struct {
	api      API
	opts     Options
	logger   zerolog.Logger
	validate *validator.Validate
}

// NewEngine creates an engine. Workers is clamped to the supported range.
func NewEngine(api API, opts Options) *Engine {
	opts.Workers = config.ClampWorkers(opts.Workers)
	if opts.PollInterval <= 0 {
		opts.PollInterval = config.DefaultPollInterval
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("flag"); name != "" {
			return "--" + name
		}
		return fld.Name
	})

	return &Engine{
		api:      api,
		opts:     opts,
		logger:   opts.Logger.With().Str("pkg", "bulk").Logger(),
		validate: v,
	}
}

// check validates a stage's options and reports the first failure as one line.
func (e *Engine) check(opts any) error {
	err := e.validate.Struct(opts)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "required_with", "required_without":
		if fe.Param() != "" {
			return fmt.Errorf("%s is required with this combination of options", fe.Field())
		}
		return fmt.Errorf("%s is required", fe.Field())
	case "excluded_with", "excluded_without":
		return fmt.Errorf("%s cannot be combined with the other options given", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("invalid %s: %v", fe.Field(), fe.Value())
	}
}

// forEach runs fn for every index in [0, n) on at most Workers goroutines.
// The first error cancels the rest.
func (e *Engine) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i := range n {
		g.Go(func() error { return fn(ctx, i) })
	}
	return g.Wait()
}

// poll calls fetch until it reports done, sleeping PollInterval in between.
func poll[T any](ctx context.Context, e *Engine, job string, id int64, fetch func(context.Context) (T, bool, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		v, done, err := fetch(ctx)
		if err != nil || done {
			return v, err
		}
		e.logger.Info().Str("job", job).Int64("id", id).Int("attempt", attempt).Msg("waiting for remote job")
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(e.opts.PollInterval):
		}
	}
}

// fatal reports errors that must stop a stage instead of degrading a row.
func fatal(err error) bool {
	return errors.Is(err, client.ErrRateLimited) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// enrichRow fills the enrichment columns of row for version. Lookup failures
// leave the sentinel in place; only fatal errors are returned.
func (e *Engine) enrichRow(ctx context.Context, row *WorkingRow, version int) error {
	log := e.logger.With().Int64("propertyId", row.PropertyID).Int("version", version).Logger()

	resp, err := e.api.GetVersion(ctx, row.PropertyID, version)
	switch {
	case err != nil && fatal(err):
		return err
	case err != nil:
		log.Warn().Err(err).Msg("version lookup failed")
	case !resp.OK():
		log.Warn().Int("status", resp.Status).Msg("version lookup failed")
	default:
		rec, err := papi.ParseRecord(resp.Body)
		if err != nil {
			log.Warn().Err(err).Msg("version record unreadable")
			break
		}
		fillFromRecord(row, rec)
	}

	hosts, err := e.api.GetHostnames(ctx, row.PropertyID, version)
	if err != nil {
		if fatal(err) {
			return err
		}
		log.Warn().Err(err).Msg("hostname lookup failed")
	} else {
		row.Hostnames = hosts
	}

	groups, err := e.api.ListGroups(ctx)
	if err != nil {
		if fatal(err) {
			return err
		}
		log.Warn().Err(err).Msg("group lookup failed")
	} else if g, ok := groups.Find(row.GroupID); ok {
		row.GroupName = g.GroupName
	}

	row.PropertyURL = enrich.PropertyURL(e.opts.ConsoleURL, row.AssetID, version, row.GroupID)
	if row.PropertyURL == "" {
		row.PropertyURL = itoa(row.PropertyID)
	}
	return nil
}

func fillFromRecord(row *WorkingRow, rec *papi.Record) {
	if row.PropertyName == "" {
		row.PropertyName, _ = rec.String(papi.ExprPropertyName)
		row.Env = enrich.Env(row.PropertyName)
	}
	row.ContractID, _ = rec.String(papi.ExprContractID)
	row.GroupID, _ = rec.Int64(papi.ExprGroupID)
	row.AssetID, _ = rec.Int64(papi.ExprAssetID)
	row.RuleFormat, _ = rec.String(papi.ExprRuleFormat)
	row.ProductID, _ = rec.String(papi.ExprProductID)
	updated, _ := rec.String(papi.ExprUpdatedDate)
	row.UpdatedDate = enrich.UpdatedDate(updated)
}

// enrichAll enriches every row at the version chosen by versionOf.
func (e *Engine) enrichAll(ctx context.Context, rows []WorkingRow, versionOf func(WorkingRow) int) error {
	start := time.Now()
	err := e.forEach(ctx, len(rows), func(ctx context.Context, i int) error {
		return e.enrichRow(ctx, &rows[i], versionOf(rows[i]))
	})
	e.logger.Info().Int("rows", len(rows)).Int("workers", e.opts.Workers).Dur("elapsed", time.Since(start)).Msg("enrichment done")
	return err
}

func (e *Engine) snapshot(stage string, id int64, label string, v any) {
	if e.opts.Snapshots == nil {
		return
	}
	if _, err := e.opts.Snapshots.SaveJSON(stage, id, label, v); err != nil {
		e.logger.Warn().Err(err).Str("stage", stage).Int64("id", id).Msg("saving job snapshot failed")
	}
}

func (e *Engine) audit(event audit.EventType, detail map[string]any) {
	if e.opts.Audit == nil {
		return
	}
	if err := e.opts.Audit.Record(event, detail); err != nil {
		e.logger.Warn().Err(err).Str("event", string(event)).Msg("audit record failed")
	}
}

// WorkbookPath is the deterministic location of a stage's workbook.
func WorkbookPath(dir, tag, stage, jobID string) string {
	name := "bulk"
	if tag != "" {
		name += "_" + tag
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s.xlsx", name, stage, jobID))
}

// jobLabel joins job ids for file names; with no id it falls back to a timestamp.
func (e *Engine) jobLabel(ids ...int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			parts = append(parts, itoa(id))
		}
	}
	if len(parts) == 0 {
		return e.opts.Now().Format("20060102_150405")
	}
	return strings.Join(parts, "_")
}

func (e *Engine) printf(format string, args ...any) {
	fmt.Fprintf(e.opts.Out, format, args...)
}

// done prints the trailer every stage ends with.
func (e *Engine) done(path string, next ...string) {
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		e.printf("workbook: %s\n", path)
	}
	for _, cmd := range next {
		e.printf("next: %s\n", cmd)
	}
}
