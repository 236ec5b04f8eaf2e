package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"github.com/edgeops/edgectl/internal/artifact"
	"github.com/edgeops/edgectl/internal/audit"
	"github.com/edgeops/edgectl/internal/bulk"
	"github.com/edgeops/edgectl/internal/client"
	"github.com/edgeops/edgectl/internal/config"
	"github.com/edgeops/edgectl/internal/db"
	"github.com/edgeops/edgectl/internal/edgegrid"
	"github.com/edgeops/edgectl/internal/identity"
	"github.com/edgeops/edgectl/internal/logging"
	"github.com/edgeops/edgectl/internal/papi"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func bind(v *viper.Viper, flag *pflag.Flag, key string) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding --%s: %v", flag.Name, err))
	}
}

// newClient builds the API client for cfg. Tests replace it to point at a stub.
var newClient = func(cfg config.Config, logger zerolog.Logger) (*client.Client, error) {
	creds, err := edgegrid.LoadCredentials(cfg.Edgerc, cfg.Section)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("host", creds.Host).Str("section", cfg.Section).Msg("credentials loaded")
	return client.NewSigned(creds, client.Options{
		AccountSwitchKey: cfg.AccountSwitchKey,
		RateLimit:        cfg.RateLimit,
		Logger:           logger,
	}), nil
}

// app is everything a bulk command needs for one account.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	account string
	dir     string
	catalog *sql.DB
	store   *artifact.Store
	audit   *audit.Logger
	engine  *bulk.Engine
}

// loadApp resolves configuration, the account being acted on and its output
// directory, then opens the snapshot catalog. Stage output goes to out.
func loadApp(ctx context.Context, v *viper.Viper, out io.Writer) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(cfg.LogLevel)

	c, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	api := papi.New(c)

	account, err := accountName(ctx, cfg, c, api)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(cfg.OutputDir, identity.DirName(account), "bulk")
	if err := db.EnsureOutputDir(dir); err != nil {
		return nil, err
	}
	catalog, err := db.OpenCatalog(dir)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		account: account,
		dir:     dir,
		catalog: catalog,
		store:   artifact.NewStore(catalog, dir, account),
	}
	a.audit, err = audit.NewLogger(a.auditPath(), account, operator())
	if err != nil {
		catalog.Close()
		return nil, err
	}

	a.logger = logger.With().Str("account", account).Logger()
	a.logger.Debug().Str("dir", dir).Int("workers", cfg.Workers).Msg("account resolved")

	a.engine = bulk.NewEngine(api, bulk.Options{
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval,
		ConsoleURL:   cfg.ConsoleURL,
		Dir:          dir,
		Out:          out,
		Logger:       a.logger,
		Snapshots:    a.store,
		Audit:        a.audit,
	})
	return a, nil
}

func (a *app) auditPath() string {
	return filepath.Join(a.dir, "json", audit.FileName)
}

func (a *app) Close() error {
	return a.catalog.Close()
}

// operator is the local user recorded in the audit log.
func operator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "local"
}

// accountName names the tenant: the switch key's account when one is set,
// otherwise the account that owns the credentials.
func accountName(ctx context.Context, cfg config.Config, c *client.Client, api *papi.Client) (string, error) {
	if cfg.AccountSwitchKey != "" {
		acct, err := identity.New(c).LookupAccount(ctx, cfg.AccountSwitchKey)
		if err != nil {
			return "", err
		}
		return acct.AccountName, nil
	}
	groups, err := api.ListGroups(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving account: %w", err)
	}
	return groups.AccountName, nil
}
