package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/edgeops/edgectl/internal/artifact"
	"github.com/edgeops/edgectl/internal/audit"
	"github.com/edgeops/edgectl/internal/bulk"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RegisterBulkCommands adds the bulk workflow commands.
func RegisterBulkCommands(root *cobra.Command, v *viper.Viper) {
	bulkCmd := &cobra.Command{
		Use:   "bulk",
		Short: "Bulk search, version, patch and activate properties",
	}

	bulkCmd.AddCommand(newBulkSearchCmd(v))
	bulkCmd.AddCommand(newBulkCreateCmd(v))
	bulkCmd.AddCommand(newBulkUpdateCmd(v))
	bulkCmd.AddCommand(newBulkActivateCmd(v))
	bulkCmd.AddCommand(newBulkAddCmd(v))
	bulkCmd.AddCommand(newBulkJobsCmd(v))
	bulkCmd.AddCommand(newBulkAuditCmd(v))

	root.AddCommand(bulkCmd)
}

// runStage opens the app for the duration of one stage.
func runStage(cmd *cobra.Command, v *viper.Viper, fn func(a *app) error) error {
	a, err := loadApp(cmd.Context(), v, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func addFilterFlags(cmd *cobra.Command, f *bulk.Filter) {
	cmd.Flags().StringVar(&f.Version, "version", "", "Keep one version per property: production, staging or latest")
	cmd.Flags().StringVar(&f.NameContains, "name-contains", "", "Keep properties whose name contains this text")
	cmd.Flags().StringVar(&f.Env, "env", "", "Keep properties of one environment (dev, qa, uat, test, staging, prod)")
	cmd.Flags().StringSliceVar(&f.Properties, "property", nil, "Keep only these property names (repeatable)")
	cmd.Flags().StringVar(&f.Include, "include", "", "File of property names to keep, one per line")
	cmd.Flags().StringVar(&f.Exclude, "exclude", "", "File of property names to drop, one per line")
	cmd.Flags().StringVar(&f.Product, "product", "", "Keep properties of one product id")
}

func newBulkSearchCmd(v *viper.Viper) *cobra.Command {
	var opts bulk.SearchOptions

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Submit or review a bulk rule search",
		Example: `  edgectl bulk search --jsonpath query.json --group 244000 --version latest
  edgectl bulk search --id 51234`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, v, func(a *app) error {
				_, err := a.engine.Search(cmd.Context(), opts)
				return err
			})
		},
	}

	cmd.Flags().Int64Var(&opts.ID, "id", 0, "Review an existing bulk search")
	cmd.Flags().StringVar(&opts.JSONPath, "jsonpath", "", "File holding the bulk search request body")
	cmd.Flags().StringVar(&opts.Contract, "contract", "", "Restrict the search to one contract")
	cmd.Flags().StringSliceVar(&opts.Groups, "group", nil, "Restrict the search to groups, one job per group (repeatable)")
	cmd.Flags().StringVar(&opts.Output, "output", "", "Workbook path (default derived from the job id)")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Extra tag in the workbook file name")
	addFilterFlags(cmd, &opts.Filter)
	cmd.MarkFlagsMutuallyExclusive("id", "jsonpath")
	cmd.MarkFlagsMutuallyExclusive("contract", "group")

	return cmd
}

func newBulkCreateCmd(v *viper.Viper) *cobra.Command {
	var opts bulk.CreateOptions

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create successor versions in bulk",
		Example: `  edgectl bulk create --input-excel output/acme/bulk/bulk_search_51234.xlsx
  edgectl bulk create --bulksearchid 51234 --version production
  edgectl bulk create --id 8812`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, v, func(a *app) error {
				_, err := a.engine.Create(cmd.Context(), opts)
				return err
			})
		},
	}

	cmd.Flags().Int64Var(&opts.ID, "id", 0, "Review an existing bulk create")
	cmd.Flags().StringVar(&opts.InputExcel, "input-excel", "", "Search workbook to version")
	cmd.Flags().Int64Var(&opts.BulkSearchID, "bulksearchid", 0, "Bulk search whose results to version")
	cmd.Flags().StringVar(&opts.Version, "version", "", "Base version selector with --bulksearchid: production, staging or latest")
	cmd.Flags().BoolVar(&opts.StripStrictMode, "strip-strict-mode", false, "Drop /options/strictMode from match locations")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Extra tag in the workbook file name")
	cmd.MarkFlagsMutuallyExclusive("id", "input-excel", "bulksearchid")

	return cmd
}

func newBulkUpdateCmd(v *viper.Viper) *cobra.Command {
	var opts bulk.UpdateOptions

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Patch rule trees in bulk, or review a patch job",
		Example: `  edgectl bulk update --input-excel output/acme/bulk/bulk_create_8812.xlsx --jsonpath patch.json --note "enable http2"
  edgectl bulk update --id 7731 --note "enable http2"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, v, func(a *app) error {
				_, err := a.engine.Update(cmd.Context(), opts)
				return err
			})
		},
	}

	cmd.Flags().Int64Var(&opts.ID, "id", 0, "Review an existing bulk patch")
	cmd.Flags().StringVar(&opts.InputExcel, "input-excel", "", "Create or search workbook to patch")
	cmd.Flags().StringVar(&opts.JSONPath, "jsonpath", "", "File holding a JSON array of patch operations")
	cmd.Flags().StringVar(&opts.Note, "note", "", "Version note")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Extra tag in the workbook file name")
	cmd.MarkFlagsMutuallyExclusive("id", "input-excel")

	return cmd
}

func newBulkActivateCmd(v *viper.Viper) *cobra.Command {
	var opts bulk.ActivateOptions

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate versions in bulk, or review activations",
		Example: `  edgectl bulk activate --input-excel output/acme/bulk/bulk_create_8812.xlsx --network staging --note "http2" --email ops@example.com
  edgectl bulk activate --id 4410 --id 4411`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, v, func(a *app) error {
				_, err := a.engine.Activate(cmd.Context(), opts)
				return err
			})
		},
	}

	cmd.Flags().Int64SliceVar(&opts.IDs, "id", nil, "Review bulk activations (repeatable)")
	cmd.Flags().StringVar(&opts.InputExcel, "input-excel", "", "Create, add or search workbook to activate")
	cmd.Flags().StringVar(&opts.Network, "network", "", "Target network: staging or production")
	cmd.Flags().StringVar(&opts.Note, "note", "", "Activation note")
	cmd.Flags().StringSliceVar(&opts.Emails, "email", nil, "Notification address (repeatable)")
	cmd.Flags().StringSliceVar(&opts.ReviewEmails, "review-email", nil, "Peer reviewer for production activations (repeatable)")
	cmd.Flags().BoolVar(&opts.Normal, "normal", false, "Activate property by property instead of one bulk job")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Extra tag in the workbook file name")
	cmd.MarkFlagsMutuallyExclusive("id", "input-excel")

	return cmd
}

func newBulkAddCmd(v *viper.Viper) *cobra.Command {
	var opts bulk.AddOptions

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or switch a behavior on the default rule",
		Example: `  edgectl bulk add --input-json allow_post.json --note "allow POST" --bulk-id 51234 \
      --base latest --current false --new true`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, v, func(a *app) error {
				_, err := a.engine.AddBehavior(cmd.Context(), opts)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&opts.InputJSON, "input-json", "", "File holding the behavior object")
	cmd.Flags().StringVar(&opts.Note, "note", "", "Version note")
	cmd.Flags().Int64Var(&opts.BulkID, "bulk-id", 0, "Bulk search whose results to change")
	cmd.Flags().StringVar(&opts.InputExcel, "input-excel", "", "Search workbook whose rows to change")
	cmd.Flags().StringVar(&opts.Base, "base", "", "Base version: production, staging or latest")
	cmd.Flags().StringVar(&opts.Current, "current", "", "Expected current enable value: true or false")
	cmd.Flags().StringVar(&opts.New, "new", "", "Enable value to set: true or false")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Extra tag in the workbook file name")
	cmd.Flags().StringVar(&opts.Output, "output", "", "Workbook path (default derived from the job id)")
	cmd.MarkFlagsMutuallyExclusive("bulk-id", "input-excel")

	return cmd
}

func newBulkJobsCmd(v *viper.Viper) *cobra.Command {
	var (
		stage  string
		show   string
		jobID  int64
		verify bool
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List saved job snapshots for the account",
		Example: `  edgectl bulk jobs --stage create
  edgectl bulk jobs --show 3f2a91c0
  edgectl bulk jobs --stage activation --job 51234`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID != 0 && stage == "" {
				return fmt.Errorf("--job requires --stage")
			}
			return runStage(cmd, v, func(a *app) error {
				out := cmd.OutOrStdout()
				if show != "" || jobID != 0 {
					var rec *artifact.Record
					var err error
					if show != "" {
						rec, err = a.store.Get(show)
					} else {
						rec, err = a.store.Latest(stage, jobID)
					}
					if err != nil {
						return err
					}
					data, err := a.store.ReadContent(rec)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(out, "%s\n", data)
					return err
				}
				if verify {
					valid, invalid, err := a.store.VerifyIntegrity()
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%d snapshots intact\n", valid)
					for _, msg := range invalid {
						fmt.Fprintf(out, "  %s\n", msg)
					}
					if len(invalid) > 0 {
						return fmt.Errorf("%d snapshots failed verification", len(invalid))
					}
					return nil
				}

				recs, err := a.store.List(stage)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintln(out, "No snapshots found.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "UUID\tSTAGE\tJOB\tLABEL\tSIZE\tCREATED")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
						r.UUID[:8], r.Stage, r.JobID, r.Label, r.ByteSize, r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Only list one stage (search, create, update, activation)")
	cmd.Flags().StringVar(&show, "show", "", "Print the snapshot with this UUID (or UUID prefix)")
	cmd.Flags().Int64Var(&jobID, "job", 0, "Print the latest snapshot of this job id (needs --stage)")
	cmd.Flags().BoolVar(&verify, "verify", false, "Check every snapshot file against its recorded hash")
	cmd.MarkFlagsMutuallyExclusive("show", "job", "verify")

	return cmd
}

func newBulkAuditCmd(v *viper.Viper) *cobra.Command {
	var (
		limit  int
		verify bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the changes submitted for the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, v, func(a *app) error {
				out := cmd.OutOrStdout()
				if verify {
					count, err := audit.Verify(a.auditPath())
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%d audit records intact\n", count)
					return nil
				}

				entries, err := audit.List(a.auditPath(), limit)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(out, "No changes recorded.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SEQ\tTIME\tOPERATOR\tEVENT\tDETAIL")
				for _, e := range entries {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Timestamp, e.Operator, e.Event, e.Detail)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to show, newest first (0 for all)")
	cmd.Flags().BoolVar(&verify, "verify", false, "Check the hash chain of the audit log")

	return cmd
}
