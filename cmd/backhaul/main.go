package main

import (
	"fmt"
	"os"

	"backhaul/internal/app"
	"backhaul/internal/config"
	"backhaul/internal/core"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close(). operation identifies the CLI command being run (e.g. "fs",
// "sync").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	a, err := app.New(cmd.Context(), cfg, operation, quiet)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "backhaul",
	Short: "Versioned backups with off-site sync",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Remote:   %s\n", cfg.Remote.Type)
		fmt.Printf("Catalog:  %s\n", cfg.Catalog.Path)
		return nil
	},
}

// fs-init command
var fsInitCmd = &cobra.Command{
	Use:   "fs-init SRC DST NAME",
	Short: "Register a filesystem backup target",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		backupType, _ := cmd.Flags().GetString("type")
		var kind string
		switch backupType {
		case "rdiff":
			kind = string(core.KindIncrementalDelta)
		case "tar":
			kind = string(core.KindArchive)
		default:
			return fmt.Errorf("unknown backup type %q (want rdiff or tar)", backupType)
		}

		a, err := newApp(cmd, "fs-init")
		if err != nil {
			return err
		}
		defer a.Close()

		target, err := a.InitFS(args[2], kind, args[0], args[1])
		if err != nil {
			return err
		}

		fmt.Printf("Registered target %s (%s): %s -> %s\n",
			target.Name, target.Kind, target.SourcePath, target.DestinationPath)
		return nil
	},
}

// fs command
var fsCmd = &cobra.Command{
	Use:   "fs SRC",
	Short: "Back up a registered filesystem target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := ownerFlag(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "fs")
		if err != nil {
			return err
		}
		defer a.Close()

		result, report, err := a.RunFS(cmd.Context(), args[0], owner)
		if err != nil {
			return err
		}

		printRunResult(result)
		return printSyncReports([]*core.SyncReport{report})
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db [DBNAME] DST",
	Short: "Back up a PostgreSQL database",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		global, _ := cmd.Flags().GetBool("global")

		var database, dst string
		switch {
		case global && len(args) == 1:
			dst = args[0]
		case !global && len(args) == 2:
			database, dst = args[0], args[1]
		case global:
			return fmt.Errorf("--global takes only a destination argument")
		default:
			return fmt.Errorf("usage: backhaul db DBNAME DST")
		}

		owner, err := ownerFlag(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "db")
		if err != nil {
			return err
		}
		defer a.Close()

		result, report, err := a.RunDB(cmd.Context(), database, global, dst, owner)
		if err != nil {
			return err
		}

		printRunResult(result)
		return printSyncReports([]*core.SyncReport{report})
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list [TARGET]",
	Short: "List backup versions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "list")
		if err != nil {
			return err
		}
		defer a.Close()

		name := ""
		if len(args) > 0 {
			name = args[0]
		}

		chains, err := a.ListBackups(name)
		if err != nil {
			return err
		}

		for _, c := range chains {
			fmt.Printf("%s (%s)\n", c.Target.Name, c.Target.Kind)
			if len(c.Versions) == 0 {
				fmt.Println("  no versions")
				continue
			}
			for _, v := range c.Versions {
				fmt.Printf("  v%-4d %-11s %s  %s\n",
					v.Sequence, v.Method, v.CreatedAt.Format("2006-01-02 15:04:05"), v.Fingerprint[:12])
			}
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync [TARGET]",
	Short: "Push pending files to the remote store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "sync")
		if err != nil {
			return err
		}
		defer a.Close()

		name := ""
		if len(args) > 0 {
			name = args[0]
		}

		reports, err := a.Sync(cmd.Context(), name)
		if err != nil {
			return err
		}
		return printSyncReports(reports)
	},
}

// sync-state command
var syncStateCmd = &cobra.Command{
	Use:   "sync-state [TARGET]",
	Short: "Inspect or reset the sync ledger",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("list")
		reset, _ := cmd.Flags().GetString("reset")

		if reset != "" {
			a, err := newApp(cmd, "sync-state-reset")
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ResetLedger(reset); err != nil {
				return err
			}
			fmt.Printf("Ledger reset for target %s\n", reset)
			return nil
		}

		a, err := newApp(cmd, "sync-state")
		if err != nil {
			return err
		}
		defer a.Close()

		name := ""
		if len(args) > 0 {
			name = args[0]
		}

		states, err := a.SyncState(name, !all)
		if err != nil {
			return err
		}

		for _, s := range states {
			fmt.Printf("%s\n", s.Target.Name)
			if len(s.Entries) == 0 {
				fmt.Println("  nothing pending")
				continue
			}
			for _, e := range s.Entries {
				fmt.Printf("  %-8s %s  %s\n", e.Status, e.Path, e.Fingerprint[:12])
			}
		}
		return nil
	},
}

// ownerFlag resolves the -u/--uid value into an ownership assignment, or
// nil when the flag is unset.
func ownerFlag(cmd *cobra.Command) (*core.Owner, error) {
	spec, _ := cmd.Flags().GetString("uid")
	return core.ParseOwner(spec)
}

func printRunResult(result *core.RunResult) {
	if result.Skipped {
		fmt.Println("No change since the latest version; nothing created.")
		return
	}
	fmt.Printf("Created %s backup v%d (%d files to sync)\n",
		result.Version.Method, result.Version.Sequence, result.FilesPending)
}

// printSyncReports summarizes transfers and returns an error when any
// failed, so the process exits nonzero while the succeeded entries stay
// confirmed.
func printSyncReports(reports []*core.SyncReport) error {
	failed := 0
	for _, r := range reports {
		fmt.Printf("%s: %d synced", r.Target, r.Synced)
		if r.Stale > 0 {
			fmt.Printf(", %d stale", r.Stale)
		}
		if len(r.Failures) > 0 {
			fmt.Printf(", %d failed", len(r.Failures))
		}
		fmt.Println()
		failed += len(r.Failures)
	}
	if failed > 0 {
		return fmt.Errorf("%d transfer(s) failed; entries remain pending", failed)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Log only to the log file, not stderr")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	fsInitCmd.Flags().String("type", "rdiff", "Backup type: rdiff (incremental chains) or tar (full archives)")
	fsCmd.Flags().StringP("uid", "u", "", "Owner for created backup files, as UID[:GID]")
	dbCmd.Flags().BoolP("global", "g", false, "Dump cluster-wide globals instead of a database")
	dbCmd.Flags().StringP("uid", "u", "", "Owner for created backup files, as UID[:GID]")
	syncStateCmd.Flags().Bool("list", false, "Show all ledger entries, not only pending")
	syncStateCmd.Flags().String("reset", "", "Clear the ledger of the named target (refused while entries are pending)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(fsInitCmd)
	rootCmd.AddCommand(fsCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(syncStateCmd)
}
