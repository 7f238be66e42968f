package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"arc-go/internal/app"
	"arc-go/internal/arc"
	"arc-go/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an ArcApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Backup", "Remove").
func newApp(ctx context.Context, operation string) (*app.ArcApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewArcApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// readPassphrase prompts on the terminal without echoing input.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// unlock prompts for the passphrase when block payloads are encrypted.
func unlock(a *app.ArcApp) error {
	if !a.Ciphered() {
		return nil
	}
	pass, err := readPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	if err := a.Unlock(pass); err != nil {
		return fmt.Errorf("unlocking cipher: %w", err)
	}
	return nil
}

// finish prints a report and the run's metrics, returning an error when the
// operation did not succeed.
func finish(cmd *cobra.Command, a *app.ArcApp, r arc.Report) error {
	if err := app.WriteReport(os.Stdout, r); err != nil {
		return err
	}
	if show, _ := cmd.Flags().GetBool("metrics"); show {
		if err := a.WriteMetrics(os.Stdout); err != nil {
			return err
		}
	}
	if !r.OK() {
		return fmt.Errorf("operation finished %s", r.State())
	}
	return nil
}

func generationFlag(cmd *cobra.Command) ([]int, error) {
	s, _ := cmd.Flags().GetString("generation")
	return app.ParseGenerations(s)
}

var rootCmd = &cobra.Command{
	Use:   "arc",
	Short: "Incremental generation archive for virtual machines and disks",
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

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Host ID:    %s\n", cfg.HostID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Store:      %s\n", cfg.Store.Type)
		fmt.Printf("Cipher:     %s\n", cfg.Codec.Cipher)
		fmt.Printf("Compress:   %v\n", cfg.Codec.Compression)
		fmt.Printf("Block Size: %d\n", cfg.BlockSize)
		return nil
	},
}

// key command
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage block encryption keys",
}

var keySetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Generate the cipher key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		again, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pass != again {
			return errors.New("passphrases do not match")
		}
		if err := app.SetupCipher(cfg, pass); err != nil {
			return fmt.Errorf("setting up cipher: %w", err)
		}
		fmt.Println("Keys created.")
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup ENTITY IMAGE...",
	Short: "Take a new generation of an entity from its disk images",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")
		kind, _ := cmd.Flags().GetString("type")

		entity, err := app.Entity(args[0], kind)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Backup(cmd.Context(), entity, args[1:], full)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Printf("Generation %d (%s)\n", res.Profile.GenerationID, res.Profile.BackupMode)
		return finish(cmd, a, res.Report)
	},
}

// group command
var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage group entities",
}

var groupBackupCmd = &cobra.Command{
	Use:   "backup GROUP MEMBER=IMAGE[,IMAGE...]...",
	Short: "Take a new generation of a group and all of its members",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")

		var members []app.GroupMember
		for _, arg := range args[1:] {
			name, images, ok := strings.Cut(arg, "=")
			if !ok || name == "" || images == "" {
				return fmt.Errorf("invalid member %q, want NAME=IMAGE[,IMAGE...]", arg)
			}
			members = append(members, app.GroupMember{Name: name, Images: strings.Split(images, ",")})
		}

		a, err := newApp(cmd.Context(), "BackupGroup")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.BackupGroup(cmd.Context(), args[0], members, full)
		if err != nil {
			return fmt.Errorf("group backup failed: %w", err)
		}
		fmt.Printf("Generation %d (%s)\n", res.Profile.GenerationID, res.Profile.BackupMode)
		return finish(cmd, a, res.Report)
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore ENTITY OUTPUT",
	Short: "Restore one disk of a generation to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		diskID, _ := cmd.Flags().GetInt("disk")
		gens, err := generationFlag(cmd)
		if err != nil {
			return err
		}
		genID := arc.LastGeneration
		switch len(gens) {
		case 0:
		case 1:
			genID = gens[0]
		default:
			return fmt.Errorf("restore takes a single generation: %w", arc.ErrMultipleGenerations)
		}

		a, err := newApp(cmd.Context(), "Restore")
		if err != nil {
			return err
		}
		defer a.Close()
		if err := unlock(a); err != nil {
			return err
		}

		r, err := a.Restore(cmd.Context(), args[0], genID, diskID, args[1])
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		return finish(cmd, a, r)
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check ENTITY",
	Short: "Verify generations and every generation they depend on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gens, err := generationFlag(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Check")
		if err != nil {
			return err
		}
		defer a.Close()
		if err := unlock(a); err != nil {
			return err
		}

		r, err := a.Check(cmd.Context(), args[0], gens)
		if err != nil {
			return fmt.Errorf("check failed: %w", err)
		}
		return finish(cmd, a, r)
	},
}

// remove command
var removeCmd = &cobra.Command{
	Use:   "remove ENTITY",
	Short: "Remove generations and every generation depending on them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		archive, _ := cmd.Flags().GetBool("archive")
		gens, err := generationFlag(cmd)
		if err != nil {
			return err
		}
		if !archive && len(gens) == 0 {
			return errors.New("--generation or --archive is required")
		}

		a, err := newApp(cmd.Context(), "Remove")
		if err != nil {
			return err
		}
		defer a.Close()

		var r arc.Report
		if archive {
			r, err = a.RemoveArchive(cmd.Context(), args[0], dryRun)
		} else {
			r, err = a.Remove(cmd.Context(), args[0], gens, dryRun)
		}
		if err != nil {
			return fmt.Errorf("remove failed: %w", err)
		}
		return finish(cmd, a, r)
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetDuration("age")

		a, err := newApp(cmd.Context(), "List")
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No archives.")
			return nil
		}

		for _, info := range infos {
			last := "never"
			if g, ok := info.LatestSucceeded(); ok {
				last = g.Timestamp.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-20s  %-5s  %3d generation(s)  last succeeded: %s\n",
				info.Entity.Name, info.Entity.Type, len(info.Generations), last)
		}
		return nil
	},
}

// generations command
var generationsCmd = &cobra.Command{
	Use:   "generations ENTITY",
	Short: "List the generations of an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Generations")
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.Generations(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(info.Generations) == 0 {
			fmt.Println("No generations.")
			return nil
		}

		for _, g := range info.Generations {
			status := "FAILED"
			if g.Succeeded {
				status = "OK"
			}
			parent := "-"
			if g.IsDependent() {
				parent = fmt.Sprintf("%d", g.PreviousGenerationID)
			}
			fmt.Printf("%4d  %s  %-11s  parent:%-4s  disks:%d  %s\n",
				g.ID,
				g.Timestamp.Local().Format("2006-01-02 15:04:05"),
				g.BackupMode,
				parent,
				g.NumberOfDisks,
				status,
			)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View archive operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				d := op.FinishedAt.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-12s  %-20s  %s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.Entity,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// key subcommands
	keyCmd.AddCommand(keySetupCmd)

	// group subcommands
	groupCmd.AddCommand(groupBackupCmd)
	groupBackupCmd.Flags().Bool("full", false, "Force a full backup of every member")

	// root commands
	rootCmd.PersistentFlags().Bool("metrics", false, "Print block counters after the operation")
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().Bool("full", false, "Force a full backup")
	backupCmd.Flags().StringP("type", "t", "vm", "Entity type: vm or disk")
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringP("generation", "g", "last", "Generation id, or last or succeeded")
	restoreCmd.Flags().IntP("disk", "d", 0, "Disk to restore")
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringP("generation", "g", "", "Generation ids, or all, succeeded, failed, last (default: latest succeeded)")
	rootCmd.AddCommand(removeCmd)
	removeCmd.Flags().StringP("generation", "g", "", "Generation ids, or all, succeeded, failed, last")
	removeCmd.Flags().Bool("archive", false, "Remove the entity's whole archive")
	removeCmd.Flags().BoolP("dry-run", "n", false, "Report what would be removed without removing it")
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Duration("age", 0, "Keep entities backed up within this long (positive) or not since (negative)")
	rootCmd.AddCommand(generationsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
