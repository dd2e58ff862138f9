package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen/internal/config"
	"github.com/livetemplate/tinkerpen/internal/workspace"
	"github.com/livetemplate/tinkerpen/pkg/playground"
)

// openWorkspace starts a workspace over the project's storage. The caller
// must Close it, which also flushes pending writes.
func (o *options) openWorkspace(cmd *cobra.Command, args []string, tweak func(*config.Config)) (*workspace.Workspace, *zap.Logger, error) {
	dir, err := projectDir(args)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := o.loadConfig(cmd, dir)
	if err != nil {
		return nil, nil, err
	}
	if tweak != nil {
		tweak(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	storage, err := playground.OpenStorage(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	ws := playground.NewWorkspace(cfg, storage, nil, logger)
	if err := ws.Start(ctx); err != nil {
		_ = ws.Close()
		return nil, nil, err
	}
	return ws, logger, nil
}

func newRunCommand(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run [directory]",
		Short: "Execute the stored documents headlessly and print the console",
		Long: `Composes the stored documents, executes their scripts in a server-side
sandbox and prints every console.log line in order.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, logger, err := opts.openWorkspace(cmd, args, func(cfg *config.Config) {
				cfg.Sandbox.Mode = config.SandboxHeadless
				if timeout > 0 {
					cfg.Sandbox.Timeout = timeout.String()
				}
			})
			if err != nil {
				return err
			}
			defer func() {
				_ = ws.Close()
				_ = logger.Sync()
			}()

			inst := ws.Preview()
			if inst == nil {
				return fmt.Errorf("no preview was rendered")
			}
			<-inst.Done()

			out := cmd.OutOrStdout()
			for _, record := range ws.Console() {
				fmt.Fprintln(out, record.Text)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "execution budget (default: sandbox.timeout)")
	return cmd
}

func newComposeCommand(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "compose [directory]",
		Short: "Print the composed preview document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := opts.openWorkspace(cmd, args, nil)
			if err != nil {
				return err
			}
			defer ws.Close()

			doc := ws.Export()
			if output == "" || output == "-" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), doc)
				return err
			}
			if err := os.WriteFile(output, []byte(doc), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func newDocsCommand(opts *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "docs [directory]",
		Short: "List the stored documents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "table" && format != "json" {
				return fmt.Errorf("unknown format %q (want table or json)", format)
			}
			ws, _, err := opts.openWorkspace(cmd, args, nil)
			if err != nil {
				return err
			}
			defer ws.Close()

			docs := ws.Documents()
			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(docs)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tLANGUAGE\tBYTES")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", d.ID, d.Name, d.Language, len(d.Content))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table or json")
	return cmd
}

func newResetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [directory]",
		Short: "Replace the stored documents with the starter set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := opts.openWorkspace(cmd, args, nil)
			if err != nil {
				return err
			}
			if err := ws.Reset(); err != nil {
				_ = ws.Close()
				return err
			}
			if err := ws.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Documents reset to the starter set")
			return nil
		},
	}
}

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a tinkerpen.yaml with the default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir(args)
			if err != nil {
				return err
			}
			path := filepath.Join(dir, config.FileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			cfg.Title = "tinkerpen"
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}
