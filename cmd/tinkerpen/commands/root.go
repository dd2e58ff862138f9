// Package commands implements the tinkerpen CLI.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen/internal/config"
	"github.com/livetemplate/tinkerpen/internal/logging"
)

// options holds the flags shared by every command that opens a workspace.
type options struct {
	configPath string
	backend    string
	dataDir    string
	dsn        string
	headless   bool
	debug      bool
}

// NewRootCommand builds the tinkerpen command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "tinkerpen",
		Short: "tinkerpen - a live HTML, CSS and JavaScript playground",
		Long: `tinkerpen edits an HTML, a CSS and a JavaScript document side by side
and renders them together in a sandboxed live preview with a console.

Documents are stored in the project directory (editorFiles.json by default)
and settings are read from tinkerpen.yaml and TINKERPEN_* variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file (default: <dir>/tinkerpen.yaml)")
	pf.StringVar(&opts.backend, "storage", "", "storage backend: memory, file, dir, sqlite, postgres")
	pf.StringVar(&opts.dataDir, "data", "", "storage directory (default: the project directory)")
	pf.StringVar(&opts.dsn, "dsn", "", "database DSN for the sqlite and postgres backends")
	pf.BoolVar(&opts.headless, "headless", false, "execute previews server-side")
	pf.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCommand(opts),
		newRunCommand(opts),
		newComposeCommand(opts),
		newDocsCommand(opts),
		newResetCommand(opts),
		newInitCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "tinkerpen version %s\n", version)
			},
		},
	)
	return root
}

// projectDir resolves the optional directory argument.
func projectDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("directory does not exist: %s", dir)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", dir)
	}
	return filepath.Abs(dir)
}

// loadConfig layers defaults, the config file, the environment and finally
// flags that were set explicitly.
func (o *options) loadConfig(cmd *cobra.Command, dir string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath)
		if err == nil && (cfg.Storage.Dir == "" || cfg.Storage.Dir == ".") {
			cfg.Storage.Dir = dir
		}
	} else {
		cfg, err = config.LoadFromDir(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("storage") {
		cfg.Storage.Backend = o.backend
	}
	if flags.Changed("data") {
		cfg.Storage.Dir = o.dataDir
	}
	if flags.Changed("dsn") {
		cfg.Storage.DSN = o.dsn
	}
	if flags.Changed("headless") {
		cfg.Sandbox.Mode = config.SandboxBrowser
		if o.headless {
			cfg.Sandbox.Mode = config.SandboxHeadless
		}
	}
	if flags.Changed("debug") {
		cfg.Server.Debug = o.debug
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.GetLogLevel(),
		Development: cfg.Server.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
