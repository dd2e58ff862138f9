package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/livetemplate/tinkerpen/internal/config"
	"github.com/livetemplate/tinkerpen/internal/sandbox"
	"github.com/livetemplate/tinkerpen/pkg/playground"
)

func newServeCommand(opts *options) *cobra.Command {
	var (
		host  string
		port  int
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve [directory]",
		Short: "Start the playground server",
		Example: `  tinkerpen serve                      # Serve the current directory
  tinkerpen serve ./demo --port 3000   # Serve ./demo on port 3000
  tinkerpen serve --storage dir --watch # Edit files on disk as well`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir(args)
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig(cmd, dir)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("watch") {
				cfg.Storage.Watch = watch
				if watch && !cmd.Flags().Changed("storage") && cfg.Storage.Backend == config.BackendFile {
					cfg.Storage.Backend = config.BackendDir
				}
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✏️  tinkerpen\n\n")
			fmt.Fprintf(out, "Serving: %s\n", dir)
			fmt.Fprintf(out, "Storage: %s\n", cfg.Storage.Backend)
			if cfg.IsHeadless() {
				fmt.Fprintf(out, "Sandbox: headless (scripts run on the server)\n")
			} else {
				fmt.Fprintf(out, "Sandbox: browser iframe (sandbox=%q)\n", sandbox.IframeSandbox)
			}
			if cfg.Storage.Watch {
				fmt.Fprintf(out, "👀 Watching %s for external edits\n", cfg.Storage.Dir)
			}

			return playground.Serve(cmd.Context(), playground.Options{
				Config: cfg,
				Logger: logger,
				OnReady: func(addr string) {
					fmt.Fprintf(out, "\n🌐 Server running at http://%s\n", addr)
					fmt.Fprintf(out, "Press Ctrl+C to stop\n\n")
				},
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&host, "host", "localhost", "address to bind")
	f.IntVarP(&port, "port", "p", 8080, "port to listen on")
	f.BoolVarP(&watch, "watch", "w", false, "apply edits made to the document files on disk")
	return cmd
}
