// Command atip-ioc runs an ATIP virtual-accelerator IOC.
//
// The ring mode comes from the first argument, the RINGMODE environment
// variable, a running peer's SR-CS-RING-01:MODE PV, or defaults to DIAD,
// in that order.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/atipioc/pkg/config"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "atip-ioc [ring-mode]",
		Short: "Run the ATIP virtual-accelerator IOC",
		Long: `atip-ioc serves the PVs of a simulated storage ring over pvwire.

The ring mode selects the lattice. It is taken from the first argument, the
RINGMODE environment variable, the SR-CS-RING-01:MODE PV of an IOC already
running on the network, or defaults to DIAD. Only the first argument is
used and it is passed on verbatim; any further arguments are ignored. Put
-- before a ring mode that starts with a dash, e.g. atip-ioc -- -X.`,
		Example: `  # Write a default configuration file
  atip-ioc init

  # Start in the mode of a running peer (or DIAD)
  atip-ioc

  # Start in a given mode without the interactive shell
  atip-ioc VMX --interactive=false`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.args = args
			if !cmd.Flags().Changed("interactive") {
				fd := os.Stdin.Fd()
				opts.interactive = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		fmt.Sprintf("Config file (default %s)", config.GetDefaultConfigPath()))
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "",
		"Override logging.level: DEBUG, INFO, WARN, ERROR")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false,
		"Start the interactive shell (default: when stdin is a terminal)")

	cmd.AddCommand(newInitCmd(&opts.configPath))

	return cmd
}

func newInitCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if path == "" {
				p, err := config.InitConfig(force)
				if err != nil {
					return err
				}
				path = p
			} else if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}
