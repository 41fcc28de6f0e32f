// Command buildercore is the CLI facade over the builder core library:
// one subcommand per external verb in spec.md §6, following the
// teacher's own cobra-structured entry point
// (_examples/tuxillo-go-synth/cmd/dsynth/main.go) rather than its
// flag-subcommand dispatch in cmd/distri/distri.go.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/habitat-sh/builder-sub000/config"
)

var (
	configPath string
	cfg        *config.Config
	logger     *log.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "buildercore",
		Short:         "package dependency graph, manifest compiler and build scheduler",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			logger = log.New(os.Stderr, "buildercore: ", log.LstdFlags)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a buildercore.ini config file")

	root.AddCommand(newUploadCmd())
	root.AddCommand(newRebuildCmd())
	root.AddCommand(newCancelCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newServeCmd())
	return root
}
