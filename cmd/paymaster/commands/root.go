// Package commands implements the paymaster command line.
package commands

import (
	"github.com/spf13/cobra"
)

var configFile string

func Execute() error {
	root := &cobra.Command{
		Use:          "paymaster",
		Short:        "Fee-sponsoring Solana transaction relay",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (environment variables take precedence)")

	root.AddCommand(serveCmd(), keygenCmd(), pubkeyCmd())
	return root.Execute()
}
