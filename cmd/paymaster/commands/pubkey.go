package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/layer-3/paymaster/service"
)

func pubkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey <secret>",
		Short: "Print the public key of a hex or base58 relay secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := service.ParsePrivateKey(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), key.PublicKey())
			return nil
		},
	}
}
