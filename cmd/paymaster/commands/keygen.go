package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a relay identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := solana.NewRandomPrivateKey()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Public key:  %s\n", key.PublicKey())
			fmt.Fprintf(out, "Secret hex:  %s\n", hex.EncodeToString(key))
			fmt.Fprintf(out, "Secret b58:  %s\n", key.String())
			return nil
		},
	}
}
