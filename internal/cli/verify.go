package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/celution/bountyd/internal/validation"
	"github.com/celution/bountyd/pkg/client"
)

func createVerifyCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the wallet's identity",
		Long: `Prove the wallet owner's identity and store the proof on-chain.

Without flags this connects the configured wallet and, if it is not yet
verified, prints a link to open in the identity app. Pressing Ctrl-C
before verification completes disconnects the wallet.

With --address it only reports whether an address is verified, using the
bountyd server.

EXAMPLES:
  # Verify the configured wallet
  bounty verify

  # Check any address
  bounty verify --address 0x...
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if address != "" {
				if err := validation.ValidateAddress(address); err != nil {
					return err
				}
				v, err := client.New(getServer()).IsVerified(ctx, address)
				if err != nil {
					return fmt.Errorf("failed to read verification status: %w", err)
				}
				if v.Verified {
					fmt.Printf("✅ %s is verified\n", v.Address)
				} else {
					fmt.Printf("❌ %s is not verified\n", v.Address)
				}
				return nil
			}

			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Printf("Wallet: %s\n", s.wallet.Address().Hex())
			return s.ensureVerified(ctx)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "only report the status of this address")

	return cmd
}
