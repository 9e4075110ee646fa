package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/celution/bountyd/internal/validation"
	"github.com/celution/bountyd/pkg/client"
)

func createVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and server versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("bounty %s\n", version)

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			info, err := client.New(getServer()).Version(ctx)
			if err != nil {
				fmt.Printf("bountyd %s: unreachable (%v)\n", getServer(), err)
				return nil
			}
			fmt.Printf("bountyd %s at %s\n", info.Version, getServer())
			if info.Contract != "" {
				fmt.Printf("  contract %s on chain %d\n", info.Contract, info.ChainID)
			}
			if !validation.Compatible(version, info.MinClientVersion) {
				fmt.Printf("⚠️  server requires bounty %s or newer\n", info.MinClientVersion)
			}
			return nil
		},
	}
}
