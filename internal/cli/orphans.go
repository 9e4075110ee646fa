package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/celution/bountyd/internal/storage"
	"github.com/celution/bountyd/internal/validation"
)

func createOrphansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "Issues created without a funded bounty",
		Long: `Manage issues that were opened on GitHub but never funded on-chain.

They are recorded when funding fails after the issue was created. Fund
them again with 'bounty issues create' or close them on GitHub, then mark
them resolved.`,
	}

	cmd.AddCommand(createOrphansListCmd())
	cmd.AddCommand(createOrphansResolveCmd())

	return cmd
}

func createOrphansListCmd() *cobra.Command {
	var all bool
	var creator string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unfunded issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			if creator != "" {
				if err := validation.ValidateAddress(creator); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			store, err := openOrphanStore(ctx, projectConfigOrEmpty(), discardLogger())
			if err != nil {
				return fmt.Errorf("failed to open orphan store: %w", err)
			}
			defer store.Close()

			return listOrphans(ctx, store, storage.OrphanFilter{
				Creator:         strings.ToLower(creator),
				IncludeResolved: all,
			}, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include resolved orphans")
	cmd.Flags().StringVar(&creator, "creator", "", "only orphans created by this address")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func listOrphans(ctx context.Context, store storage.OrphanStore, filter storage.OrphanFilter, jsonOutput bool) error {
	orphans, err := store.ListOrphans(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list orphans: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(orphans)
	}

	if len(orphans) == 0 {
		fmt.Println("No orphaned issues")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tISSUE\tBOUNTY\tFAILURE\tCREATED\tRESOLVED")
	for _, o := range orphans {
		resolved := "-"
		if o.ResolvedAt != nil {
			resolved = o.ResolvedAt.Format(time.DateOnly)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.TrackerURL, orphanBounty(o.Bounty), o.FailureClass, o.CreatedAt.Format(time.DateOnly), resolved)
	}
	w.Flush()

	return nil
}

func orphanBounty(wei string) string {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return wei
	}
	return validation.FormatEther(v)
}

func createOrphansResolveCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark an orphan as handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openOrphanStore(ctx, projectConfigOrEmpty(), discardLogger())
			if err != nil {
				return fmt.Errorf("failed to open orphan store: %w", err)
			}
			defer store.Close()

			if err := store.ResolveOrphan(ctx, args[0], note); err != nil {
				return fmt.Errorf("failed to resolve orphan: %w", err)
			}
			fmt.Printf("✅ Resolved %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "what was done about it")

	return cmd
}
