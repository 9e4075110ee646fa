package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/celution/bountyd/internal/failures"
	"github.com/celution/bountyd/internal/tracker"
)

func createReposCmd() *cobra.Command {
	var limit int
	var jsonOutput bool
	var check string

	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List repositories bounties can be opened in",
		Long: `List the GitHub repositories of the signed-in user, most recently updated first.

EXAMPLES:
  # List repositories
  bounty repos

  # Check that the token can open issues in a repository
  bounty repos --check celution/bounty-board
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := getToken()
			if t == "" {
				return failures.New(failures.PermissionDenied, "repos", "no GitHub token: run 'bounty auth login' or set GITHUB_TOKEN", nil)
			}
			gh, err := newTracker(t, cliLogger())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if check != "" {
				return checkRepo(ctx, gh, check)
			}
			return listRepos(ctx, gh, limit, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 30, "number of repositories to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&check, "check", "", "check write access to owner/name")

	return cmd
}

func listRepos(ctx context.Context, tr tracker.Gateway, limit int, jsonOutput bool) error {
	repos, err := tr.ListRepositories(ctx)
	if err != nil {
		return fmt.Errorf("failed to list repositories: %w", err)
	}

	if limit > 0 && len(repos) > limit {
		repos = repos[:limit]
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(repos)
	}

	if len(repos) == 0 {
		fmt.Println("No repositories found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REPO\tVISIBILITY\tLANGUAGE\tSTARS\tOPEN ISSUES\tUPDATED")
	for _, r := range repos {
		visibility := "public"
		if r.Private {
			visibility = "private"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.Ref, visibility, r.Language, r.Stars, r.OpenIssues, r.UpdatedAt.Format(time.DateOnly))
	}
	w.Flush()

	return nil
}

func checkRepo(ctx context.Context, tr tracker.Gateway, raw string) error {
	ref, err := tracker.ParseRepo(raw)
	if err != nil {
		return err
	}
	if err := tr.CheckWriteAccess(ctx, ref); err != nil {
		return err
	}
	fmt.Printf("✅ Token can open issues in %s\n", ref)
	return nil
}
