package cli

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/celution/bountyd/internal/bounties/domain"
	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/failures"
	"github.com/celution/bountyd/internal/tracker"
	"github.com/celution/bountyd/internal/validation"
	"github.com/celution/bountyd/pkg/client"
)

func createIssuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "List, create and claim bounty issues",
	}

	cmd.AddCommand(createIssuesListCmd())
	cmd.AddCommand(createIssuesCreateCmd())
	cmd.AddCommand(createIssuesClaimCmd())

	return cmd
}

func createIssuesListCmd() *cobra.Command {
	var search, status, difficulty string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List funded issues",
		Long: `List the issues funded on the bounty contract.

Status filters match raw contract state: "assigned" includes expired
claims and "open" includes issues under review.

EXAMPLES:
  # List everything
  bounty issues list

  # Open easy issues mentioning "parser"
  bounty issues list --status open --difficulty easy --search parser
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := domain.ParseStatusFilter(status); err != nil {
				return err
			}
			if _, err := domain.ParseDifficultyFilter(difficulty); err != nil {
				return err
			}

			c := client.New(getServer())
			resp, err := c.ListIssues(cmd.Context(), client.IssueFilter{
				Search:     search,
				Status:     status,
				Difficulty: difficulty,
			})
			if err != nil {
				return fmt.Errorf("failed to list issues: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printIssues(resp.Data)
			return nil
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "match description or URL")
	cmd.Flags().StringVar(&status, "status", "all", "all, open, assigned, completed or under-review")
	cmd.Flags().StringVar(&difficulty, "difficulty", "all", "all, easy, medium or hard")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func printIssues(issues []client.Issue) {
	if len(issues) == 0 {
		fmt.Println("No issues found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tDIFFICULTY\tBOUNTY\tREPO\tAGE\tDESCRIPTION")
	for _, i := range issues {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i.ID, i.Status, i.Difficulty, i.BountyEther, i.Repo, i.Age, truncate(i.Description, 48))
	}
	w.Flush()
	fmt.Printf("\n%d issue(s)\n", len(issues))
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// createFlags are the raw inputs of issues create
type createFlags struct {
	repo          string
	title         string
	body          string
	difficulty    string
	bounty        string
	minCompletion int
	easyDays      int
	mediumDays    int
	hardDays      int
	labels        []string
}

func createIssuesCreateCmd() *cobra.Command {
	var f createFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a GitHub issue and fund it",
		Long: `Open a GitHub issue and fund its bounty on-chain.

The wallet must be verified; unverified wallets are walked through
identity verification first. If the issue is created but funding fails,
the issue is kept and recorded as an orphan (see 'bounty orphans list').

EXAMPLES:
  bounty issues create --repo acme/api --title "Fix flaky test" --bounty 0.5

  bounty issues create --title "Port parser" --difficulty hard --bounty 2 \
    --body "See discussion in #12" --label help-wanted
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := projectConfigOrEmpty()
			applyCreateDefaults(cmd, &f, cfg)

			ctx := cmd.Context()
			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close()

			req, err := buildCreateRequest(f, s.wallet.Address())
			if err != nil {
				return err
			}

			if err := s.ensureVerified(ctx); err != nil {
				return err
			}

			fmt.Printf("Creating issue in %s and funding %s...\n", req.Repo, validation.FormatEther(req.Bounty))
			res, err := s.bounties.CreateAndFund(ctx, req)
			return reportCreate(res, err)
		},
	}

	cmd.Flags().StringVar(&f.repo, "repo", "", "repository as owner/name (default from config)")
	cmd.Flags().StringVar(&f.title, "title", "", "issue title")
	cmd.Flags().StringVar(&f.body, "body", "", "issue description")
	cmd.Flags().StringVar(&f.difficulty, "difficulty", "easy", "easy, medium or hard")
	cmd.Flags().StringVar(&f.bounty, "bounty", "", "bounty in ether, e.g. 0.5")
	cmd.Flags().IntVar(&f.minCompletion, "min-completion", domain.DefaultMinCompletionPct, "completion percent needed to get the stake back")
	cmd.Flags().IntVar(&f.easyDays, "easy-days", 7, "days to finish an easy issue")
	cmd.Flags().IntVar(&f.mediumDays, "medium-days", 30, "days to finish a medium issue")
	cmd.Flags().IntVar(&f.hardDays, "hard-days", 150, "days to finish a hard issue")
	cmd.Flags().StringSliceVar(&f.labels, "label", nil, "extra labels")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

// applyCreateDefaults fills unset flags from the [defaults] section
func applyCreateDefaults(cmd *cobra.Command, f *createFlags, cfg *ProjectConfig) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	d := cfg.Defaults

	if !changed("repo") && f.repo == "" {
		f.repo = cfg.Repo
	}
	if !changed("difficulty") && d.Difficulty != "" {
		f.difficulty = d.Difficulty
	}
	if !changed("bounty") && f.bounty == "" {
		f.bounty = d.Bounty
	}
	if !changed("min-completion") && d.MinCompletion != nil {
		f.minCompletion = *d.MinCompletion
	}
	if !changed("easy-days") && d.EasyDays > 0 {
		f.easyDays = d.EasyDays
	}
	if !changed("medium-days") && d.MediumDays > 0 {
		f.mediumDays = d.MediumDays
	}
	if !changed("hard-days") && d.HardDays > 0 {
		f.hardDays = d.HardDays
	}
}

func buildCreateRequest(f createFlags, creator common.Address) (domain.CreateRequest, error) {
	var req domain.CreateRequest

	if f.repo == "" {
		return req, fmt.Errorf("no repository: pass --repo or set repo in %s", projectConfigFile)
	}
	if err := validation.ValidateRepo(f.repo); err != nil {
		return req, err
	}
	repo, err := tracker.ParseRepo(f.repo)
	if err != nil {
		return req, err
	}

	level, err := chains.ParseDifficulty(f.difficulty)
	if err != nil {
		return req, err
	}

	if f.bounty == "" {
		return req, failures.New(failures.InvalidAmount, "issues.create", "pass --bounty or set defaults.bounty", nil)
	}
	bounty, err := validation.ParseEther(f.bounty)
	if err != nil {
		return req, failures.New(failures.InvalidAmount, "issues.create", err.Error(), err)
	}

	if err := validation.ValidatePercent(f.minCompletion); err != nil {
		return req, err
	}
	for _, days := range []int{f.easyDays, f.mediumDays, f.hardDays} {
		if err := validation.ValidateDays(days); err != nil {
			return req, err
		}
	}

	req = domain.CreateRequest{
		Repo:        repo,
		Title:       strings.TrimSpace(f.title),
		Description: f.body,
		Labels:      f.labels,
		Difficulty:  level,
		Durations: chains.Durations{
			Easy:   time.Duration(f.easyDays) * 24 * time.Hour,
			Medium: time.Duration(f.mediumDays) * 24 * time.Hour,
			Hard:   time.Duration(f.hardDays) * 24 * time.Hour,
		},
		MinCompletionPct: uint8(f.minCompletion),
		Bounty:           bounty,
		Creator:          creator,
	}
	if req.Description == "" {
		req.Description = req.Title
	}
	return req, nil
}

func reportCreate(res *domain.CreateResult, err error) error {
	if err == nil {
		fmt.Printf("✅ Funded %s\n", res.Issue.HTMLURL)
		fmt.Printf("   tx %s (block %d)\n", res.TxHash.Hex(), res.BlockNumber)
		return nil
	}
	if res != nil && res.Pending {
		fmt.Printf("⏳ Created %s, funding tx %s still pending\n", res.Issue.HTMLURL, res.TxHash.Hex())
		fmt.Println("   Check 'bounty orphans list' if it does not appear in 'bounty issues list'.")
		return err
	}
	if failures.ClassOf(err) == failures.PartialCompletion {
		fmt.Fprintf(os.Stderr, "⚠️  %s\n", failures.Message(err))
		fmt.Fprintln(os.Stderr, "   The issue was kept and recorded; see 'bounty orphans list'.")
	}
	return err
}

func createIssuesClaimCmd() *cobra.Command {
	var stakeFlag string

	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Stake on an issue and take it",
		Long: `Stake on a funded issue and assign it to your wallet.

The stake defaults to a tenth of the bounty. It is returned when the
work reaches the issue's minimum completion.

EXAMPLES:
  bounty issues claim 3
  bounty issues claim 3 --stake 0.05
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid issue id %q", args[0])
			}
			var stake *big.Int
			if stakeFlag != "" {
				stake, err = validation.ParseEther(stakeFlag)
				if err != nil {
					return failures.New(failures.InvalidAmount, "issues.claim", err.Error(), err)
				}
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ensureVerified(ctx); err != nil {
				return err
			}

			res, err := s.bounties.Claim(ctx, domain.ClaimRequest{IssueID: id, Stake: stake})
			switch {
			case err == nil:
				fmt.Printf("✅ Claimed issue %d with stake %s\n", id, validation.FormatEther(res.Stake))
				if res.Issue != nil && res.Issue.Deadline > 0 {
					fmt.Printf("   Deadline: %s\n", time.Unix(res.Issue.Deadline, 0).Format(time.RFC1123))
				}
				return nil
			case res != nil && res.Pending:
				fmt.Printf("⏳ Claim tx %s still pending\n", res.TxHash.Hex())
				return err
			default:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&stakeFlag, "stake", "", "stake in ether (default: bounty / 10)")

	return cmd
}
