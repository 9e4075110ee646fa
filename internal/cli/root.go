package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	server  string
	token   string
)

// Execute runs the CLI
func Execute(version string) error {
	rootCmd := &cobra.Command{
		Use:           "bounty",
		Short:         "Fund and claim issue bounties",
		Long:          `bounty opens GitHub issues, funds them on-chain and lets verified contributors claim them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: bounty.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "bountyd URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "GitHub token")

	// Add subcommands
	rootCmd.AddCommand(createConfigCmd())
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createReposCmd())
	rootCmd.AddCommand(createIssuesCmd())
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createOrphansCmd())
	rootCmd.AddCommand(createVersionCmd(version))

	// Ctrl-C cancels the running command; an open verification gate
	// disconnects the wallet when it sees the cancellation.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

// getServer returns the server URL from flag, env, or config file
func getServer() string {
	// 1. Command line flag
	if server != "" {
		return server
	}

	// 2. Environment variable
	if env := os.Getenv("BOUNTY_SERVER"); env != "" {
		return env
	}

	// 3. Project config file (TOML)
	if config := loadProjectConfigSilent(); config != nil && config.Server != "" {
		return config.Server
	}

	// 4. Default
	return "http://localhost:8080"
}

// getToken returns the GitHub token from flag, env, or credentials file
func getToken() string {
	// 1. Command line flag
	if token != "" {
		return token
	}

	// 2. Environment variables
	for _, key := range []string{"BOUNTY_GITHUB_TOKEN", "GITHUB_TOKEN"} {
		if env := os.Getenv(key); env != "" {
			return env
		}
	}

	// 3. Credentials file (keyed by server URL)
	if cred := getCredential(getServer()); cred.GitHubToken != "" {
		return cred.GitHubToken
	}

	return ""
}
