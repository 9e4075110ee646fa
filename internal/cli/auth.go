package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/celution/bountyd/internal/tracker"
)

// Credentials stores GitHub tokens per server
type Credentials struct {
	Servers map[string]ServerCredential `yaml:"servers"`
}

// ServerCredential stores credentials for a single server
type ServerCredential struct {
	GitHubToken string `yaml:"github_token"`
	User        string `yaml:"user,omitempty"` // GitHub login the token belongs to
}

func createAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
	}

	cmd.AddCommand(createAuthLoginCmd())
	cmd.AddCommand(createAuthLogoutCmd())
	cmd.AddCommand(createAuthStatusCmd())

	return cmd
}

func createAuthLoginCmd() *cobra.Command {
	var serverFlag string
	var tokenFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a GitHub token",
		Long: `Save a GitHub token used to open and list bounty issues.

The token needs the "repo" scope to create issues in private repositories.
It is checked against GitHub and stored in ~/.bounty/credentials with
secure file permissions.

EXAMPLES:
  # Interactive login (prompts for the token)
  bounty auth login

  # Non-interactive login (for CI)
  bounty auth login --token $GITHUB_TOKEN
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(cmd.Context(), serverFlag, tokenFlag)
		},
	}

	cmd.Flags().StringVar(&serverFlag, "server", "", "server URL (default from config)")
	cmd.Flags().StringVar(&tokenFlag, "token", "", "GitHub token (prompts if not provided)")

	return cmd
}

func createAuthLogoutCmd() *cobra.Command {
	var serverFlag string
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear credentials",
		Long: `Remove the saved GitHub token for a server.

EXAMPLES:
  # Logout from default server
  bounty auth logout

  # Clear all credentials
  bounty auth logout --all
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogout(serverFlag, allFlag)
		},
	}

	cmd.Flags().StringVar(&serverFlag, "server", "", "server URL (default from config)")
	cmd.Flags().BoolVar(&allFlag, "all", false, "clear all credentials")

	return cmd
}

func createAuthStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus()
		},
	}

	return cmd
}

func runAuthLogin(ctx context.Context, serverURL, tokenInput string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if serverURL == "" {
		serverURL = getServer()
	}

	token := tokenInput
	if token == "" {
		fmt.Print("Enter GitHub token: ")
		var err error
		token, err = readSecret(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
	}

	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	fmt.Println("Validating token with GitHub...")
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	user, err := validateToken(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to validate token: %w", err)
	}

	if err := saveCredential(serverURL, ServerCredential{GitHubToken: token, User: user}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("✅ Authenticated as %s (token: %s)\n", user, maskSecret(token))
	fmt.Printf("   Credentials saved to %s\n", credentialsFilePath())

	return nil
}

// readSecret reads a line without echo when f is a terminal
func readSecret(f *os.File) (string, error) {
	fd := int(f.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func validateToken(ctx context.Context, token string) (string, error) {
	var opts []tracker.Option
	if base := os.Getenv("BOUNTY_GITHUB_API_URL"); base != "" {
		opts = append(opts, tracker.WithBaseURL(base))
	}
	gh, err := tracker.NewGitHub(token, discardLogger(), opts...)
	if err != nil {
		return "", err
	}
	return gh.CurrentUser(ctx)
}

func runAuthLogout(serverURL string, all bool) error {
	if all {
		path := credentialsFilePath()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		fmt.Println("✅ All credentials cleared")
		return nil
	}

	if serverURL == "" {
		serverURL = getServer()
	}

	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("No credentials found for %s\n", serverURL)
			return nil
		}
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if _, exists := creds.Servers[serverURL]; !exists {
		fmt.Printf("No credentials found for %s\n", serverURL)
		return nil
	}

	delete(creds.Servers, serverURL)

	if err := writeCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("✅ Logged out from %s\n", serverURL)
	return nil
}

func runAuthStatus() error {
	creds, err := loadCredentials()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if creds == nil || len(creds.Servers) == 0 {
		fmt.Println("Not authenticated")
		fmt.Println("\nRun 'bounty auth login' to store a GitHub token")
		return nil
	}

	fmt.Println("Stored credentials:")
	for server, cred := range creds.Servers {
		if cred.User != "" {
			fmt.Printf("  • %s (%s, token: %s)\n", server, cred.User, maskSecret(cred.GitHubToken))
		} else {
			fmt.Printf("  • %s (token: %s)\n", server, maskSecret(cred.GitHubToken))
		}
	}

	return nil
}

// Credential file helpers

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bounty"
	}
	return filepath.Join(home, ".bounty")
}

func credentialsFilePath() string {
	return filepath.Join(credentialsDir(), "credentials")
}

func loadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(credentialsFilePath())
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	if creds.Servers == nil {
		creds.Servers = make(map[string]ServerCredential)
	}

	return &creds, nil
}

func writeCredentials(creds *Credentials) error {
	if err := os.MkdirAll(credentialsDir(), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	return os.WriteFile(credentialsFilePath(), data, 0600)
}

func saveCredential(serverURL string, cred ServerCredential) error {
	creds, err := loadCredentials()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		creds = &Credentials{Servers: make(map[string]ServerCredential)}
	}

	creds.Servers[serverURL] = cred
	return writeCredentials(creds)
}

func getCredential(serverURL string) ServerCredential {
	creds, err := loadCredentials()
	if err != nil {
		return ServerCredential{}
	}
	return creds.Servers[serverURL]
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
