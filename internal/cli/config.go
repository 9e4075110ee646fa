package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/validation"
)

// projectConfigFile is the project config file name
const projectConfigFile = "bounty.toml"

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Server   string       `toml:"server"`
	Repo     string       `toml:"repo,omitempty"`
	Database string       `toml:"database,omitempty"`
	Chain    ChainTOML    `toml:"chain"`
	Wallet   WalletTOML   `toml:"wallet"`
	Identity IdentityTOML `toml:"identity"`
	Defaults DefaultsTOML `toml:"defaults"`
}

// ChainTOML points the CLI at the bounty contract
type ChainTOML struct {
	RPCURL   string `toml:"rpc_url"`
	ChainID  int64  `toml:"chain_id"`
	Contract string `toml:"contract"`
}

// WalletTOML locates the signing key
type WalletTOML struct {
	Keystore string `toml:"keystore,omitempty"`
}

// IdentityTOML describes the identity proof application
type IdentityTOML struct {
	AppName      string `toml:"app_name"`
	Scope        string `toml:"scope"`
	Endpoint     string `toml:"endpoint"`
	EndpointType string `toml:"endpoint_type,omitempty"`
	Logo         string `toml:"logo,omitempty"`
	DeepLinkBase string `toml:"deeplink_base,omitempty"`
}

// DefaultsTOML holds defaults for new bounties
type DefaultsTOML struct {
	Difficulty    string `toml:"difficulty,omitempty"`
	Bounty        string `toml:"bounty,omitempty"`
	MinCompletion *int   `toml:"min_completion,omitempty"`
	EasyDays      int    `toml:"easy_days,omitempty"`
	MediumDays    int    `toml:"medium_days,omitempty"`
	HardDays      int    `toml:"hard_days,omitempty"`
}

// Validate checks the values that can be checked offline
func (c *ProjectConfig) Validate() error {
	if c.Repo != "" {
		if err := validation.ValidateRepo(c.Repo); err != nil {
			return fmt.Errorf("repo: %w", err)
		}
	}
	if c.Chain.Contract != "" {
		if err := validation.ValidateAddress(c.Chain.Contract); err != nil {
			return fmt.Errorf("chain.contract: %w", err)
		}
	}
	if c.Defaults.Difficulty != "" {
		if _, err := chains.ParseDifficulty(c.Defaults.Difficulty); err != nil {
			return fmt.Errorf("defaults.difficulty: %w", err)
		}
	}
	if c.Defaults.Bounty != "" {
		if _, err := validation.ParseEther(c.Defaults.Bounty); err != nil {
			return fmt.Errorf("defaults.bounty: %w", err)
		}
	}
	if c.Defaults.MinCompletion != nil {
		if err := validation.ValidatePercent(*c.Defaults.MinCompletion); err != nil {
			return fmt.Errorf("defaults.min_completion: %w", err)
		}
	}
	return nil
}

// IdentityWarnings lists the identity settings a challenge needs but the
// config leaves empty.
func (c *ProjectConfig) IdentityWarnings() []string {
	var w []string
	if c.Identity.Scope == "" {
		w = append(w, "identity.scope is not set: the proof will not be bound to this application")
	}
	if c.Identity.AppName == "" {
		w = append(w, "identity.app_name is not set: the identity app will show no requester name")
	}
	if c.Identity.Endpoint == "" {
		w = append(w, "identity.endpoint is not set: proofs have no callback target")
	}
	return w
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL string
	var repo string
	var contract string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a bounty.toml configuration file in the current directory.

This file stores project settings like the server URL, the repository
bounties are opened in and the bounty contract.

EXAMPLES:
  # Create config with default server
  bounty config init --repo celution/bounty-board

  # Create config for a specific contract
  bounty config init --repo acme/api --contract 0x...

  # Overwrite existing config
  bounty config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(serverURL, repo, contract, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "bountyd URL")
	cmd.Flags().StringVar(&repo, "repo", "", "repository as owner/name")
	cmd.Flags().StringVar(&contract, "contract", "", "bounty contract address")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the current configuration.

Shows the environment, the local project config (bounty.toml) and the
credentials stored in ~/.bounty/credentials.

EXAMPLES:
  bounty config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	return cmd
}

func runConfigInit(serverURL, repo, contract string, force bool) error {
	configPath := projectConfigFile

	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}
	if repo != "" {
		if err := validation.ValidateRepo(repo); err != nil {
			return err
		}
	}
	if contract != "" {
		if err := validation.ValidateAddress(contract); err != nil {
			return err
		}
	}

	content := fmt.Sprintf(`# bounty project configuration

server = "%s"
repo = "%s"

[chain]
rpc_url = "https://forno.celo-sepolia.celo-testnet.org"
chain_id = 11142220
contract = "%s"

[wallet]
# Encrypted key file; BOUNTY_PRIVATE_KEY takes precedence when set
# keystore = "~/.bounty/keystore.json"

[identity]
app_name = ""
scope = ""
endpoint = ""
# endpoint_type = "staging_https"

[defaults]
difficulty = "easy"
bounty = "0.1"
min_completion = 80
easy_days = 7
medium_days = 30
hard_days = 150
`, serverURL, repo, contract)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  Server: %s\n", serverURL)
	if repo != "" {
		fmt.Printf("  Repo:   %s\n", repo)
	}
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Fill in the [identity] section of %s\n", configPath)
	fmt.Println("  2. Run 'bounty auth login' to store a GitHub token")
	fmt.Println("  3. Run 'bounty issues create --title ...' to open a bounty")

	return nil
}

func runConfigShow() error {
	fmt.Println("Configuration sources (in order of precedence):")
	fmt.Println()

	// 1. Command line flags
	fmt.Println("1. Command line flags")
	fmt.Println("   --server, --token, --config")
	fmt.Println()

	// 2. Environment variables
	fmt.Println("2. Environment variables")
	for _, key := range []string{"BOUNTY_SERVER", "BOUNTY_GITHUB_TOKEN", "GITHUB_TOKEN", "BOUNTY_PRIVATE_KEY", "BOUNTY_KEYSTORE"} {
		value := os.Getenv(key)
		switch {
		case value == "":
			fmt.Printf("   %s=(not set)\n", key)
		case key == "BOUNTY_SERVER" || key == "BOUNTY_KEYSTORE":
			fmt.Printf("   %s=%s\n", key, value)
		default:
			fmt.Printf("   %s=%s\n", key, maskSecret(value))
		}
	}
	fmt.Println()

	// 3. Local project config
	fmt.Println("3. Local project config (bounty.toml)")
	projectConfig, configPath, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else {
		fmt.Printf("   Loaded from: %s\n", configPath)
		printSetting("server", projectConfig.Server)
		printSetting("repo", projectConfig.Repo)
		printSetting("chain.rpc_url", projectConfig.Chain.RPCURL)
		printSetting("chain.contract", projectConfig.Chain.Contract)
		if projectConfig.Chain.ChainID != 0 {
			fmt.Printf("   chain.chain_id: %d\n", projectConfig.Chain.ChainID)
		}
		printSetting("wallet.keystore", projectConfig.Wallet.Keystore)
		printSetting("identity.app_name", projectConfig.Identity.AppName)
		printSetting("identity.scope", projectConfig.Identity.Scope)
		printSetting("identity.endpoint", projectConfig.Identity.Endpoint)
		if err := projectConfig.Validate(); err != nil {
			fmt.Printf("   ⚠️  %v\n", err)
		}
		for _, w := range projectConfig.IdentityWarnings() {
			fmt.Printf("   ⚠️  %s\n", w)
		}
	}
	fmt.Println()

	// 4. Credentials
	fmt.Printf("4. Credentials (%s)\n", credentialsFilePath())
	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else if len(creds.Servers) == 0 {
		fmt.Println("   (no credentials stored)")
	} else {
		for server, cred := range creds.Servers {
			fmt.Printf("   %s: %s (%s)\n", server, maskSecret(cred.GitHubToken), cred.User)
		}
	}
	fmt.Println()

	// Effective config
	fmt.Println("Effective configuration:")
	fmt.Printf("   Server: %s\n", getServer())
	if t := getToken(); t != "" {
		fmt.Printf("   Token:  %s\n", maskSecret(t))
	} else {
		fmt.Println("   Token:  (not set)")
	}

	return nil
}

func printSetting(name, value string) {
	if value != "" {
		fmt.Printf("   %s: %s\n", name, value)
	}
}

// loadProjectConfig loads the project config from --config or bounty.toml.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	path := projectConfigFile
	if cfgFile != "" {
		path = cfgFile
	}
	if _, err := os.Stat(path); err != nil {
		return nil, path, err
	}
	config, err := loadProjectConfigFromPath(path)
	if err != nil {
		return nil, path, err
	}
	return config, path, nil
}

// loadProjectConfigFromPath loads a project config from a specific path
func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config ProjectConfig
	if _, err := toml.Decode(string(data), &config); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	return &config, nil
}

// loadProjectConfigSilent loads the project config without returning errors for missing files.
// Returns nil if the file doesn't exist, but reports parse failures.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// Show actionable errors (parse failures)
		fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		return nil
	}
	return config
}

// projectConfigOrEmpty never returns nil
func projectConfigOrEmpty() *ProjectConfig {
	if c := loadProjectConfigSilent(); c != nil {
		return c
	}
	return &ProjectConfig{}
}

// expandHome resolves a leading ~/ against the home directory
func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
