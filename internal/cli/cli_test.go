package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/failures"
	"github.com/celution/bountyd/internal/identity"
	"github.com/celution/bountyd/internal/storage"
)

func TestGetServer(t *testing.T) {
	origServer := server
	defer func() { server = origServer }()

	t.Run("flag takes precedence", func(t *testing.T) {
		server = "http://flag-server:8080"
		t.Setenv("BOUNTY_SERVER", "http://env-server:8080")
		assert.Equal(t, "http://flag-server:8080", getServer())
	})

	t.Run("env var when no flag", func(t *testing.T) {
		server = ""
		t.Setenv("BOUNTY_SERVER", "http://env-server:8080")
		assert.Equal(t, "http://env-server:8080", getServer())
	})

	t.Run("project config when no env", func(t *testing.T) {
		server = ""
		t.Setenv("BOUNTY_SERVER", "")
		t.Chdir(t.TempDir())
		require.NoError(t, os.WriteFile(projectConfigFile, []byte(`server = "http://config-server:9000"`), 0644))
		assert.Equal(t, "http://config-server:9000", getServer())
	})

	t.Run("default when nothing set", func(t *testing.T) {
		server = ""
		t.Setenv("BOUNTY_SERVER", "")
		t.Chdir(t.TempDir())
		assert.Equal(t, "http://localhost:8080", getServer())
	})
}

func TestGetToken(t *testing.T) {
	origToken, origServer := token, server
	defer func() { token, server = origToken, origServer }()

	server = "http://bountyd.test"
	t.Setenv("HOME", t.TempDir())

	t.Run("flag takes precedence", func(t *testing.T) {
		token = "flag-token"
		t.Setenv("BOUNTY_GITHUB_TOKEN", "env-token")
		assert.Equal(t, "flag-token", getToken())
	})

	t.Run("bounty env before github env", func(t *testing.T) {
		token = ""
		t.Setenv("BOUNTY_GITHUB_TOKEN", "bounty-token")
		t.Setenv("GITHUB_TOKEN", "github-token")
		assert.Equal(t, "bounty-token", getToken())
	})

	t.Run("credentials file for the current server", func(t *testing.T) {
		token = ""
		t.Setenv("BOUNTY_GITHUB_TOKEN", "")
		t.Setenv("GITHUB_TOKEN", "")
		require.NoError(t, saveCredential("http://bountyd.test", ServerCredential{GitHubToken: "stored-token"}))
		assert.Equal(t, "stored-token", getToken())

		server = "http://elsewhere.test"
		assert.Empty(t, getToken())
	})
}

func TestCredentialsFileFormat(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, saveCredential("http://bountyd.test", ServerCredential{GitHubToken: "ghp_secret", User: "octocat"}))

	data, err := os.ReadFile(credentialsFilePath())
	require.NoError(t, err)

	var raw map[string]map[string]map[string]string
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Equal(t, "ghp_secret", raw["servers"]["http://bountyd.test"]["github_token"])
	assert.Equal(t, "octocat", raw["servers"]["http://bountyd.test"]["user"])
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "****"},
		{"short", "****"},
		{"12345678", "****"},
		{"ghp_abcdefghijklmnop", "ghp_...mnop"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskSecret(tt.in), tt.in)
	}
}

const sampleConfig = `
server = "https://bounty.example.com"
repo = "celution/bounty-board"

[chain]
rpc_url = "http://127.0.0.1:8545"
chain_id = 31337
contract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

[wallet]
keystore = "~/.bounty/keystore.json"

[identity]
app_name = "Bounty Board"
scope = "bounty-board"
endpoint = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

[defaults]
difficulty = "medium"
bounty = "0.25"
min_completion = 0
medium_days = 45
`

func TestLoadProjectConfig(t *testing.T) {
	origCfg := cfgFile
	defer func() { cfgFile = origCfg }()

	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))
	cfgFile = path

	cfg, loadedFrom, err := loadProjectConfig()
	require.NoError(t, err)
	assert.Equal(t, path, loadedFrom)
	assert.Equal(t, "https://bounty.example.com", cfg.Server)
	assert.Equal(t, "celution/bounty-board", cfg.Repo)
	assert.Equal(t, int64(31337), cfg.Chain.ChainID)
	assert.Equal(t, "Bounty Board", cfg.Identity.AppName)
	require.NotNil(t, cfg.Defaults.MinCompletion)
	assert.Equal(t, 0, *cfg.Defaults.MinCompletion)
	assert.Equal(t, 45, cfg.Defaults.MediumDays)
	assert.NoError(t, cfg.Validate())

	t.Run("parse error is reported", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(bad, []byte("server = "), 0644))
		_, err := loadProjectConfigFromPath(bad)
		assert.Error(t, err)
	})

	t.Run("missing file is silent", func(t *testing.T) {
		cfgFile = filepath.Join(t.TempDir(), "absent.toml")
		assert.Nil(t, loadProjectConfigSilent())
		assert.NotNil(t, projectConfigOrEmpty())
	})
}

func TestProjectConfigValidate(t *testing.T) {
	pct := func(v int) *int { return &v }
	tests := []struct {
		name    string
		cfg     ProjectConfig
		wantErr bool
	}{
		{"empty", ProjectConfig{}, false},
		{"bad repo", ProjectConfig{Repo: "no-slash"}, true},
		{"bad contract", ProjectConfig{Chain: ChainTOML{Contract: "0x1234"}}, true},
		{"bad difficulty", ProjectConfig{Defaults: DefaultsTOML{Difficulty: "extreme"}}, true},
		{"bad bounty", ProjectConfig{Defaults: DefaultsTOML{Bounty: "lots"}}, true},
		{"percent over 100", ProjectConfig{Defaults: DefaultsTOML{MinCompletion: pct(101)}}, true},
		{"percent zero", ProjectConfig{Defaults: DefaultsTOML{MinCompletion: pct(0)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunConfigInit(t *testing.T) {
	origCfg := cfgFile
	defer func() { cfgFile = origCfg }()
	cfgFile = ""
	t.Chdir(t.TempDir())

	require.NoError(t, runConfigInit("http://localhost:8080", "acme/api", "0x5FbDB2315678afecb367f032d93F642f64180aa3", false))

	cfg, _, err := loadProjectConfig()
	require.NoError(t, err)
	assert.Equal(t, "acme/api", cfg.Repo)
	assert.Equal(t, int64(11142220), cfg.Chain.ChainID)
	assert.Equal(t, 150, cfg.Defaults.HardDays)
	assert.NoError(t, cfg.Validate())

	err = runConfigInit("http://localhost:8080", "acme/api", "", false)
	assert.Error(t, err, "existing config needs --force")
	assert.NoError(t, runConfigInit("http://localhost:8080", "acme/api", "", true))

	assert.Error(t, runConfigInit("http://localhost:8080", "not a repo", "", true))
}

func TestBuildCreateRequest(t *testing.T) {
	creator := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	base := createFlags{
		repo:          "acme/api",
		title:         "  Fix flaky test  ",
		difficulty:    "medium",
		bounty:        "0.5",
		minCompletion: 80,
		easyDays:      7,
		mediumDays:    30,
		hardDays:      150,
		labels:        []string{"help-wanted"},
	}

	req, err := buildCreateRequest(base, creator)
	require.NoError(t, err)
	assert.Equal(t, "acme", req.Repo.Owner)
	assert.Equal(t, "api", req.Repo.Name)
	assert.Equal(t, "Fix flaky test", req.Title)
	assert.Equal(t, "Fix flaky test", req.Description, "description falls back to the title")
	assert.Equal(t, chains.Medium, req.Difficulty)
	assert.Equal(t, "500000000000000000", req.Bounty.String())
	assert.Equal(t, uint8(80), req.MinCompletionPct)
	assert.Equal(t, 30*24*time.Hour, req.Durations.Medium)
	assert.Equal(t, creator, req.Creator)
	assert.Equal(t, []string{"help-wanted"}, req.Labels)

	tests := []struct {
		name   string
		mutate func(f *createFlags)
		class  failures.Class
	}{
		{"missing repo", func(f *createFlags) { f.repo = "" }, failures.Unknown},
		{"bad repo", func(f *createFlags) { f.repo = "acme" }, failures.Unknown},
		{"bad difficulty", func(f *createFlags) { f.difficulty = "epic" }, failures.Unknown},
		{"missing bounty", func(f *createFlags) { f.bounty = "" }, failures.InvalidAmount},
		{"bad bounty", func(f *createFlags) { f.bounty = "1.2.3" }, failures.InvalidAmount},
		{"percent", func(f *createFlags) { f.minCompletion = 120 }, failures.Unknown},
		{"zero days", func(f *createFlags) { f.hardDays = 0 }, failures.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base
			tt.mutate(&f)
			_, err := buildCreateRequest(f, creator)
			require.Error(t, err)
			assert.Equal(t, tt.class, failures.ClassOf(err))
		})
	}
}

func TestApplyCreateDefaults(t *testing.T) {
	zero := 0
	cfg := &ProjectConfig{
		Repo: "celution/bounty-board",
		Defaults: DefaultsTOML{
			Difficulty:    "hard",
			Bounty:        "1",
			MinCompletion: &zero,
			HardDays:      200,
		},
	}

	t.Run("config fills unset flags", func(t *testing.T) {
		cmd := createIssuesCreateCmd()
		var f createFlags
		f.difficulty, f.minCompletion, f.easyDays, f.mediumDays, f.hardDays = "easy", 80, 7, 30, 150

		applyCreateDefaults(cmd, &f, cfg)
		assert.Equal(t, "celution/bounty-board", f.repo)
		assert.Equal(t, "hard", f.difficulty)
		assert.Equal(t, "1", f.bounty)
		assert.Equal(t, 0, f.minCompletion)
		assert.Equal(t, 7, f.easyDays)
		assert.Equal(t, 200, f.hardDays)
	})

	t.Run("explicit flags win", func(t *testing.T) {
		cmd := createIssuesCreateCmd()
		require.NoError(t, cmd.Flags().Set("difficulty", "easy"))
		require.NoError(t, cmd.Flags().Set("min-completion", "90"))
		f := createFlags{difficulty: "easy", minCompletion: 90, hardDays: 150}

		applyCreateDefaults(cmd, &f, cfg)
		assert.Equal(t, "easy", f.difficulty)
		assert.Equal(t, 90, f.minCompletion)
	})
}

func TestTerminalDisplay(t *testing.T) {
	var buf bytes.Buffer
	d := newTerminalDisplay(&buf)

	v := identity.NewVerifier(identity.Config{
		AppName:      "Bounty Board",
		Scope:        "bounty-board",
		Endpoint:     "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		EndpointType: "https",
		DeepLinkBase: defaultDeepLinkBase,
	})
	c := v.Build(common.HexToAddress("0x00000000000000000000000000000000000a11ce"))

	d.Open(c)
	assert.Contains(t, buf.String(), c.UniversalLink())
	assert.Contains(t, buf.String(), "q to cancel")

	buf.Reset()
	next := v.Build(c.Address())
	d.Update(next)
	assert.Contains(t, buf.String(), next.UniversalLink())
}

func TestIdentityConfigDefaults(t *testing.T) {
	c := identityConfig(&ProjectConfig{Identity: IdentityTOML{AppName: "Bounty Board"}})
	assert.Equal(t, "Bounty Board", c.AppName)
	assert.Equal(t, "https", c.EndpointType)
	assert.Equal(t, defaultDeepLinkBase, c.DeepLinkBase)
}

func TestWarnIdentity(t *testing.T) {
	tests := []struct {
		name     string
		identity IdentityTOML
		want     []string
	}{
		{
			name:     "complete",
			identity: IdentityTOML{AppName: "Bounty Board", Scope: "bounties", Endpoint: "https://bounty.example.com/api/verify"},
		},
		{
			name: "all missing",
			want: []string{"identity.scope", "identity.app_name", "identity.endpoint"},
		},
		{
			name:     "scope only missing",
			identity: IdentityTOML{AppName: "Bounty Board", Endpoint: "https://bounty.example.com/api/verify"},
			want:     []string{"identity.scope"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			warnIdentity(&buf, &ProjectConfig{Identity: tt.identity})

			out := buf.String()
			if len(tt.want) == 0 {
				assert.Empty(t, out)
				return
			}
			assert.Equal(t, len(tt.want), strings.Count(out, "Warning: "))
			for _, key := range tt.want {
				assert.Contains(t, out, key+" is not set")
			}
		})
	}
}

func TestContractAddress(t *testing.T) {
	t.Setenv("BOUNTY_CONTRACT", "")
	_, err := contractAddress(&ProjectConfig{})
	assert.Error(t, err)

	addr, err := contractAddress(&ProjectConfig{Chain: ChainTOML{Contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3"}})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), addr)

	t.Setenv("BOUNTY_CONTRACT", "0x00000000000000000000000000000000000000c0")
	addr, err = contractAddress(&ProjectConfig{Chain: ChainTOML{Contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3"}})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xc0"), addr)
}

func TestLoadWalletFromEnv(t *testing.T) {
	t.Setenv("BOUNTY_PRIVATE_KEY", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	w, err := loadWallet(&ProjectConfig{}, nil)
	require.NoError(t, err)
	assert.True(t, w.Connected())

	t.Setenv("BOUNTY_PRIVATE_KEY", "")
	t.Setenv("BOUNTY_KEYSTORE", "")
	_, err = loadWallet(&ProjectConfig{}, nil)
	assert.Equal(t, failures.PermissionDenied, failures.ClassOf(err))
}

func TestOrphanCommands(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "orphans.db")
	cfg := &ProjectConfig{Database: dbPath}

	store, err := openOrphanStore(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RecordOrphan(ctx, &storage.Orphan{
		TrackerURL:   "https://github.com/acme/api/issues/7",
		Repo:         "acme/api",
		Creator:      "0x00000000000000000000000000000000000a11ce",
		Bounty:       "500000000000000000",
		Difficulty:   "easy",
		FailureClass: "user_rejected",
		Reason:       "The request was declined.",
	}))

	require.NoError(t, listOrphans(ctx, store, storage.OrphanFilter{}, false))
	require.NoError(t, listOrphans(ctx, store, storage.OrphanFilter{}, true))

	orphans, err := store.ListOrphans(ctx, storage.OrphanFilter{})
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "0.5", orphanBounty(orphans[0].Bounty))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b c", truncate("a\n b\t c", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
