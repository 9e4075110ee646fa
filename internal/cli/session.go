package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celution/bountyd/internal/bounties/domain"
	"github.com/celution/bountyd/internal/chains/evm"
	"github.com/celution/bountyd/internal/failures"
	"github.com/celution/bountyd/internal/identity"
	"github.com/celution/bountyd/internal/storage"
	"github.com/celution/bountyd/internal/tracker"
	"github.com/celution/bountyd/internal/validation"
	vdomain "github.com/celution/bountyd/internal/verification/domain"
	"github.com/celution/bountyd/internal/wallet"
)

const (
	defaultRPCURL       = "https://forno.celo-sepolia.celo-testnet.org"
	defaultChainID      = 11142220
	defaultDeepLinkBase = "https://redirect.self.xyz?selfApp="
)

// bountyService is the coordinator surface the commands use
type bountyService interface {
	CreateAndFund(ctx context.Context, req domain.CreateRequest) (*domain.CreateResult, error)
	Claim(ctx context.Context, req domain.ClaimRequest) (*domain.ClaimResult, error)
}

// session wires the wallet, chain, gate and coordinator for one command
type session struct {
	config   *ProjectConfig
	wallet   *wallet.Wallet
	gateway  *evm.Gateway
	gate     *vdomain.Gate
	store    storage.Store
	coord    *domain.Coordinator
	bounties bountyService
	logger   *slog.Logger
}

// openSession connects the wallet and the chain. The tracker is only
// required by commands that create issues.
func openSession(ctx context.Context, needTracker bool) (*session, error) {
	cfg := projectConfigOrEmpty()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", projectConfigFile, err)
	}
	logger := cliLogger()

	contract, err := contractAddress(cfg)
	if err != nil {
		return nil, err
	}

	chainID := big.NewInt(cfg.Chain.ChainID)
	if cfg.Chain.ChainID == 0 {
		chainID = big.NewInt(defaultChainID)
	}
	w, err := loadWallet(cfg, chainID)
	if err != nil {
		return nil, err
	}

	rpcURL := cfg.Chain.RPCURL
	if rpcURL == "" {
		rpcURL = defaultRPCURL
	}
	gw, err := evm.Dial(ctx, rpcURL, evm.Config{
		ContractAddress:     contract,
		RequestsPerSecond:   10,
		Burst:               5,
		ReceiptPollInterval: 2 * time.Second,
	}, w, logger)
	if err != nil {
		return nil, err
	}

	s := &session{config: cfg, wallet: w, gateway: gw, logger: logger}

	warnIdentity(os.Stderr, cfg)

	s.gate = vdomain.NewGate(gw,
		identity.NewVerifier(identityConfig(cfg)),
		identity.NewClient(getServer(), logger),
		w,
		logger,
		vdomain.WithDisplay(newTerminalDisplay(os.Stderr)),
	)

	var tr tracker.Gateway
	if needTracker {
		t := getToken()
		if t == "" {
			s.Close()
			return nil, failures.New(failures.PermissionDenied, "tracker", "no GitHub token: run 'bounty auth login' or set GITHUB_TOKEN", nil)
		}
		gh, err := newTracker(t, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		tr = gh
	}

	store, err := openOrphanStore(ctx, cfg, logger)
	if err != nil {
		logger.Warn("orphan store unavailable, unfunded issues will only be logged", "error", err)
	}
	s.store = store

	var orphans domain.OrphanRecorder
	if store != nil {
		orphans = store
	}
	s.coord = domain.NewCoordinator(vdomain.NewGatedChain(gw, s.gate, w.Address()), tr, orphans, logger)
	s.bounties = domain.LoggingMiddleware(logger)(s.coord)

	return s, nil
}

// Close releases the session. Pending background reconciliation is stopped.
func (s *session) Close() {
	if s.coord != nil {
		s.coord.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.gateway != nil {
		s.gateway.Close()
	}
}

func contractAddress(cfg *ProjectConfig) (common.Address, error) {
	raw := cfg.Chain.Contract
	if env := os.Getenv("BOUNTY_CONTRACT"); env != "" {
		raw = env
	}
	if raw == "" {
		return common.Address{}, fmt.Errorf("no bounty contract configured: set chain.contract in %s or BOUNTY_CONTRACT", projectConfigFile)
	}
	if err := validation.ValidateAddress(raw); err != nil {
		return common.Address{}, fmt.Errorf("contract: %w", err)
	}
	return common.HexToAddress(raw), nil
}

// loadWallet reads BOUNTY_PRIVATE_KEY or the configured keystore
func loadWallet(cfg *ProjectConfig, chainID *big.Int) (*wallet.Wallet, error) {
	if key := os.Getenv("BOUNTY_PRIVATE_KEY"); key != "" {
		return wallet.FromHex(key, chainID)
	}

	path := cfg.Wallet.Keystore
	if env := os.Getenv("BOUNTY_KEYSTORE"); env != "" {
		path = env
	}
	if path == "" {
		return nil, failures.New(failures.PermissionDenied, "wallet", "no wallet: set BOUNTY_PRIVATE_KEY or wallet.keystore", nil)
	}

	passphrase, ok := os.LookupEnv("BOUNTY_KEYSTORE_PASSPHRASE")
	if !ok {
		fmt.Fprintf(os.Stderr, "Passphrase for %s: ", filepath.Base(path))
		var err error
		passphrase, err = readSecret(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
	}
	return wallet.FromKeystore(expandHome(path), passphrase, chainID)
}

// warnIdentity prints every missing identity setting before a challenge can
// be built from it.
func warnIdentity(w io.Writer, cfg *ProjectConfig) {
	for _, msg := range cfg.IdentityWarnings() {
		fmt.Fprintf(w, "Warning: %s (set it in %s)\n", msg, projectConfigFile)
	}
}

func identityConfig(cfg *ProjectConfig) identity.Config {
	c := identity.Config{
		AppName:      cfg.Identity.AppName,
		Scope:        cfg.Identity.Scope,
		Endpoint:     cfg.Identity.Endpoint,
		EndpointType: cfg.Identity.EndpointType,
		Logo:         cfg.Identity.Logo,
		DeepLinkBase: cfg.Identity.DeepLinkBase,
	}
	if c.EndpointType == "" {
		c.EndpointType = "https"
	}
	if c.DeepLinkBase == "" {
		c.DeepLinkBase = defaultDeepLinkBase
	}
	return c
}

func newTracker(token string, logger *slog.Logger) (*tracker.GitHub, error) {
	var opts []tracker.Option
	if base := os.Getenv("BOUNTY_GITHUB_API_URL"); base != "" {
		opts = append(opts, tracker.WithBaseURL(base))
	}
	return tracker.NewGitHub(token, logger, opts...)
}

// openOrphanStore opens the local database that keeps unfunded issues
func openOrphanStore(ctx context.Context, cfg *ProjectConfig, logger *slog.Logger) (storage.Store, error) {
	path := cfg.Database
	if path == "" {
		path = filepath.Join(credentialsDir(), "bounty.db")
	}
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// ensureVerified runs the verification gate for the session wallet. It
// returns once the wallet is verified on-chain. Interrupting the command
// abandons verification and disconnects the wallet.
func (s *session) ensureVerified(ctx context.Context) error {
	addr := s.wallet.Address()
	if err := s.gate.Connect(ctx, addr); err != nil {
		return err
	}
	if s.gate.Verified(addr) {
		return nil
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	done := make(chan error, 1)
	go func() { done <- s.gate.WaitVerified(ctx) }()

	for {
		select {
		case err := <-done:
			switch {
			case err == nil:
				fmt.Fprintf(os.Stderr, "✅ %s is verified\n", addr.Hex())
				return nil
			case errors.Is(err, vdomain.ErrAbandoned):
				return failures.New(failures.UserRejected, "verify", "verification abandoned, wallet disconnected", err)
			default:
				s.gate.Close()
				return failures.New(failures.UserRejected, "verify", "verification interrupted, wallet disconnected", err)
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			s.handleInput(ctx, strings.TrimSpace(strings.ToLower(line)))
		}
	}
}

func (s *session) handleInput(ctx context.Context, line string) {
	switch line {
	case "":
		c := s.gate.Challenge()
		if c == nil {
			return
		}
		if err := s.gate.ProofSucceeded(ctx, c.ID); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  %s\n", failures.Message(err))
			fmt.Fprintln(os.Stderr, "   Press r for a new challenge or q to cancel.")
		}
	case "r", "retry":
		if _, err := s.gate.Retry(); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
		}
	case "c", "check":
		if err := s.gate.Recheck(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  %s\n", failures.Message(err))
		}
	case "q", "quit":
		s.gate.Close()
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// terminalDisplay prints challenges as universal links
type terminalDisplay struct {
	w io.Writer
}

func newTerminalDisplay(w io.Writer) *terminalDisplay {
	return &terminalDisplay{w: w}
}

func (d *terminalDisplay) Open(c *identity.Challenge) {
	fmt.Fprintln(d.w, "Wallet is not verified. Open this link on your phone to prove your identity:")
	fmt.Fprintln(d.w)
	fmt.Fprintf(d.w, "  %s\n", c.UniversalLink())
	fmt.Fprintln(d.w)
	fmt.Fprintln(d.w, "Press Enter once the app reports success, r for a new link, c to re-check, q to cancel.")
}

func (d *terminalDisplay) Update(c *identity.Challenge) {
	fmt.Fprintln(d.w, "New verification link:")
	fmt.Fprintf(d.w, "  %s\n", c.UniversalLink())
}

func (d *terminalDisplay) Close() {}

// cliLogger logs to stderr at BOUNTY_LOG_LEVEL, warn by default
func cliLogger() *slog.Logger {
	level := slog.LevelWarn
	switch strings.ToLower(os.Getenv("BOUNTY_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
