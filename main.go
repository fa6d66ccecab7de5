package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"walletsync/pkg/bridge"
	"walletsync/pkg/config"
	"walletsync/pkg/logger"
	"walletsync/pkg/node"
	"walletsync/pkg/provider"
	"walletsync/pkg/server"
	"walletsync/pkg/session"
	"walletsync/pkg/tui"
)

// Version should be set during build
var Version = "dev"

// globalFlags are shared by every subcommand. Zero values mean "use config".
type globalFlags struct {
	configPath string
	mode       string
	rpcURL     string
	port       int
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "walletsync [config]",
		Short: "Mirror a browser wallet's account, balance and chain in the terminal",
		Long: `walletsync detects an EIP-1193 wallet provider, lets you connect and
disconnect, and keeps the active account, its balance and the chain id in
sync with the wallet's accountsChanged and chainChanged events.

In bridge mode (the default) open the printed /bridge/ URL in a browser with
MetaMask installed. In node mode the wallet is a JSON-RPC endpoint.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), flags, args)
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to configuration file (JSON, or YAML by extension)")
	pf.StringVar(&flags.mode, "mode", "", "Provider mode: bridge or node")
	pf.StringVar(&flags.rpcURL, "rpc", "", "JSON-RPC endpoint for node mode")
	pf.IntVar(&flags.port, "port", 0, "Port for the API server and bridge page")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		&cobra.Command{
			Use:   "run [config]",
			Short: "Run the wallet TUI (default)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTUI(cmd.Context(), flags, args)
			},
		},
		&cobra.Command{
			Use:   "serve [config]",
			Short: "Run headless, exposing the session over the API server",
			Long: `Run without the TUI. GET /api/state and /ws mirror the session;
POST /api/toggle connects or disconnects, which in bridge mode prompts
the wallet in the attached browser tab.`,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), cmd.OutOrStdout(), flags, args)
			},
		},
		newCheckCmd(flags),
		newConfigCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version and exit",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "walletsync version %s\n", Version)
			},
		},
	)
	return root
}

// path resolves the config file from --config or the positional argument.
func (f *globalFlags) path(args []string) (string, error) {
	cfgInput := f.configPath
	if cfgInput == "" && len(args) > 0 {
		cfgInput = args[0]
	}
	path, err := config.GetConfigPath(cfgInput)
	if err != nil {
		return "", fmt.Errorf("determining config path: %w", err)
	}
	return path, nil
}

// apply copies the non-zero flags onto cfg. --rpc alone implies node mode.
func (f *globalFlags) apply(cfg *config.Config) {
	if f.mode != "" {
		cfg.Provider.Mode = f.mode
	}
	if f.rpcURL != "" {
		cfg.Provider.RPCURL = f.rpcURL
		if f.mode == "" {
			cfg.Provider.Mode = config.ModeNode
		}
	}
	if f.port != 0 {
		cfg.ServerPort = f.port
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
}

// loadConfig resolves the config path, loads the file and applies flag
// overrides on top of file and environment values.
func loadConfig(flags *globalFlags, args []string) (config.Config, string, error) {
	path, err := flags.path(args)
	if err != nil {
		return config.Config{}, "", err
	}

	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		return config.Config{}, path, fmt.Errorf("loading config from %s: %w", path, err)
	}

	flags.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, path, err
	}
	return cfg, path, nil
}

// app is one wired session and the transport behind it.
type app struct {
	session   *session.Session
	probe     provider.Probe
	bridge    *bridge.Bridge
	bridgeURL string

	mu     sync.Mutex
	closed bool
	node   *node.Provider
}

func newApp(cfg config.Config) *app {
	a := &app{}

	var probe provider.Probe
	switch cfg.Provider.Mode {
	case config.ModeNode:
		nodeProbe := node.Probe(cfg.Provider.RPCURL, cfg.PollInterval())
		probe = func(ctx context.Context) (provider.Provider, error) {
			p, err := nodeProbe(ctx)
			if err != nil {
				return nil, err
			}
			np := p.(*node.Provider)
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.closed {
				np.Close()
				return nil, session.ErrClosed
			}
			a.node = np
			logger.For("main").Info("node provider ready", "url", np.URL())
			return np, nil
		}
	default:
		a.bridge = bridge.New()
		a.bridgeURL = fmt.Sprintf("http://localhost:%d/bridge/", cfg.ServerPort)
		probe = a.bridge.Probe(cfg.DetectTimeout())
	}

	a.probe = probe
	a.session = session.New(session.Options{
		Probe:              probe,
		BalanceDecimals:    cfg.BalanceDecimals,
		RevokeOnDisconnect: cfg.RevokeOnDisconnect,
		AllowNonMetaMask:   cfg.AllowNonMetaMask,
	})
	return a
}

// close tears down the session before the transport it reads from.
func (a *app) close() {
	a.session.Close()
	a.mu.Lock()
	a.closed = true
	n := a.node
	a.mu.Unlock()
	if n != nil {
		n.Close()
	}
}

// startServer runs the API server in the background when a port is set.
// Errors are logged; the TUI keeps working without it.
func startServer(ctx context.Context, a *app, cfg config.Config) <-chan error {
	errCh := make(chan error, 1)
	if cfg.ServerPort == 0 {
		close(errCh)
		return errCh
	}
	srv := a.server(cfg)
	go func() {
		errCh <- srv.Start(ctx, cfg.ServerPort)
		close(errCh)
	}()
	return errCh
}

func (a *app) server(cfg config.Config) *server.Server {
	var bh http.Handler
	if a.bridge != nil {
		bh = a.bridge.Handler()
	}
	return server.NewServer(a.session, bh, cfg.NoticeDuration())
}

func runTUI(ctx context.Context, flags *globalFlags, args []string) error {
	cfg, _, err := loadConfig(flags, args)
	if err != nil {
		return err
	}

	logFile := cfg.LogFile
	if logFile == "" {
		if logFile, err = logger.DefaultPath(); err != nil {
			return err
		}
	}
	closer, err := logger.Setup(logger.Options{Level: cfg.LogLevel, File: logFile})
	if err != nil {
		return fmt.Errorf("setting up log file: %w", err)
	}
	defer func() { _ = closer.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := newApp(cfg)
	defer a.close()

	errCh := startServer(ctx, a, cfg)
	go func() {
		if err := <-errCh; err != nil {
			logger.For("main").Error("API server stopped", "err", err)
		}
	}()

	return tui.Start(ctx, a.session, tui.Options{
		BridgeURL:      a.bridgeURL,
		NoticeDuration: cfg.NoticeDuration(),
	}, Version)
}

func runServe(ctx context.Context, out io.Writer, flags *globalFlags, args []string) error {
	cfg, _, err := loadConfig(flags, args)
	if err != nil {
		return err
	}
	if cfg.ServerPort == 0 {
		return fmt.Errorf("serve needs a server_port")
	}

	closer, err := logger.Setup(logger.Options{Level: cfg.LogLevel, Writer: os.Stderr})
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	log := logger.For("main")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := newApp(cfg)
	defer a.close()

	errCh := startServer(ctx, a, cfg)
	fmt.Fprintf(out, "Running in server mode on port %d...\n", cfg.ServerPort)
	if a.bridgeURL != "" {
		fmt.Fprintf(out, "Open %s in a browser with MetaMask installed.\n", a.bridgeURL)
	}

	mountErr := make(chan error, 1)
	go func() { mountErr <- a.session.Mount(ctx) }()

	for {
		select {
		case err := <-mountErr:
			if err != nil {
				return err
			}
			snap := a.session.Snapshot()
			log.Info("session ready", "present", snap.Present, "metamask", snap.MetaMask, "connected", snap.State.Connected())
			mountErr = nil
		case err := <-errCh:
			return err
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		}
	}
}
