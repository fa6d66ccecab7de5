package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"walletsync/pkg/bridge"
	"walletsync/pkg/config"
	"walletsync/pkg/models"
	"walletsync/pkg/node"
	"walletsync/pkg/provider"
	"walletsync/pkg/utils"
)

var errCheckFailed = errors.New("check failed")

func newCheckCmd(flags *globalFlags) *cobra.Command {
	var jsonOut, wait bool
	cmd := &cobra.Command{
		Use:   "check [config]",
		Short: "Test configuration and provider connectivity, then exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report := runCheck(cmd.Context(), flags, args, wait)
			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				_ = enc.Encode(report)
			} else {
				printReport(out, report)
			}
			if !report.OK() {
				return errCheckFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output check results as JSON")
	cmd.Flags().BoolVar(&wait, "wait", false, "In bridge mode, serve the bridge page and wait for a browser")
	return cmd
}

func runCheck(ctx context.Context, flags *globalFlags, args []string, wait bool) models.CheckReport {
	var report models.CheckReport

	cfg, path, err := loadConfig(flags, args)
	report.ConfigPath = path
	report.Mode = cfg.Provider.Mode
	if path != "" {
		_, statErr := os.Stat(path)
		report.ConfigFound = statErr == nil
	}
	if err != nil {
		report.StructureErrors = append(report.StructureErrors, err.Error())
		return report
	}
	report.ValidStructure = true

	switch cfg.Provider.Mode {
	case config.ModeNode:
		report.Node = checkNode(ctx, cfg.Provider.RPCURL)
		if report.Node.Status == "ok" {
			report.Provider = checkProvider(ctx, node.Probe(cfg.Provider.RPCURL, cfg.PollInterval()), cfg.BalanceDecimals, report.Node.ChainID)
		}
	case config.ModeBridge:
		report.Bridge = &models.BridgeResult{URL: fmt.Sprintf("http://localhost:%d/bridge/", cfg.ServerPort)}
		if wait {
			report.Bridge.Waited = true
			report.Provider = checkBridge(ctx, cfg, report.Bridge)
		}
	}
	return report
}

// checkNode asks the endpoint for its chain id through ethclient.
func checkNode(ctx context.Context, url string) *models.NodeResult {
	res := &models.NodeResult{URL: url}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		res.Status = "error"
		res.Error = fmt.Sprintf("Failed to get ChainID: %v", err)
		return res
	}
	res.Status = "ok"
	res.ChainID = id.Int64()
	return res
}

// checkBridge serves the bridge page until a browser attaches or the detect
// timeout passes.
func checkBridge(ctx context.Context, cfg config.Config, res *models.BridgeResult) *models.ProviderResult {
	b := bridge.New()
	mux := http.NewServeMux()
	mux.Handle("/bridge/", http.StripPrefix("/bridge", b.Handler()))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ServerPort), Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	defer func() { _ = srv.Close() }()

	pr := checkProvider(ctx, b.Probe(cfg.DetectTimeout()), cfg.BalanceDecimals, -1)
	res.Attached = b.Attached()
	return pr
}

// checkProvider detects through probe and reads chain and accounts the way
// a session would. expectChainID < 0 skips the consistency comparison.
func checkProvider(ctx context.Context, probe provider.Probe, decimals int, expectChainID int64) *models.ProviderResult {
	res := &models.ProviderResult{Consistent: true}
	p, ok := provider.Detect(ctx, probe)
	if !ok {
		return res
	}
	if np, ok := p.(*node.Provider); ok {
		defer np.Close()
	}
	res.Present = true
	res.MetaMask = p.IsMetaMask()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	hexID, err := provider.ChainID(ctx, p)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.ChainIDHex = hexID
	if res.ChainID, err = utils.FormatChainAsNum(hexID); err != nil {
		res.Error = err.Error()
		return res
	}
	if expectChainID >= 0 && res.ChainID != uint64(expectChainID) {
		res.Consistent = false
	}

	accounts, err := provider.Accounts(ctx, p)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.AccountCount = len(accounts)
	if len(accounts) == 0 {
		return res
	}
	hexWei, err := provider.Balance(ctx, p, accounts[0])
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if res.Balance, err = utils.FormatBalanceDecimals(hexWei, decimals); err != nil {
		res.Error = err.Error()
	}
	return res
}

func printReport(w io.Writer, r models.CheckReport) {
	fmt.Fprintf(w, "Testing configuration at: %s\n", r.ConfigPath)
	if !r.ConfigFound {
		fmt.Fprintln(w, "  (file not found, using defaults)")
	}
	for _, e := range r.StructureErrors {
		fmt.Fprintf(w, "Error: %s\n", e)
	}
	if !r.ValidStructure {
		return
	}
	fmt.Fprintf(w, "Provider mode: %s\n", r.Mode)

	if n := r.Node; n != nil {
		fmt.Fprintf(w, "  RPC: %s ... ", n.URL)
		if n.Status == "ok" {
			fmt.Fprintf(w, "OK (ChainID: %d)\n", n.ChainID)
		} else {
			fmt.Fprintf(w, "Failed: %s\n", n.Error)
		}
	}
	if b := r.Bridge; b != nil {
		fmt.Fprintf(w, "  Bridge page: %s\n", b.URL)
		if b.Waited && !b.Attached {
			fmt.Fprintln(w, "  No browser attached before the detect timeout.")
		}
	}
	if p := r.Provider; p != nil {
		if !p.Present {
			fmt.Fprintln(w, "  Injected Provider DOES NOT Exist")
			return
		}
		fmt.Fprintf(w, "  Provider: present (MetaMask: %t)\n", p.MetaMask)
		if p.ChainIDHex != "" {
			fmt.Fprintf(w, "  Chain: %s (%d)", p.ChainIDHex, p.ChainID)
			if !p.Consistent {
				fmt.Fprint(w, " - MISMATCH with eth_chainId via ethclient")
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "  Authorized accounts: %d\n", p.AccountCount)
		if p.Balance != "" {
			fmt.Fprintf(w, "  Balance of first account: %s\n", p.Balance)
		}
		if p.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", p.Error)
		}
	}
}
