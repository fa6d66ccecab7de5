package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletsync/pkg/config"
	"walletsync/pkg/models"
	"walletsync/pkg/provider"
	"walletsync/pkg/session"
)

const alice = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"

// newRPCServer answers the handful of JSON-RPC methods the check command uses.
func newRPCServer(t *testing.T, chainID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var result any
		switch req.Method {
		case "eth_chainId":
			result = chainID
		case "eth_accounts":
			result = []string{alice}
		case "eth_getBalance":
			result = "0x1bc16d674ec80000"
		default:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "walletsync version dev\n", out)
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	cfg := config.Default()
	cfg.ServerPort = 9000
	require.NoError(t, config.SaveConfig(cfg, path))

	tests := []struct {
		name     string
		flags    globalFlags
		args     []string
		wantMode string
		wantPort int
		wantErr  bool
	}{
		{name: "file values", flags: globalFlags{configPath: path}, wantMode: config.ModeBridge, wantPort: 9000},
		{name: "positional path", args: []string{path}, wantMode: config.ModeBridge, wantPort: 9000},
		{name: "port flag", flags: globalFlags{configPath: path, port: 9100}, wantMode: config.ModeBridge, wantPort: 9100},
		{name: "rpc implies node", flags: globalFlags{configPath: path, rpcURL: "http://127.0.0.1:8545"}, wantMode: config.ModeNode, wantPort: 9000},
		{name: "node without rpc", flags: globalFlags{configPath: path, mode: config.ModeNode}, wantErr: true},
		{name: "bad log level", flags: globalFlags{configPath: path, logLevel: "loud"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gotPath, err := loadConfig(&tt.flags, tt.args)
			assert.Equal(t, path, gotPath)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, got.Provider.Mode)
			assert.Equal(t, tt.wantPort, got.ServerPort)
		})
	}
}

func TestCheckCommand_Node(t *testing.T) {
	srv := newRPCServer(t, "0x89")
	path := filepath.Join(t.TempDir(), "missing.json")

	out, err := execute(t, "check", "--json", "--config", path, "--rpc", srv.URL)
	require.NoError(t, err)

	var report models.CheckReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.ConfigFound)
	assert.True(t, report.ValidStructure)
	assert.Equal(t, config.ModeNode, report.Mode)
	require.NotNil(t, report.Node)
	assert.Equal(t, "ok", report.Node.Status)
	assert.Equal(t, int64(137), report.Node.ChainID)
	require.NotNil(t, report.Provider)
	assert.True(t, report.Provider.Present)
	assert.False(t, report.Provider.MetaMask)
	assert.Equal(t, "0x89", report.Provider.ChainIDHex)
	assert.Equal(t, uint64(137), report.Provider.ChainID)
	assert.True(t, report.Provider.Consistent)
	assert.Equal(t, 1, report.Provider.AccountCount)
	assert.Equal(t, "2.0000", report.Provider.Balance)
	assert.True(t, report.OK())
}

func TestCheckCommand_TextOutput(t *testing.T) {
	srv := newRPCServer(t, "0x1")
	path := filepath.Join(t.TempDir(), "missing.json")

	out, err := execute(t, "check", "--config", path, "--rpc", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Testing configuration at: "+path)
	assert.Contains(t, out, "OK (ChainID: 1)")
	assert.Contains(t, out, "Chain: 0x1 (1)")
	assert.Contains(t, out, "Authorized accounts: 1")
}

func TestCheckCommand_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"provider":{"mode":"carrier-pigeon"}}`), 0600))

	out, err := execute(t, "check", "--json", "--config", path)
	assert.ErrorIs(t, err, errCheckFailed)

	var report models.CheckReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.ConfigFound)
	assert.False(t, report.ValidStructure)
	assert.NotEmpty(t, report.StructureErrors)
}

func TestCheckCommand_NodeUnreachable(t *testing.T) {
	srv := newRPCServer(t, "0x1")
	url := srv.URL
	srv.Close()

	out, err := execute(t, "check", "--json", "--config", filepath.Join(t.TempDir(), "x.json"), "--rpc", url)
	assert.ErrorIs(t, err, errCheckFailed)

	var report models.CheckReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.NotNil(t, report.Node)
	assert.Equal(t, "error", report.Node.Status)
	assert.Nil(t, report.Provider)
}

func TestCheckReport_OK(t *testing.T) {
	tests := []struct {
		name   string
		report models.CheckReport
		want   bool
	}{
		{"invalid structure", models.CheckReport{}, false},
		{"bridge not waited", models.CheckReport{ValidStructure: true, Bridge: &models.BridgeResult{}}, true},
		{"bridge waited no browser", models.CheckReport{ValidStructure: true, Bridge: &models.BridgeResult{Waited: true}}, false},
		{"bridge tab without wallet", models.CheckReport{ValidStructure: true, Bridge: &models.BridgeResult{Waited: true, Attached: true}, Provider: &models.ProviderResult{Consistent: true}}, false},
		{"bridge tab with wallet", models.CheckReport{ValidStructure: true, Bridge: &models.BridgeResult{Waited: true, Attached: true}, Provider: &models.ProviderResult{Present: true, MetaMask: true, Consistent: true}}, true},
		{"chain mismatch", models.CheckReport{ValidStructure: true, Provider: &models.ProviderResult{Present: true}}, false},
		{"provider error", models.CheckReport{ValidStructure: true, Provider: &models.ProviderResult{Consistent: true, Error: "boom"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.OK())
		})
	}
}

func TestConfigInitAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")

	out, err := execute(t, "config", "init", "--config", path, "--port", "9000")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration saved to "+path)

	cfg, err := config.LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.ServerPort)
	assert.Equal(t, config.ModeBridge, cfg.Provider.Mode)

	_, err = execute(t, "config", "init", "--config", path, "--port", "9100")
	assert.ErrorIs(t, err, errConfigExists)

	_, err = execute(t, "config", "init", "--config", path, "--port", "9100", "--force")
	require.NoError(t, err)
	cfg, err = config.LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.ServerPort)

	out, err = execute(t, "config", "restore", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Restored last backup")
	cfg, err = config.LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.ServerPort)
}

func TestConfigInit_RejectsInvalidOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	_, err := execute(t, "config", "init", "--config", path, "--mode", "node")
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestConfigRestore_NoBackup(t *testing.T) {
	_, err := execute(t, "config", "restore", "--config", filepath.Join(t.TempDir(), "cfg.json"))
	assert.Error(t, err)
}

func TestApp_ProbeAfterCloseClosesNode(t *testing.T) {
	srv := newRPCServer(t, "0x1")
	cfg := config.Default()
	cfg.Provider.Mode = config.ModeNode
	cfg.Provider.RPCURL = srv.URL

	a := newApp(cfg)
	a.close()

	p, err := a.probe(context.Background())
	assert.ErrorIs(t, err, session.ErrClosed)
	assert.Nil(t, p)
	a.mu.Lock()
	assert.Nil(t, a.node)
	a.mu.Unlock()
}

func TestApp_CloseClosesDialedNode(t *testing.T) {
	srv := newRPCServer(t, "0x1")
	cfg := config.Default()
	cfg.Provider.Mode = config.ModeNode
	cfg.Provider.RPCURL = srv.URL

	a := newApp(cfg)
	require.NoError(t, a.session.Mount(context.Background()))
	require.True(t, a.session.Snapshot().Present)
	a.mu.Lock()
	require.NotNil(t, a.node)
	a.mu.Unlock()

	a.close()
	_, err := provider.ChainID(context.Background(), a.node)
	assert.Error(t, err)
}
