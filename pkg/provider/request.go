package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"walletsync/pkg/utils"
)

// Request is one RPC method with its parameters. Each variant below pairs
// with a typed helper that validates the response shape.
type Request interface {
	Method() string
	Params() []any
}

// AccountsRequest reads the accounts already exposed to this client. It never prompts.
type AccountsRequest struct{}

func (AccountsRequest) Method() string { return "eth_accounts" }
func (AccountsRequest) Params() []any { return nil }

// RequestAccountsRequest asks the wallet for account access and may prompt the user.
type RequestAccountsRequest struct{}

func (RequestAccountsRequest) Method() string { return "eth_requestAccounts" }
func (RequestAccountsRequest) Params() []any { return nil }

// BalanceRequest reads an account's native balance in wei.
type BalanceRequest struct {
	Address string
	Block   string // defaults to "latest"
}

func (BalanceRequest) Method() string { return "eth_getBalance" }
func (r BalanceRequest) Params() []any {
	block := r.Block
	if block == "" {
		block = "latest"
	}
	return []any{r.Address, block}
}

// ChainIDRequest reads the active chain id.
type ChainIDRequest struct{}

func (ChainIDRequest) Method() string { return "eth_chainId" }
func (ChainIDRequest) Params() []any { return nil }

// RevokePermissionsRequest drops the eth_accounts permission where the
// wallet supports it (MetaMask does, nodes do not).
type RevokePermissionsRequest struct{}

func (RevokePermissionsRequest) Method() string { return "wallet_revokePermissions" }
func (RevokePermissionsRequest) Params() []any {
	return []any{map[string]any{"eth_accounts": map[string]any{}}}
}

// Accounts performs eth_accounts.
func Accounts(ctx context.Context, p Provider) ([]string, error) {
	return requestAddresses(ctx, p, AccountsRequest{})
}

// RequestAccounts performs eth_requestAccounts.
func RequestAccounts(ctx context.Context, p Provider) ([]string, error) {
	return requestAddresses(ctx, p, RequestAccountsRequest{})
}

// Balance performs eth_getBalance at the latest block and returns hex wei.
func Balance(ctx context.Context, p Provider, address string) (string, error) {
	return requestQuantity(ctx, p, BalanceRequest{Address: address})
}

// ChainID performs eth_chainId and returns the hex id.
func ChainID(ctx context.Context, p Provider) (string, error) {
	return requestQuantity(ctx, p, ChainIDRequest{})
}

// RevokePermissions performs wallet_revokePermissions. The result is ignored.
func RevokePermissions(ctx context.Context, p Provider) error {
	_, err := p.Request(ctx, RevokePermissionsRequest{})
	return err
}

// DecodeAccounts validates an address list payload.
func DecodeAccounts(method string, raw json.RawMessage) ([]string, error) {
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, malformed(method, "want address list, got %s", truncate(raw))
	}
	for _, a := range accounts {
		if !(strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X")) || !common.IsHexAddress(a) {
			return nil, malformed(method, "invalid address %q", a)
		}
	}
	if accounts == nil {
		accounts = []string{}
	}
	return accounts, nil
}

// DecodeQuantity validates a 0x-prefixed hex quantity payload.
func DecodeQuantity(method string, raw json.RawMessage) (string, error) {
	var q string
	if err := json.Unmarshal(raw, &q); err != nil {
		return "", malformed(method, "want hex string, got %s", truncate(raw))
	}
	if !utils.IsHexQuantity(q) {
		return "", malformed(method, "invalid hex quantity %q", q)
	}
	return q, nil
}

// OnAccountsChanged subscribes fn to validated accountsChanged payloads.
// Malformed payloads go to onErr, if given, and are otherwise dropped.
func OnAccountsChanged(p Provider, fn func([]string), onErr func(error)) func() {
	return p.On(EventAccountsChanged, func(raw json.RawMessage) {
		accounts, err := DecodeAccounts(string(EventAccountsChanged), raw)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(accounts)
	})
}

// OnChainChanged subscribes fn to validated chainChanged payloads.
func OnChainChanged(p Provider, fn func(string), onErr func(error)) func() {
	return p.On(EventChainChanged, func(raw json.RawMessage) {
		chainID, err := DecodeQuantity(string(EventChainChanged), raw)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(chainID)
	})
}

func requestAddresses(ctx context.Context, p Provider, req Request) ([]string, error) {
	raw, err := p.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return DecodeAccounts(req.Method(), raw)
}

func requestQuantity(ctx context.Context, p Provider, req Request) (string, error) {
	raw, err := p.Request(ctx, req)
	if err != nil {
		return "", err
	}
	return DecodeQuantity(req.Method(), raw)
}

func truncate(raw json.RawMessage) string {
	return utils.TruncateString(string(raw), 64)
}
