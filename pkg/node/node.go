// Package node implements a wallet provider on top of a JSON-RPC endpoint
// (geth --dev, anvil, hardhat, or any node that manages accounts).
//
// A node has no push channel for account or chain switches, so the provider
// polls eth_accounts and eth_chainId and emits accountsChanged/chainChanged
// when either differs from the previous poll.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ethereum/go-ethereum/rpc"

	"walletsync/pkg/logger"
	"walletsync/pkg/provider"
)

var DefaultPollInterval = 4 * time.Second

// Provider is a provider.Provider backed by a go-ethereum RPC client.
type Provider struct {
	provider.Emitter

	client   *rpc.Client
	url      string
	interval time.Duration
	log      *log.Logger

	mu       sync.Mutex
	primed   bool
	accounts []string
	chainID  string

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

var _ provider.Provider = (*Provider)(nil)

// Dial connects to url. For HTTP endpoints no traffic is sent until the first request.
func Dial(ctx context.Context, url string, pollInterval time.Duration) (*Provider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Provider{
		client:   client,
		url:      url,
		interval: pollInterval,
		log:      logger.For("node"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Probe dials url and confirms the endpoint answers eth_chainId.
func Probe(url string, pollInterval time.Duration) provider.Probe {
	return func(ctx context.Context) (provider.Provider, error) {
		p, err := Dial(ctx, url, pollInterval)
		if err != nil {
			return nil, err
		}
		if _, err := provider.ChainID(ctx, p); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	}
}

// URL returns the endpoint this provider talks to.
func (p *Provider) URL() string {
	return p.url
}

func (p *Provider) IsMetaMask() bool {
	return false
}

// Request forwards req to the node. eth_requestAccounts falls back to
// eth_accounts on nodes that do not implement it.
func (p *Provider) Request(ctx context.Context, req provider.Request) (json.RawMessage, error) {
	raw, err := p.call(ctx, req)
	if err != nil && req.Method() == (provider.RequestAccountsRequest{}).Method() && provider.IsMethodNotFound(err) {
		p.log.Debug("eth_requestAccounts unsupported, using eth_accounts", "url", p.url)
		return p.call(ctx, provider.AccountsRequest{})
	}
	return raw, err
}

func (p *Provider) call(ctx context.Context, req provider.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := p.client.CallContext(ctx, &raw, req.Method(), req.Params()...); err != nil {
		return nil, convertError(err)
	}
	return raw, nil
}

// Start begins change polling. It returns immediately; Close stops the loop.
func (p *Provider) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go p.pollingLoop(ctx)
	})
}

// Close stops polling and releases the connection.
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
		started := true
		p.startOnce.Do(func() { started = false })
		if started {
			<-p.done
		}
		p.client.Close()
	})
}

func (p *Provider) pollingLoop(ctx context.Context) {
	defer close(p.done)

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.poll(ctx)
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// poll reads accounts and chain and emits an event for each that changed.
// The first successful poll only records a baseline.
func (p *Provider) poll(ctx context.Context) {
	accounts, accErr := provider.Accounts(ctx, p)
	chainID, chainErr := provider.ChainID(ctx, p)
	if accErr != nil {
		p.log.Warn("poll eth_accounts failed", "url", p.url, "err", accErr)
	}
	if chainErr != nil {
		p.log.Warn("poll eth_chainId failed", "url", p.url, "err", chainErr)
	}

	p.mu.Lock()
	primed := p.primed
	accountsChanged := accErr == nil && (!primed || !slices.Equal(accounts, p.accounts))
	chainChanged := chainErr == nil && (!primed || chainID != p.chainID)
	if accErr == nil {
		p.accounts = accounts
	}
	if chainErr == nil {
		p.chainID = chainID
	}
	if accErr == nil && chainErr == nil {
		p.primed = true
	}
	p.mu.Unlock()

	if !primed {
		return
	}
	if chainChanged {
		p.log.Info("chain changed", "chainId", chainID)
		p.Emit(provider.EventChainChanged, mustJSON(chainID))
	}
	if accountsChanged {
		p.log.Info("accounts changed", "count", len(accounts))
		p.Emit(provider.EventAccountsChanged, mustJSON(accounts))
	}
}

func convertError(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &provider.RPCError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return err
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
