// Package session owns the wallet state mirror for one UI lifetime: it
// detects the provider, performs connect/disconnect, and applies provider
// events through wallet.Reduce one at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"walletsync/pkg/logger"
	"walletsync/pkg/provider"
	"walletsync/pkg/utils"
	"walletsync/pkg/wallet"
)

var (
	ErrAlreadyMounted = errors.New("session already mounted")
	ErrNoProvider     = errors.New("no wallet provider detected")
	ErrClosed         = errors.New("session closed")
)

const eventQueueSize = 64

// Options configures a Session.
type Options struct {
	Probe              provider.Probe
	BalanceDecimals    int
	RevokeOnDisconnect bool
	AllowNonMetaMask   bool
}

// Snapshot is a consistent copy of everything the view renders.
type Snapshot struct {
	Mounted    bool         `json:"mounted"`
	Present    bool         `json:"present"`
	MetaMask   bool         `json:"metamask"`
	CanConnect bool         `json:"canConnect"`
	Busy       bool         `json:"busy"`
	State      wallet.State `json:"state"`
}

// Session is the controller between a provider and a view.
type Session struct {
	opts Options
	log  *log.Logger

	// opMu serializes user actions and provider events so each runs to
	// completion, provider round trips included, before the next begins.
	opMu sync.Mutex

	mu          sync.RWMutex
	mounted     bool
	closed      bool
	busy        bool
	present     bool
	prov        provider.Provider
	state       wallet.State
	unsubs      []func()
	subscribers []Subscriber

	ctx    context.Context
	cancel context.CancelFunc
	events chan func(context.Context)
	stop   chan struct{}
}

// New creates an unmounted session.
func New(opts Options) *Session {
	if opts.BalanceDecimals <= 0 {
		opts.BalanceDecimals = utils.DefaultBalanceDecimals
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:   opts,
		log:    logger.For("session"),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan func(context.Context), eventQueueSize),
		stop:   make(chan struct{}),
	}
}

// Subscribe adds a new subscriber and returns a channel to receive events.
func (s *Session) Subscribe() Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(Subscriber, 100)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber.
func (s *Session) Unsubscribe(ch Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (s *Session) notify(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers {
		select {
		case sub <- event:
		default:
			s.log.Warn("subscriber is slow, dropping event", "type", event.Type)
		}
	}
}

func (s *Session) notice(level, format string, args ...any) {
	s.notify(Event{Type: EventNotice, Data: Notice{Level: level, Message: fmt.Sprintf(format, args...)}})
}

// Snapshot returns the current view-relevant state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	metaMask := s.present && s.prov.IsMetaMask()
	return Snapshot{
		Mounted:    s.mounted,
		Present:    s.present,
		MetaMask:   metaMask,
		CanConnect: s.present && (metaMask || s.opts.AllowNonMetaMask),
		Busy:       s.busy,
		State:      s.state.Clone(),
	}
}

// Mount detects the provider, loads the current accounts and chain, and
// subscribes to provider events. It may only be called once.
func (s *Session) Mount(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.mounted:
		s.mu.Unlock()
		return ErrAlreadyMounted
	}
	s.mounted = true
	s.mu.Unlock()

	ctx, done := s.scoped(ctx)
	defer done()

	p, ok := provider.Detect(ctx, s.opts.Probe)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.present = ok
	s.prov = p
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(Event{Type: EventDetected, Data: snap})
	s.log.Info("mounted", "present", ok, "metamask", snap.MetaMask)

	if !ok {
		return nil
	}

	go s.run()

	s.load(ctx, p)

	unsubAccounts := provider.OnAccountsChanged(p, s.onAccountsChanged, s.onPayloadError)
	unsubChain := provider.OnChainChanged(p, s.onChainChanged, s.onPayloadError)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubAccounts()
		unsubChain()
		return ErrClosed
	}
	s.unsubs = append(s.unsubs, unsubAccounts, unsubChain)
	s.mu.Unlock()

	if st, ok := p.(provider.Starter); ok {
		st.Start(s.ctx)
	}
	return nil
}

// load reads the state the wallet already exposes without prompting.
func (s *Session) load(ctx context.Context, p provider.Provider) {
	chainID, err := provider.ChainID(ctx, p)
	if err != nil {
		s.log.Error("initial eth_chainId failed", "err", err)
		s.notice(NoticeError, "Could not read chain: %v", err)
	} else {
		s.apply(wallet.ChainFetched(chainID))
	}

	accounts, err := provider.Accounts(ctx, p)
	if err != nil {
		s.log.Error("initial eth_accounts failed", "err", err)
		s.notice(NoticeError, "Could not read accounts: %v", err)
		return
	}
	if len(accounts) == 0 {
		return
	}
	action, err := s.derive(ctx, p, accounts)
	if err != nil {
		s.log.Error("initial wallet state fetch failed", "err", err)
		s.notice(NoticeError, "Could not read wallet state: %v", err)
		return
	}
	s.apply(action)
}

// Connect requests account access. A rejection leaves state unchanged and
// is reported both as the returned error and as a notice.
func (s *Session) Connect(ctx context.Context) ([]string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	p, err := s.live()
	if err != nil {
		return nil, err
	}

	ctx, done := s.scoped(ctx)
	defer done()

	s.setBusy(true)
	defer s.setBusy(false)

	accounts, err := provider.RequestAccounts(ctx, p)
	if err != nil {
		if errors.Is(err, provider.ErrUserRejected) {
			s.log.Info("account request rejected by user")
			s.notice(NoticeError, "Connection request was rejected in the wallet")
		} else {
			s.log.Error("eth_requestAccounts failed", "err", err)
			s.notice(NoticeError, "Connect failed: %v", err)
		}
		return nil, err
	}
	if len(accounts) == 0 {
		s.apply(wallet.Disconnected())
		return accounts, nil
	}

	action, err := s.derive(ctx, p, accounts)
	if err != nil {
		s.log.Error("wallet state fetch after connect failed", "err", err)
		s.notice(NoticeError, "Connected, but could not read wallet state: %v", err)
		return nil, err
	}
	s.apply(action)
	s.log.Info("connected", "account", accounts[0], "chainId", action.ChainID)
	return accounts, nil
}

// Disconnect clears the local mirror. The wallet keeps its permission grant
// unless RevokeOnDisconnect is set, in which case a revoke is attempted and
// any failure is only logged.
func (s *Session) Disconnect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	closed, p := s.closed, s.prov
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	s.apply(wallet.Disconnected())
	s.log.Info("disconnected locally")

	if s.opts.RevokeOnDisconnect && p != nil {
		ctx, done := s.scoped(ctx)
		defer done()
		if err := provider.RevokePermissions(ctx, p); err != nil {
			s.log.Warn("wallet_revokePermissions failed", "err", err)
		}
	}
	return nil
}

// Toggle connects when disconnected and disconnects when connected.
func (s *Session) Toggle(ctx context.Context) error {
	if s.Snapshot().State.Connected() {
		return s.Disconnect(ctx)
	}
	_, err := s.Connect(ctx)
	return err
}

// Close unsubscribes from the provider and stops event processing. Events
// that arrive afterwards are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	s.cancel()
	close(s.stop)
	s.log.Info("closed")
}

func (s *Session) onAccountsChanged(accounts []string) {
	s.enqueue(func(ctx context.Context) {
		if len(accounts) == 0 {
			s.apply(wallet.Disconnected())
			s.log.Info("wallet reported no accounts")
			return
		}
		s.mu.RLock()
		p := s.prov
		s.mu.RUnlock()
		action, err := s.derive(ctx, p, accounts)
		if err != nil {
			s.log.Error("wallet state fetch after accountsChanged failed", "err", err)
			s.notice(NoticeError, "Could not refresh wallet state: %v", err)
			return
		}
		s.apply(action)
	})
}

// onChainChanged patches the chain id only. The balance shown is the one
// read on the previous chain until the next account change or reconnect.
func (s *Session) onChainChanged(chainID string) {
	s.enqueue(func(context.Context) {
		s.apply(wallet.ChainChanged(chainID))
	})
}

func (s *Session) onPayloadError(err error) {
	s.log.Error("dropping malformed provider event", "err", err)
}

// enqueue hands fn to the worker without blocking the provider's delivery goroutine.
func (s *Session) enqueue(fn func(context.Context)) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	select {
	case s.events <- fn:
	default:
		s.log.Warn("event queue full, dropping provider event")
	}
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.events:
			s.opMu.Lock()
			fn(s.ctx)
			s.opMu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// derive reads balance and chain for accounts and builds the full replacement.
func (s *Session) derive(ctx context.Context, p provider.Provider, accounts []string) (wallet.Action, error) {
	hexWei, err := provider.Balance(ctx, p, accounts[0])
	if err != nil {
		return wallet.Action{}, err
	}
	balance, err := utils.FormatBalanceDecimals(hexWei, s.opts.BalanceDecimals)
	if err != nil {
		return wallet.Action{}, err
	}
	chainID, err := provider.ChainID(ctx, p)
	if err != nil {
		return wallet.Action{}, err
	}
	return wallet.Connected(accounts, balance, chainID), nil
}

// apply runs the reducer and publishes the result. It is a no-op after Close.
func (s *Session) apply(a wallet.Action) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = wallet.Reduce(s.state, a)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Debug("state applied", "action", a.Kind, "connected", snap.State.Connected(), "chainId", snap.State.ChainID)
	s.notify(Event{Type: EventStateChanged, Data: snap})
}

func (s *Session) setBusy(busy bool) {
	s.mu.Lock()
	s.busy = busy
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(Event{Type: EventBusy, Data: snap})
}

func (s *Session) live() (provider.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.closed:
		return nil, ErrClosed
	case !s.present:
		return nil, ErrNoProvider
	}
	return s.prov, nil
}

// scoped derives a context that is also cancelled when the session closes.
func (s *Session) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
