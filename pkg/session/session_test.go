package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"walletsync/pkg/provider"
	"walletsync/pkg/provider/providertest"
	"walletsync/pkg/wallet"
)

const (
	alice  = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
	bob    = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	oneEth = "0xde0b6b3a7640000"
)

func newFake() *providertest.Fake {
	fake := providertest.New()
	fake.Answer("eth_chainId", "0x1")
	fake.Answer("eth_getBalance", oneEth)
	return fake
}

func mount(t *testing.T, fake *providertest.Fake, opts Options) *Session {
	t.Helper()
	opts.Probe = provider.Static(fake)
	s := New(opts)
	t.Cleanup(s.Close)
	require.NoError(t, s.Mount(context.Background()))
	return s
}

func flush(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.flush(ctx))
}

func TestMount_NoProvider(t *testing.T) {
	s := New(Options{Probe: func(context.Context) (provider.Provider, error) {
		return nil, errors.New("no window.ethereum")
	}})
	defer s.Close()

	require.NoError(t, s.Mount(context.Background()))
	snap := s.Snapshot()
	assert.True(t, snap.Mounted)
	assert.False(t, snap.Present)
	assert.False(t, snap.CanConnect)

	_, err := s.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestMount_CloseDuringDetect(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{alice})
	entered := make(chan struct{})
	release := make(chan struct{})
	s := New(Options{Probe: func(context.Context) (provider.Provider, error) {
		close(entered)
		<-release
		return fake, nil
	}})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Mount(context.Background()) }()
	<-entered
	s.Close()
	close(release)

	assert.ErrorIs(t, <-errCh, ErrClosed)
	assert.Zero(t, fake.HandlerCount(provider.EventAccountsChanged))
	assert.Zero(t, fake.HandlerCount(provider.EventChainChanged))
	assert.False(t, s.Snapshot().Present)
	fake.Mock.AssertNumberOfCalls(t, "eth_chainId", 0)
}

func TestMount_CloseDuringLoad(t *testing.T) {
	fake := providertest.New()
	entered := make(chan struct{})
	release := make(chan struct{})
	fake.Answer("eth_chainId", "0x1").Run(func(mock.Arguments) {
		close(entered)
		<-release
	})
	fake.Answer("eth_accounts", []string{alice})
	fake.Answer("eth_getBalance", oneEth)
	s := New(Options{Probe: provider.Static(fake)})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Mount(context.Background()) }()
	<-entered
	s.Close()
	close(release)

	assert.ErrorIs(t, <-errCh, ErrClosed)
	assert.Zero(t, fake.HandlerCount(provider.EventAccountsChanged))
	assert.Zero(t, fake.HandlerCount(provider.EventChainChanged))
	assert.False(t, s.Snapshot().State.Connected())
}

func TestMount_Twice(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{})
	s := mount(t, fake, Options{})

	assert.ErrorIs(t, s.Mount(context.Background()), ErrAlreadyMounted)
}

func TestMount_LoadsExistingGrant(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{alice})
	s := mount(t, fake, Options{})

	snap := s.Snapshot()
	assert.True(t, snap.Present)
	assert.True(t, snap.MetaMask)
	assert.True(t, snap.CanConnect)
	assert.Equal(t, []string{alice}, snap.State.Accounts)
	assert.Equal(t, "1.0000", snap.State.Balance)
	assert.Equal(t, "0x1", snap.State.ChainID)
	assert.Equal(t, 1, fake.HandlerCount(provider.EventAccountsChanged))
	assert.Equal(t, 1, fake.HandlerCount(provider.EventChainChanged))
}

func TestMount_NoGrantKeepsChainOnly(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{})
	s := mount(t, fake, Options{})

	snap := s.Snapshot()
	assert.False(t, snap.State.Connected())
	assert.Equal(t, "0x1", snap.State.ChainID)
	fake.Mock.AssertNumberOfCalls(t, "eth_getBalance", 0)
}

func TestCanConnect_NonMetaMask(t *testing.T) {
	tests := []struct {
		name  string
		allow bool
		want  bool
	}{
		{"gated", false, false},
		{"allowed", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake()
			fake.MetaMask = false
			fake.Answer("eth_accounts", []string{})
			s := mount(t, fake, Options{AllowNonMetaMask: tt.allow})

			snap := s.Snapshot()
			assert.True(t, snap.Present)
			assert.False(t, snap.MetaMask)
			assert.Equal(t, tt.want, snap.CanConnect)
		})
	}
}

func TestConnect(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{})
	fake.Answer("eth_requestAccounts", []string{alice, bob})
	s := mount(t, fake, Options{BalanceDecimals: 2})
	sub := s.Subscribe()

	accounts, err := s.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{alice, bob}, accounts)

	state := s.Snapshot().State
	assert.Equal(t, alice, state.ActiveAccount())
	assert.Equal(t, "1.00", state.Balance)
	assert.Equal(t, "0x1", state.ChainID)
	assert.False(t, s.Snapshot().Busy)

	var types []EventType
	for len(sub) > 0 {
		types = append(types, (<-sub).Type)
	}
	assert.Equal(t, []EventType{EventBusy, EventStateChanged, EventBusy}, types)
}

func TestConnect_Rejected(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{})
	fake.Fail("eth_requestAccounts", &provider.RPCError{Code: provider.CodeUserRejected, Message: "User rejected the request."})
	s := mount(t, fake, Options{})
	before := s.Snapshot().State
	sub := s.Subscribe()

	_, err := s.Connect(context.Background())
	assert.ErrorIs(t, err, provider.ErrUserRejected)
	assert.Equal(t, before, s.Snapshot().State)

	var notices []Notice
	for len(sub) > 0 {
		if ev := <-sub; ev.Type == EventNotice {
			notices = append(notices, ev.Data.(Notice))
		}
	}
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeError, notices[0].Level)
	assert.Contains(t, notices[0].Message, "rejected")
}

func TestConnect_MalformedBalance(t *testing.T) {
	fake := providertest.New()
	fake.Answer("eth_chainId", "0x1")
	fake.Answer("eth_accounts", []string{})
	fake.Answer("eth_requestAccounts", []string{alice})
	fake.Answer("eth_getBalance", "lots")
	s := mount(t, fake, Options{})

	_, err := s.Connect(context.Background())
	assert.ErrorIs(t, err, provider.ErrMalformedResponse)
	assert.False(t, s.Snapshot().State.Connected())
}

func TestDisconnect(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{alice})
	s := mount(t, fake, Options{})
	require.True(t, s.Snapshot().State.Connected())

	require.NoError(t, s.Disconnect(context.Background()))
	state := s.Snapshot().State
	assert.Empty(t, state.Accounts)
	assert.Empty(t, state.Balance)
	assert.Empty(t, state.ChainID)
	fake.Mock.AssertNumberOfCalls(t, "wallet_revokePermissions", 0)
}

func TestDisconnect_RevokeFailureIsIgnored(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{alice})
	fake.Fail("wallet_revokePermissions", &provider.RPCError{Code: provider.CodeMethodNotFound, Message: "method not found"})
	s := mount(t, fake, Options{RevokeOnDisconnect: true})

	require.NoError(t, s.Disconnect(context.Background()))
	assert.False(t, s.Snapshot().State.Connected())
	fake.Mock.AssertNumberOfCalls(t, "wallet_revokePermissions", 1)
}

func TestToggle(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{})
	fake.Answer("eth_requestAccounts", []string{alice})
	s := mount(t, fake, Options{})

	require.NoError(t, s.Toggle(context.Background()))
	assert.True(t, s.Snapshot().State.Connected())
	require.NoError(t, s.Toggle(context.Background()))
	assert.False(t, s.Snapshot().State.Connected())
}

func TestAccountsChanged(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{alice})
	s := mount(t, fake, Options{})

	fake.EmitJSON(provider.EventAccountsChanged, []string{bob})
	flush(t, s)
	assert.Equal(t, bob, s.Snapshot().State.ActiveAccount())
	assert.Equal(t, "1.0000", s.Snapshot().State.Balance)

	fake.EmitJSON(provider.EventAccountsChanged, []string{})
	flush(t, s)
	state := s.Snapshot().State
	assert.False(t, state.Connected())
	assert.Empty(t, state.Balance)
	assert.Empty(t, state.ChainID)
}

func TestAccountsChanged_MalformedIsDropped(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{alice})
	s := mount(t, fake, Options{})

	fake.EmitJSON(provider.EventAccountsChanged, []string{"not-an-address"})
	flush(t, s)
	assert.Equal(t, alice, s.Snapshot().State.ActiveAccount())
}

func TestChainChanged_PatchesChainOnly(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{alice})
	s := mount(t, fake, Options{})
	before := s.Snapshot().State

	fake.EmitJSON(provider.EventChainChanged, "0x89")
	flush(t, s)

	after := s.Snapshot().State
	assert.Equal(t, "0x89", after.ChainID)
	assert.Equal(t, before.Accounts, after.Accounts)
	assert.Equal(t, before.Balance, after.Balance)
	fake.Mock.AssertNumberOfCalls(t, "eth_getBalance", 1)
}

func TestClose_IgnoresLaterEvents(t *testing.T) {
	fake := newFake()
	fake.Answer("eth_accounts", []string{alice})
	s := mount(t, fake, Options{})
	before := s.Snapshot().State

	s.Close()
	assert.Zero(t, fake.HandlerCount(provider.EventAccountsChanged))
	assert.Zero(t, fake.HandlerCount(provider.EventChainChanged))

	fake.EmitJSON(provider.EventChainChanged, "0x89")
	fake.EmitJSON(provider.EventAccountsChanged, []string{})
	s.apply(wallet.Disconnected())
	assert.Equal(t, before, s.Snapshot().State)

	_, err := s.Connect(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Mount(context.Background()), ErrClosed)
	s.Close()
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s := New(Options{Probe: provider.Static(newFake())})
	sub := s.Subscribe()
	s.Unsubscribe(sub)
	_, ok := <-sub
	assert.False(t, ok)
}
