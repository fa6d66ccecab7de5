// Package wallet holds the local mirror of wallet state and the pure
// transition function that every update goes through.
package wallet

import (
	"walletsync/pkg/utils"
)

// State is the locally known view of the wallet. Accounts keep the order the
// provider returned them in; an empty list means disconnected.
type State struct {
	Accounts []string `json:"accounts"`
	Balance  string   `json:"balance"`
	ChainID  string   `json:"chainId"`
}

// Connected reports whether at least one account is known.
func (s State) Connected() bool {
	return len(s.Accounts) > 0
}

// ActiveAccount returns the selected account, or "" when disconnected.
func (s State) ActiveAccount() string {
	if len(s.Accounts) == 0 {
		return ""
	}
	return s.Accounts[0]
}

// ChainNumber returns the decimal chain id.
func (s State) ChainNumber() (uint64, error) {
	return utils.FormatChainAsNum(s.ChainID)
}

// Clone returns a copy that shares no memory with s.
func (s State) Clone() State {
	c := s
	if s.Accounts != nil {
		c.Accounts = append([]string(nil), s.Accounts...)
	}
	return c
}

// ActionKind identifies a state transition.
type ActionKind int

const (
	// ActionConnected replaces the whole state after a connect or a non-empty accountsChanged.
	ActionConnected ActionKind = iota + 1
	// ActionDisconnected clears the local mirror.
	ActionDisconnected
	// ActionChainChanged patches the chain id only. Balance is left as is.
	ActionChainChanged
	// ActionChainFetched records the chain read at mount time.
	ActionChainFetched
)

func (k ActionKind) String() string {
	switch k {
	case ActionConnected:
		return "connected"
	case ActionDisconnected:
		return "disconnected"
	case ActionChainChanged:
		return "chain_changed"
	case ActionChainFetched:
		return "chain_fetched"
	default:
		return "unknown"
	}
}

// Action is one input to Reduce.
type Action struct {
	Kind     ActionKind
	Accounts []string
	Balance  string
	ChainID  string
}

// Connected builds an ActionConnected.
func Connected(accounts []string, balance, chainID string) Action {
	return Action{Kind: ActionConnected, Accounts: accounts, Balance: balance, ChainID: chainID}
}

// Disconnected builds an ActionDisconnected.
func Disconnected() Action {
	return Action{Kind: ActionDisconnected}
}

// ChainChanged builds an ActionChainChanged.
func ChainChanged(chainID string) Action {
	return Action{Kind: ActionChainChanged, ChainID: chainID}
}

// ChainFetched builds an ActionChainFetched.
func ChainFetched(chainID string) Action {
	return Action{Kind: ActionChainFetched, ChainID: chainID}
}

// Reduce derives the next state from prev. It never mutates prev and never
// reads anything but its arguments.
func Reduce(prev State, a Action) State {
	switch a.Kind {
	case ActionConnected:
		if len(a.Accounts) == 0 {
			return State{}
		}
		return State{
			Accounts: append([]string(nil), a.Accounts...),
			Balance:  a.Balance,
			ChainID:  a.ChainID,
		}
	case ActionDisconnected:
		return State{}
	case ActionChainChanged, ActionChainFetched:
		next := prev.Clone()
		next.ChainID = a.ChainID
		return next
	default:
		return prev.Clone()
	}
}
