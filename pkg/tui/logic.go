package tui

import (
	"context"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"walletsync/pkg/session"
	"walletsync/pkg/utils"
)

// listenForSession waits for the next event on sub. The subscriber lives on
// the model and is reused for every event.
func listenForSession(sub session.Subscriber) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return nil
		}
		return ev
	}
}

func mountCmd(ctx context.Context, s *session.Session) tea.Cmd {
	return func() tea.Msg {
		return mountedMsg{err: s.Mount(ctx)}
	}
}

func toggleCmd(ctx context.Context, s *session.Session) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{err: s.Toggle(ctx)}
	}
}

// setStatus shows msg until the matching clearStatusMsg arrives. A newer
// status invalidates older clear ticks.
func (m *model) setStatus(msg string, isErr bool) tea.Cmd {
	m.statusSeq++
	m.statusMessage = msg
	m.statusIsError = isErr
	seq := m.statusSeq
	return tea.Tick(m.opts.NoticeDuration, func(time.Time) tea.Msg {
		return clearStatusMsg{seq: seq}
	})
}

// showButton reports whether the connect/disconnect control is rendered.
func (m model) showButton() bool {
	return m.snap.CanConnect
}

func (m model) buttonLabel() string {
	if m.snap.State.Connected() {
		return "Disconnect"
	}
	return "Connect MetaMask"
}

// chainNumber renders the decimal chain id, or a marker when the wallet
// reported something that is not a hex quantity.
func chainNumber(hexID string) string {
	n, err := utils.FormatChainAsNum(hexID)
	if err != nil {
		return "invalid"
	}
	return strconv.FormatUint(n, 10)
}

// displayAddress shortens the active address when the terminal is narrow.
func (m model) displayAddress(addr string) string {
	if m.width > 0 && m.width < 64 {
		return utils.ShortAddress(addr, 4)
	}
	return addr
}

func (m model) displayBalance(balance string) string {
	return utils.AddCommas(balance) + " ETH"
}
