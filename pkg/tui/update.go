package tui

import (
	"errors"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"walletsync/pkg/session"
)

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case session.Event:
		cmds = append(cmds, listenForSession(m.sub))

		switch msg.Type {
		case session.EventDetected, session.EventStateChanged, session.EventBusy:
			if snap, ok := msg.Data.(session.Snapshot); ok {
				m.snap = snap
			}
		case session.EventNotice:
			if n, ok := msg.Data.(session.Notice); ok {
				cmds = append(cmds, m.setStatus(n.Message, n.Level == session.NoticeError))
			}
		}

	case mountedMsg:
		m.mounting = false
		m.snap = m.session.Snapshot()
		if msg.err != nil {
			cmds = append(cmds, m.setStatus("Startup failed: "+msg.err.Error(), true))
		}

	case actionDoneMsg:
		m.snap = m.session.Snapshot()
		// Provider failures already arrive as notices.
		if errors.Is(msg.err, session.ErrNoProvider) || errors.Is(msg.err, session.ErrClosed) {
			cmds = append(cmds, m.setStatus(msg.err.Error(), true))
		}

	case clearStatusMsg:
		if msg.seq == m.statusSeq {
			m.statusMessage = ""
			m.statusIsError = false
		}

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll

		case key.Matches(msg, m.keys.Toggle):
			if m.mounting || m.snap.Busy || !m.showButton() {
				break
			}
			m.snap.Busy = true
			cmds = append(cmds, toggleCmd(m.ctx, m.session))

		case key.Matches(msg, m.keys.Copy):
			addr := m.snap.State.ActiveAccount()
			if addr == "" {
				break
			}
			if err := clipboard.WriteAll(addr); err != nil {
				cmds = append(cmds, m.setStatus("Failed to copy address: "+err.Error(), true))
			} else {
				cmds = append(cmds, m.setStatus("Address copied to clipboard!", false))
			}

		case key.Matches(msg, m.keys.Open):
			if m.opts.BridgeURL == "" {
				break
			}
			if err := openBrowser(m.opts.BridgeURL); err != nil {
				cmds = append(cmds, m.setStatus("Could not open browser: "+err.Error(), true))
			} else {
				cmds = append(cmds, m.setStatus("Opened "+m.opts.BridgeURL, false))
			}
		}
	}

	return m, tea.Batch(cmds...)
}
