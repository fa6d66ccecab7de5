package tui

import (
	"fmt"
	"strings"

	"walletsync/pkg/utils"
)

func (m model) View() string {
	var sections []string

	sections = append(sections, titleStyle.Render("Wallet Sync "+Version))
	sections = append(sections, m.viewProvider())

	if m.showButton() {
		sections = append(sections, m.viewButton())
	}

	if m.snap.State.Connected() {
		sections = append(sections, m.viewWallet())
	}

	if m.statusMessage != "" {
		style := infoStyle
		if m.statusIsError {
			style = errStyle
		}
		msg := m.statusMessage
		if m.width > 8 {
			msg = utils.TruncateString(msg, m.width-8)
		}
		sections = append(sections, style.Render(msg))
	}

	sections = append(sections, m.help.View(m.keys))

	return boxStyle.Render(strings.Join(sections, "\n\n"))
}

func (m model) viewProvider() string {
	switch {
	case m.mounting && !m.snap.Present:
		text := m.spinner.View() + " Looking for a wallet provider..."
		if m.opts.BridgeURL != "" {
			text += "\n" + subtleStyle.Render("Open "+m.opts.BridgeURL+" in a browser with MetaMask installed (o)")
		}
		return text
	case !m.snap.Present:
		return "Injected Provider DOES NOT Exist\n" +
			subtleStyle.Render("Install MetaMask, or run with --mode node --rpc <url>")
	case m.snap.MetaMask:
		return infoStyle.Render("Injected Provider DOES Exist") + subtleStyle.Render(" (MetaMask)")
	default:
		return infoStyle.Render("Injected Provider DOES Exist") + subtleStyle.Render(" (not MetaMask)")
	}
}

func (m model) viewButton() string {
	label := buttonStyle.Render(m.buttonLabel())
	if m.snap.Busy {
		label += " " + m.spinner.View() + subtleStyle.Render(" waiting for wallet...")
	}
	return label
}

func (m model) viewWallet() string {
	st := m.snap.State
	rows := []string{
		labelStyle.Render("Wallet Accounts:") + m.displayAddress(st.ActiveAccount()),
		labelStyle.Render("Wallet Balance:") + m.displayBalance(st.Balance),
		labelStyle.Render("Hex ChainId:") + st.ChainID,
		labelStyle.Render("Numeric ChainId:") + chainNumber(st.ChainID),
	}
	if n := len(st.Accounts); n > 1 {
		rows = append(rows, subtleStyle.Render(fmt.Sprintf("%d more account(s) authorized", n-1)))
	}
	return strings.Join(rows, "\n")
}
