package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"walletsync/pkg/session"
)

// Version is set by Start()
var Version = "dev"

// --- Messages ---

type clearStatusMsg struct{ seq int }
type mountedMsg struct{ err error }
type actionDoneMsg struct{ err error }

// Options configures the wallet view.
type Options struct {
	// BridgeURL is the page to open in a browser when the bridge provider
	// is in use. Empty in node mode.
	BridgeURL string
	// NoticeDuration is how long transient notices stay on screen.
	NoticeDuration time.Duration
}

// --- Model ---

type model struct {
	ctx           context.Context
	session       *session.Session
	sub           session.Subscriber
	snap          session.Snapshot
	mounting      bool
	spinner       spinner.Model
	help          help.Model
	keys          keyMap
	statusMessage string
	statusIsError bool
	statusSeq     int
	opts          Options
	width         int
	height        int
}

func initialModel(ctx context.Context, s *session.Session, opts Options) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	if opts.NoticeDuration <= 0 {
		opts.NoticeDuration = 3 * time.Second
	}

	return model{
		ctx:      ctx,
		session:  s,
		sub:      s.Subscribe(),
		snap:     s.Snapshot(),
		mounting: true,
		spinner:  sp,
		help:     help.New(),
		keys:     keys,
		opts:     opts,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		listenForSession(m.sub),
		m.spinner.Tick,
		mountCmd(m.ctx, m.session),
	)
}
