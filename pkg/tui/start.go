package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"walletsync/pkg/session"
)

// Start runs the wallet view until the user quits. The session is closed on
// return.
func Start(ctx context.Context, s *session.Session, opts Options, version string) error {
	Version = version
	defer s.Close()

	p := tea.NewProgram(
		initialModel(ctx, s, opts),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("alas, there's been an error: %w", err)
	}
	return nil
}
