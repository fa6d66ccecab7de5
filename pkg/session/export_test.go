package session

import "context"

// flush waits until every event queued before the call has been applied.
func (s *Session) flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.events <- func(context.Context) { close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
