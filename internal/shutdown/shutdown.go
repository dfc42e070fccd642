// Package shutdown coordinates graceful termination of long-running tasks.
package shutdown

import "context"

// Outcome reports which side of a Race finished first.
type Outcome int

const (
	// Cancelled means ctx was cancelled before fn returned.
	Cancelled Outcome = iota
	// Completed means fn returned on its own.
	Completed
)

// Race runs fn and waits for either its completion or the cancellation
// of ctx. On cancellation, fn's derived context is cancelled and Race
// waits for fn to unwind before reporting Cancelled; fn's error is
// returned only when it completed on its own.
func Race(ctx context.Context, fn func(context.Context) error) (Outcome, error) {
	inner, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(inner)
	}()

	select {
	case <-ctx.Done():
		cancel()
		<-done
		return Cancelled, nil
	case err := <-done:
		return Completed, err
	}
}
