package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRaceCompletion(t *testing.T) {
	wantErr := errors.New("poller exited")

	outcome, err := Race(context.Background(), func(_ context.Context) error {
		return wantErr
	})

	if outcome != Completed {
		t.Errorf("outcome = %v, want Completed", outcome)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestRaceCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	unwound := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome, err := Race(ctx, func(inner context.Context) error {
		<-inner.Done()
		close(unwound)
		return inner.Err()
	})

	if outcome != Cancelled {
		t.Errorf("outcome = %v, want Cancelled", outcome)
	}
	if err != nil {
		t.Errorf("err = %v, want nil after cancellation", err)
	}
	select {
	case <-unwound:
	default:
		t.Error("Race returned before fn unwound")
	}
}

func TestRaceWaitsForUnwind(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var cleanedUp bool
	outcome, _ := Race(ctx, func(inner context.Context) error {
		<-inner.Done()
		time.Sleep(20 * time.Millisecond)
		cleanedUp = true
		return inner.Err()
	})

	if outcome != Cancelled {
		t.Errorf("outcome = %v, want Cancelled", outcome)
	}
	if !cleanedUp {
		t.Error("Race did not wait for fn to finish its cleanup")
	}
}
