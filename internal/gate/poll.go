package gate

import (
	"context"
	"errors"
	"time"
)

// ErrCredentialUnavailable is returned by a CredentialSource that has nothing
// yet, and by the gate when polling gives up.
var ErrCredentialUnavailable = errors.New("host credential unavailable")

// CredentialSource yields the host platform's credential blob. A source that
// has no credential yet returns ErrCredentialUnavailable or an empty string.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// PollResult is the outcome of a bounded credential poll.
type PollResult struct {
	Found      bool
	Credential string
	Attempts   int
	// LastErr is the last non-ErrCredentialUnavailable error seen, if any.
	LastErr error
}

// Poller polls a CredentialSource a fixed number of times at a fixed interval.
type Poller struct {
	Attempts int
	Interval time.Duration
	// After defaults to time.After.
	After func(time.Duration) <-chan time.Time
}

// PollCredential polls src up to attempts times, interval apart.
func PollCredential(ctx context.Context, src CredentialSource, attempts int, interval time.Duration) (PollResult, error) {
	return Poller{Attempts: attempts, Interval: interval}.Poll(ctx, src)
}

// Poll asks src for a credential until one is returned or the attempts run
// out. The first attempt is immediate. Only context cancellation is returned
// as an error; exhausting the attempts is reported with Found == false.
func (p Poller) Poll(ctx context.Context, src CredentialSource) (PollResult, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	after := p.After
	if after == nil {
		after = time.After
	}

	var result PollResult
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-after(p.Interval):
			}
		}

		result.Attempts++
		blob, err := src.Credential(ctx)
		switch {
		case err == nil && blob != "":
			result.Found = true
			result.Credential = blob
			return result, nil
		case err != nil && !errors.Is(err, ErrCredentialUnavailable):
			result.LastErr = err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
	}
	return result, nil
}
