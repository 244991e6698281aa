package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// Backoff describes an exponential backoff: the first retry waits Initial,
// every following one Factor times longer. Retry is the number of attempts.
type Backoff struct {
	Initial time.Duration `yaml:"initial"`
	Factor  uint          `yaml:"factor"`
	Retry   uint          `yaml:"retry"`
}

// maxDelay caps a single backoff wait.
const maxDelay = time.Second

// DefaultBackoff is used for optimistic transaction retries when nothing is
// configured.
var DefaultBackoff = Backoff{
	Initial: 2 * time.Millisecond,
	Factor:  2,
	Retry:   10,
}

// Delay returns how long to wait before the given attempt (0 based). The
// first attempt does not wait.
func (b Backoff) Delay(attempt uint) time.Duration {
	if attempt == 0 {
		return 0
	}
	delay := b.Initial
	for i := uint(1); i < attempt && delay < maxDelay; i++ {
		delay *= time.Duration(b.Factor)
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Wait blocks for the delay of the given attempt (0 based) or until ctx is
// done.
func (b Backoff) Wait(ctx context.Context, attempt uint) error {
	delay := b.Delay(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Update runs fn in a transaction of store, retrying on ErrConflict
// following backoff. Any other error from fn or the store is returned right
// away. fn may run several times and must not keep side effects outside the
// transaction.
func Update(ctx context.Context, store TxnStore, backoff Backoff, fn func(Txn) error) error {
	attempts := backoff.Retry
	if attempts == 0 {
		attempts = 1
	}
	var err error
	for i := uint(0); i < attempts; i++ {
		err = backoff.Wait(ctx, i)
		if err != nil {
			return err
		}
		err = store.Update(fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		log.Debug().Uint("attempt", i+1).Msg("transaction conflict, retrying")
	}
	return xerrors.Errorf("%d attempts, last: %v: %w", attempts, err, ErrRetriesExhausted)
}

// View runs fn in a read-only transaction of store.
func View(ctx context.Context, store TxnStore, fn func(Txn) error) error {
	err := ctx.Err()
	if err != nil {
		return err
	}
	return store.View(fn)
}
