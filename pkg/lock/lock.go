// Package lock serializes mutations of the same account or purchase. Callers
// acquire every key they will touch in one call; keys are de-duplicated and
// taken in sorted order so two callers can never wait on each other in a cycle.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"

	pkgerrors "github.com/angelmondragon/scholarmarket-backend/pkg/errors"
)

// ErrBusy is returned when a key stays held for the whole retry budget.
var ErrBusy = pkgerrors.New(pkgerrors.CodeBusy, "resource is locked by a concurrent operation")

// Release frees every key taken by a successful Acquire. It is safe to call twice.
type Release func()

// Locker acquires a set of named keys.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (Release, error)
}

// Policy bounds how long Acquire keeps trying for a contended key.
type Policy struct {
	Attempts  uint64
	BaseDelay time.Duration
}

func (p Policy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 20 * time.Millisecond
	}
	b := retry.NewExponential(base)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(time.Second, b)
	return retry.WithMaxRetries(attempts-1, b)
}

// AccountKey names the lock guarding an account balance.
func AccountKey(id int64) string {
	return fmt.Sprintf("account:%d", id)
}

// PurchaseKey names the lock guarding a purchase transition.
func PurchaseKey(id string) string {
	return "purchase:" + id
}

// WorkKey names the lock guarding a work's moderation state.
func WorkKey(id int64) string {
	return fmt.Sprintf("work:%d", id)
}

func normalize(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// tryFunc attempts a single key once, reporting whether it was taken.
type tryFunc func(ctx context.Context, key string) (bool, error)

// acquireOrdered takes keys in order, retrying each contended key under policy.
// On failure every key already held is released.
func acquireOrdered(ctx context.Context, policy Policy, keys []string, try tryFunc, release func(key string)) (Release, error) {
	held := make([]string, 0, len(keys))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			release(held[i])
		}
		held = held[:0]
	}

	for _, key := range keys {
		key := key
		err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
			ok, err := try(ctx, key)
			if err != nil {
				return err
			}
			if !ok {
				return retry.RetryableError(ErrBusy)
			}
			return nil
		})
		if err != nil {
			releaseAll()
			if errors.Is(err, ErrBusy) {
				return nil, fmt.Errorf("%w: %s", ErrBusy, key)
			}
			return nil, err
		}
		held = append(held, key)
	}

	done := false
	return func() {
		if done {
			return
		}
		done = true
		releaseAll()
	}, nil
}
