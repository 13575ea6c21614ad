// Package pace holds the randomized waits used between page actions and
// between campaign targets.
package pace

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Source is the subset of *rand.Rand the pacing and template code needs.
type Source interface {
	Intn(n int) int
	Int63n(n int64) int64
}

// Sleeper suspends for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Between returns a uniformly random duration in [min, max] at millisecond
// granularity. min == max always yields min.
func Between(src Source, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64((max - min) / time.Millisecond)
	return min + time.Duration(src.Int63n(span+1))*time.Millisecond
}

// Rand is a mutex guarded *rand.Rand, safe to share between the campaign
// goroutine and request handlers.
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRand(seed int64) *Rand {
	return &Rand{r: rand.New(rand.NewSource(seed))}
}

// Seeded returns a Rand seeded from the wall clock.
func Seeded() *Rand { return NewRand(time.Now().UnixNano()) }

func (r *Rand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Intn(n)
}

func (r *Rand) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Int63n(n)
}
