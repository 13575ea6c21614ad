package listener

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"dm-outreach-engine/internal/pace"
	"dm-outreach-engine/internal/storage"
)

const debounce = 200 * time.Millisecond

// Refresh reloads whatever cached view depends on the kv_store.
type Refresh func(ctx context.Context) error

// ListenAndRefresh LISTENs on channel and calls refresh on each change until
// ctx is done, reconnecting with jittered backoff when the connection drops.
func ListenAndRefresh(ctx context.Context, st *storage.Store, refresh Refresh, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = st.ListenChannel()
	}
	for {
		err := listen(ctx, st, refresh, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Str("channel", channel).Dur("retry_in", backoff).Msg("listen failed")
		if pace.Sleep(ctx, backoff) != nil {
			log.Info().Msg("listener stopped")
			return
		}
	}
}

func listen(ctx context.Context, st *storage.Store, refresh Refresh, channel string) error {
	conn, err := st.PgxPool().Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for kv changes")

	// pick up anything written while disconnected
	if err := refresh(ctx); err != nil {
		log.Error().Err(err).Msg("refresh after listen")
	}
	return consume(ctx, conn.Conn(), refresh)
}

type notifier interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
}

// consume handles notifications until the connection errors. The first change
// of a burst refreshes at once; later ones inside the debounce window collapse
// into a single trailing refresh when the window closes.
func consume(ctx context.Context, n notifier, refresh Refresh) error {
	notes := make(chan *pgconn.Notification)
	errc := make(chan error, 1)
	go func() {
		for {
			ntf, err := n.WaitForNotification(ctx)
			if err != nil {
				errc <- err
				return
			}
			notes <- ntf
		}
	}()

	var (
		last     time.Time
		trailing <-chan time.Time
	)
	run := func(key string) {
		last = time.Now()
		log.Debug().Str("key", key).Msg("kv change; refreshing form")
		if err := refresh(ctx); err != nil {
			log.Error().Err(err).Msg("refresh form error")
		}
	}
	for {
		select {
		case err := <-errc:
			return err
		case ntf := <-notes:
			if wait := debounce - time.Since(last); wait > 0 {
				if trailing == nil {
					trailing = time.After(wait)
				}
				continue
			}
			run(ntf.Payload)
		case <-trailing:
			trailing = nil
			run("")
		}
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x–1.5x
	return time.Duration(float64(base) * factor)
}
