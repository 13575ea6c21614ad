// Package events fans orchestrator events (LOG, PROGRESS, TASK_COMPLETE) out
// to UI subscribers and mirrors log lines into zerolog.
package events

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dm-outreach-engine/internal/protocol"
)

const (
	historySize = 200
	subBuffer   = 64
)

type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan protocol.Message
	nextID  int
	history []protocol.Message
}

func NewBus() *Bus {
	return &Bus{subs: map[int]chan protocol.Message{}}
}

// Subscribe returns a channel of future events, the history so far, and a
// cancel func that closes the channel.
func (b *Bus) Subscribe() (<-chan protocol.Message, []protocol.Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan protocol.Message, subBuffer)
	b.subs[id] = ch
	hist := append([]protocol.Message(nil), b.history...)

	var once sync.Once
	return ch, hist, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (b *Bus) Publish(m protocol.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, m)
	if len(b.history) > historySize {
		b.history = b.history[len(b.history)-historySize:]
	}
	for id, ch := range b.subs {
		select {
		case ch <- m:
		default:
			log.Debug().Int("subscriber", id).Str("type", string(m.Type)).Msg("subscriber slow, event dropped")
		}
	}
}

// History returns the retained events, oldest first.
func (b *Bus) History() []protocol.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.Message(nil), b.history...)
}

// Clear drops the retained history (the UI's "clear log" button).
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}

// Log publishes a UI log line and mirrors it into zerolog, tagged with runID
// when there is one.
func (b *Bus) Log(runID string, level protocol.Level, text string) {
	ev := log.WithLevel(zerologLevel(level)).Str("component", "campaign").Str("level_ui", string(level))
	if runID != "" {
		ev = ev.Str("run_id", runID)
	}
	ev.Msg(text)
	b.Publish(protocol.LogMessage(level, text))
}

func (b *Bus) Progress(current, total int) {
	b.Publish(protocol.ProgressMessage(current, total))
}

func (b *Bus) Complete() {
	b.Publish(protocol.CompleteMessage())
}

func zerologLevel(l protocol.Level) zerolog.Level {
	switch l {
	case protocol.Warning:
		return zerolog.WarnLevel
	case protocol.Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
