package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	outboxBaseBackoff = time.Second
	outboxMaxBackoff  = 5 * time.Minute
	outboxMaxAttempts = 8
)

type outboxEntry struct {
	update   Update
	seq      uint64 // bumped on every merge; guards against losing one mid-flush
	attempts int
	nextTry  time.Time
}

// Outbox is a bounded retry queue for self-publishes that failed to reach
// the database. Entries are keyed by user; a newer update for the same user
// merges into the queued one.
type Outbox struct {
	mu       sync.Mutex
	entries  map[string]*outboxEntry
	capacity int
	logger   *zap.Logger
}

// NewOutbox creates an Outbox holding at most capacity users.
func NewOutbox(capacity int, logger *zap.Logger) *Outbox {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Outbox{
		entries:  make(map[string]*outboxEntry),
		capacity: capacity,
		logger:   logger,
	}
}

// Put queues or merges an update. It returns false when the queue is full
// and the user has no existing entry.
func (o *Outbox) Put(userID string, u Update) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if entry, ok := o.entries[userID]; ok {
		entry.update = mergeUpdate(entry.update, u)
		entry.seq++
		return true
	}
	if len(o.entries) >= o.capacity {
		o.logger.Warn("outbox full, dropping update", zap.String("user_id", userID))
		return false
	}
	o.entries[userID] = &outboxEntry{update: u, nextTry: time.Now()}
	return true
}

// Pending returns the number of queued users.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Flush retries every due entry through apply. Failed entries back off
// exponentially; an entry that exhausts its attempts is dropped.
func (o *Outbox) Flush(ctx context.Context, apply func(ctx context.Context, userID string, u Update) error) {
	now := time.Now()

	type dueEntry struct {
		update Update
		seq    uint64
	}

	o.mu.Lock()
	due := make(map[string]dueEntry)
	for id, entry := range o.entries {
		if !entry.nextTry.After(now) {
			due[id] = dueEntry{update: entry.update, seq: entry.seq}
		}
	}
	o.mu.Unlock()

	for id, d := range due {
		err := apply(ctx, id, d.update)

		o.mu.Lock()
		entry, ok := o.entries[id]
		if !ok {
			o.mu.Unlock()
			continue
		}
		if err == nil {
			if entry.seq == d.seq {
				delete(o.entries, id)
			} else {
				// A newer update merged in while we were applying.
				// Keep the entry and let the next flush carry it.
				entry.attempts = 0
				entry.nextTry = now
			}
			o.mu.Unlock()
			continue
		}
		entry.attempts++
		if entry.attempts >= outboxMaxAttempts {
			delete(o.entries, id)
			o.mu.Unlock()
			o.logger.Error("outbox entry exhausted retries",
				zap.String("user_id", id), zap.Error(err))
			continue
		}
		backoff := outboxBaseBackoff << uint(entry.attempts)
		if backoff > outboxMaxBackoff {
			backoff = outboxMaxBackoff
		}
		entry.nextTry = time.Now().Add(backoff)
		o.mu.Unlock()
		o.logger.Warn("outbox retry failed",
			zap.String("user_id", id),
			zap.Int("attempts", entry.attempts),
			zap.Error(err))
	}
}

func mergeUpdate(old, next Update) Update {
	out := old
	if next.Name != nil {
		out.Name = next.Name
	}
	if next.Latitude != nil && next.Longitude != nil {
		out.Latitude = next.Latitude
		out.Longitude = next.Longitude
		out.Timestamp = next.Timestamp
	}
	return out
}
