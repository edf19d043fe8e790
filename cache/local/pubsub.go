package local

import (
	"context"
	"sync"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

// LocalPubSub fans messages out to in-process subscribers. It carries the
// presence delta events when no Redis is configured, so delivery must never
// block a publisher: a subscriber whose buffer is full misses the message
// and catches up from the next one.
type LocalPubSub struct {
	mu      sync.Mutex
	chans   map[string]map[int]chan *LocalMessage
	nextID  int
	bufSize int
}

// NewPubSub creates a LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		chans:   make(map[string]map[int]chan *LocalMessage),
		bufSize: bufSize,
	}
}

// Publish delivers the message to every subscriber of the channel.
// Delivery happens under the lock so a concurrent cancel cannot close a
// channel mid-send.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	ps.mu.Lock()
	for _, ch := range ps.chans[channel] {
		select {
		case ch <- msg:
		default:
		}
	}
	ps.mu.Unlock()
	return nil
}

// Subscribe returns a message channel covering all the given channels and a
// cancel function. Cancel is idempotent and closes the message channel.
func (ps *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	ch := make(chan *LocalMessage, ps.bufSize)

	ps.mu.Lock()
	id := ps.nextID
	ps.nextID++
	for _, name := range channels {
		subs, ok := ps.chans[name]
		if !ok {
			subs = make(map[int]chan *LocalMessage)
			ps.chans[name] = subs
		}
		subs[id] = ch
	}
	ps.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ps.mu.Lock()
			for _, name := range channels {
				if subs, ok := ps.chans[name]; ok {
					delete(subs, id)
					if len(subs) == 0 {
						delete(ps.chans, name)
					}
				}
			}
			close(ch)
			ps.mu.Unlock()
		})
	}

	return ch, cancel, nil
}
