package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// signalStreamCap bounds in-process streams the way XADD MAXLEN bounds the
// Redis ones.
const signalStreamCap = 10000

// SignalBus implements domain.SignalBus in process. Publish fans out to
// live subscribers on the same channel name; streams keep a bounded slice
// of messages with monotonically increasing IDs so StreamRead cursors work
// the same way they do against Redis.
type SignalBus struct {
	mu          sync.Mutex
	subscribers map[string][]chan []byte
	streams     map[string][]domain.StreamMessage
	nextID      uint64
}

// NewSignalBus creates an empty in-process signal bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subscribers: make(map[string][]chan []byte),
		streams:     make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers the payload to current subscribers of the channel. Slow
// subscribers with full buffers miss the message rather than block the
// publisher.
func (sb *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	sb.mu.Lock()
	subs := append([]chan []byte(nil), sb.subscribers[channel]...)
	sb.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to the channel name
// after this call. The subscription ends with the context.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	sb.mu.Lock()
	sb.subscribers[channel] = append(sb.subscribers[channel], ch)
	sb.mu.Unlock()

	go func() {
		<-ctx.Done()

		sb.mu.Lock()
		subs := sb.subscribers[channel]
		for i, sub := range subs {
			if sub == ch {
				sb.subscribers[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		sb.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// StreamAppend appends a payload to a stream, trimming the oldest entries
// past the cap.
func (sb *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.nextID++
	messages := append(sb.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(sb.nextID, 10),
		Payload: payload,
	})
	if len(messages) > signalStreamCap {
		messages = messages[len(messages)-signalStreamCap:]
	}
	sb.streams[stream] = messages
	return nil
}

// StreamRead returns up to count messages with IDs after lastID. Use "0"
// to read from the beginning. No messages available is an empty result.
func (sb *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := strconv.ParseUint(lastID, 10, 64)
	if err != nil {
		// Redis-style cursors such as "0-0" or "$"; treat anything
		// unparseable as reading new messages only.
		if lastID == "0" || lastID == "0-0" {
			after = 0
		} else {
			sb.mu.Lock()
			after = sb.nextID
			sb.mu.Unlock()
		}
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	var out []domain.StreamMessage
	for _, msg := range sb.streams[stream] {
		id, err := strconv.ParseUint(msg.ID, 10, 64)
		if err != nil || id <= after {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
