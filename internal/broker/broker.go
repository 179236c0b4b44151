// Package broker multiplexes the external agent runner's single upstream
// event stream to many concurrent subscribers, holding only one connection
// regardless of subscriber count.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/DavidSchwarz2/agentpipe/internal/agentclient"
	"github.com/google/uuid"
)

// stopSentinel is a distinguishable value (never produced by a real frame)
// that signals a subscriber to stop reading: Broker.Stop pushes it into
// every inbox instead of closing the channel out from under a reader that
// might be mid-select.
var stopSentinel = json.RawMessage(`{"__agentpipe_stop__":true}`)

// Envelope is the wire-shape a subscriber reads: one upstream frame
// serialized as {event, data}.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// IsStop reports whether this envelope is the STOP sentinel rather than a
// real upstream frame.
func (e Envelope) IsStop() bool {
	raw, ok := e.Data.(json.RawMessage)
	return ok && string(raw) == string(stopSentinel)
}

// Inbox is a per-subscriber bounded queue of fanned-out envelopes.
type Inbox struct {
	id uuid.UUID
	ch chan Envelope
}

// ID returns the subscriber handle, used to unsubscribe.
func (i *Inbox) ID() uuid.UUID { return i.id }

// C returns the channel to range over for incoming envelopes.
func (i *Inbox) C() <-chan Envelope { return i.ch }

// Broker owns the single upstream AgentClient event-stream connection and
// fans each frame out to every currently-subscribed Inbox.
type Broker struct {
	client         agentclient.Client
	reconnectDelay int
	inboxCapacity  int

	mu      sync.Mutex
	inboxes map[uuid.UUID]*Inbox
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a Broker against client. reconnectDelay is passed through to
// StreamEvents on transport error; inboxCapacity bounds each subscriber's
// queue.
func New(client agentclient.Client, reconnectDelay, inboxCapacity int) *Broker {
	return &Broker{
		client:         client,
		reconnectDelay: reconnectDelay,
		inboxCapacity:  inboxCapacity,
		inboxes:        make(map[uuid.UUID]*Inbox),
	}
}

// Subscribe adds a new bounded inbox and returns it. Creation is cheap: it
// never blocks on the upstream connection.
func (b *Broker) Subscribe() *Inbox {
	in := &Inbox{id: uuid.New(), ch: make(chan Envelope, b.inboxCapacity)}
	b.mu.Lock()
	b.inboxes[in.id] = in
	b.mu.Unlock()
	return in
}

// Unsubscribe removes an inbox from the fan-out set. Idempotent.
func (b *Broker) Unsubscribe(in *Inbox) {
	b.mu.Lock()
	delete(b.inboxes, in.id)
	b.mu.Unlock()
}

// Start opens the single upstream consumer in a background goroutine. With
// zero subscribers the consumer still runs and drains frames (dropping them
// into no inbox), so the upstream connection never experiences backpressure
// from an idle broker.
func (b *Broker) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true
	b.done = make(chan struct{})
	b.mu.Unlock()

	go func() {
		defer close(b.done)
		err := b.client.StreamEvents(runCtx, b.dispatch, b.reconnectDelay)
		if err != nil && runCtx.Err() == nil {
			slog.Warn("broker: upstream event stream ended", "error", err.Error())
		}
	}()
}

// dispatch fans one upstream frame out to every subscriber. A full inbox
// drops the frame for that subscriber only — the upstream task never blocks
// on a single slow reader.
func (b *Broker) dispatch(frame agentclient.Frame) {
	env := Envelope{Event: frame.Event, Data: frame.Data}

	b.mu.Lock()
	inboxes := make([]*Inbox, 0, len(b.inboxes))
	for _, in := range b.inboxes {
		inboxes = append(inboxes, in)
	}
	b.mu.Unlock()

	for _, in := range inboxes {
		select {
		case in.ch <- env:
		default:
			slog.Warn("broker: subscriber inbox full, dropping frame", "event", frame.Event, "subscriber", in.id)
		}
	}
}

// Stop sends the STOP sentinel to every inbox, tells the client to stop
// streaming, then joins the background consumer task.
func (b *Broker) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	inboxes := make([]*Inbox, 0, len(b.inboxes))
	for _, in := range b.inboxes {
		inboxes = append(inboxes, in)
	}
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	stop := Envelope{Event: "__stop__", Data: stopSentinel}
	for _, in := range inboxes {
		select {
		case in.ch <- stop:
		default:
		}
	}

	b.client.StopStreaming()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
