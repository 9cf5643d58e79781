package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/jordigilh/robosafe/pkg/shared/logging"
)

// Bus wires named agent inboxes together. Register gives an agent its own
// Inbox; Publish delivers to a single target (or fans out to everyone else
// when Target is empty); Broadcast is Publish's explicit broadcast form.
type Bus struct {
	reg *registry

	// publishMu serialises Publish calls so that per-sender delivery order
	// is preserved even when multiple goroutines call Publish concurrently
	// for the same source.
	publishMu sync.Mutex

	log *zap.Logger
}

// New constructs an empty Bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{reg: newRegistry(), log: logger}
}

// Register creates and returns a new Inbox for name, or the existing one if
// name was already registered (idempotent, so agents can re-fetch their own
// inbox after a restart without double-registering).
func (b *Bus) Register(name string, capacity int) *Inbox {
	if existing, ok := b.reg.get(name); ok {
		return existing
	}
	ib := NewInbox(name, capacity)
	b.reg.register(ib)
	b.log.Info("bus_agent_registered", logging.NewFields().Component("bus").Custom("agent", name).Zap()...)
	return ib
}

// Inbox returns the named agent's inbox, if registered.
func (b *Bus) Inbox(name string) (*Inbox, bool) {
	return b.reg.get(name)
}

// Publish delivers msg to its Target, or to every other registered agent if
// Target is empty (broadcast). The bus-wide publishMu lock is held for
// the duration of delivery, so concurrent Publish calls from the same agent
// are applied in call order.
func (b *Bus) Publish(msg Message) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	if msg.Target != "" {
		b.deliverTo(msg.Target, msg)
		return
	}
	b.broadcast(msg)
}

// broadcast fans msg out concurrently to every registered inbox other than
// the sender.
func (b *Bus) broadcast(msg Message) {
	var wg sync.WaitGroup
	for _, ib := range b.reg.all() {
		if ib.name == msg.Source {
			continue
		}
		ib := ib
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !ib.Deliver(msg) {
				b.log.Warn("bus_message_dropped",
					logging.NewFields().Component("bus").Custom("target", ib.name).Custom("type", msg.Type).Zap()...)
			}
		}()
	}
	wg.Wait()
}

func (b *Bus) deliverTo(target string, msg Message) {
	ib, ok := b.reg.get(target)
	if !ok {
		b.log.Warn("bus_unknown_target",
			logging.NewFields().Component("bus").Custom("target", target).Custom("type", msg.Type).Zap()...)
		return
	}
	if !ib.Deliver(msg) {
		b.log.Warn("bus_message_dropped",
			logging.NewFields().Component("bus").Custom("target", target).Custom("type", msg.Type).Zap()...)
	}
}

// PublishFrom is a convenience wrapper that stamps Source before publishing.
func (b *Bus) PublishFrom(source string, msg Message) {
	msg.Source = source
	b.Publish(msg)
}

// Stats returns per-agent inbox statistics for every registered agent.
func (b *Bus) Stats() []Stats {
	inboxes := b.reg.all()
	out := make([]Stats, 0, len(inboxes))
	for _, ib := range inboxes {
		out = append(out, ib.Stats())
	}
	return out
}
