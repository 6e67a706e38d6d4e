package dncp

import "github.com/anvil-networks/hncpd/internal/dncp/store"

// Callbacks is the set of hooks a subscriber may implement; any may be
// left nil. PA glue is the primary subscriber: it reacts to NodeAdded/
// NodeRemoved/TLVChanged to recompute delegated and advertised prefixes.
type Callbacks struct {
	NodeAdded        func(n *store.Node)
	NodeRemoved      func(n *store.Node)
	TLVChanged       func(n *store.Node)
	LocalTLVChanged  func()
	AboutToRepublish func()
}

type subscription struct {
	id  int
	cb  Callbacks
}

// Bus fans out node-store and local-TLV-store change events to
// registered subscribers. Callbacks may register or unregister further
// subscribers and may publish local TLVs mid dispatch; the bus snapshots
// its subscriber list before each dispatch round. It does not defer
// anything a callback does: a republish or local-TLV change made inside
// a callback takes effect immediately, before the current dispatch
// finishes.
type Bus struct {
	subs      []subscription
	nextID    int
	dispatching bool
	pendingRepublish bool
}

// NewBus returns an empty subscriber bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers cb and returns a token usable with Unsubscribe.
func (b *Bus) Subscribe(cb Callbacks) int {
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, cb: cb})
	return b.nextID
}

// Unsubscribe removes the subscription identified by token, if present.
func (b *Bus) Unsubscribe(token int) {
	for i, s := range b.subs {
		if s.id == token {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) snapshot() []subscription {
	out := make([]subscription, len(b.subs))
	copy(out, b.subs)
	return out
}

func (b *Bus) dispatch(run func(Callbacks)) {
	b.dispatching = true
	for _, s := range b.snapshot() {
		run(s.cb)
	}
	b.dispatching = false
}

// NodeAdded notifies subscribers synchronously, in registration order.
func (b *Bus) NodeAdded(n *store.Node) {
	b.dispatch(func(c Callbacks) {
		if c.NodeAdded != nil {
			c.NodeAdded(n)
		}
	})
}

// NodeRemoved notifies subscribers synchronously, in registration order.
func (b *Bus) NodeRemoved(n *store.Node) {
	b.dispatch(func(c Callbacks) {
		if c.NodeRemoved != nil {
			c.NodeRemoved(n)
		}
	})
}

// TLVChanged notifies subscribers that n's container was replaced.
func (b *Bus) TLVChanged(n *store.Node) {
	b.dispatch(func(c Callbacks) {
		if c.TLVChanged != nil {
			c.TLVChanged(n)
		}
	})
}

// LocalTLVChanged notifies subscribers that the local TLV set changed.
func (b *Bus) LocalTLVChanged() {
	b.dispatch(func(c Callbacks) {
		if c.LocalTLVChanged != nil {
			c.LocalTLVChanged()
		}
	})
}

// AboutToRepublish notifies subscribers immediately before the own node
// is rebuilt and republished, the last chance to add/remove local TLVs
// for this cycle.
func (b *Bus) AboutToRepublish() {
	b.dispatch(func(c Callbacks) {
		if c.AboutToRepublish != nil {
			c.AboutToRepublish()
		}
	})
}
