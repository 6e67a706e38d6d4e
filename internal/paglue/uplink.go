package paglue

import (
	"github.com/anvil-networks/hncpd/internal/ifacemgr"
)

// WatchUplink drains receiver's event channel until stop is closed,
// translating each acquired/renewed/changed prefix into an EnableDP call
// and each expiry into a DisableDP call. Run it in its own goroutine; the
// event channel is the one documented exception to the single-threaded
// event loop (see ifacemgr.Receiver).
func (g *Glue) WatchUplink(receiver ifacemgr.Receiver, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-receiver.Events():
			if !ok {
				return
			}
			g.handleUplinkEvent(ev)
		}
	}
}

func (g *Glue) handleUplinkEvent(ev ifacemgr.Event) {
	switch ev.Type {
	case ifacemgr.EventTypeAcquired, ifacemgr.EventTypeRenewed:
		if ev.Prefix != nil {
			g.EnableDP(ev.Prefix.ToDP())
			network := ev.Prefix.Network
			g.lastUplink = &network
		}
	case ifacemgr.EventTypeChanged:
		if ev.Prefix != nil {
			if g.lastUplink != nil && *g.lastUplink != ev.Prefix.Network {
				g.DisableDP(*g.lastUplink)
			}
			g.EnableDP(ev.Prefix.ToDP())
			network := ev.Prefix.Network
			g.lastUplink = &network
		}
	case ifacemgr.EventTypeExpired:
		if ev.Prefix != nil {
			g.DisableDP(ev.Prefix.Network)
		}
		g.lastUplink = nil
	case ifacemgr.EventTypeFailed:
		g.setDegraded(ev.Error)
	}
}
