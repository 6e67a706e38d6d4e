package dncp

import (
	"github.com/anvil-networks/hncpd/internal/dncp/store"
	"github.com/anvil-networks/hncpd/internal/dncp/tlv"
)

// neighborEntry is one decoded NODE-DATA-NEIGHBOR record, scoped to the
// node whose container it came from.
type neighborEntry struct {
	owner store.NodeIdentifier
	msg   neighborMsg
}

// collectNeighborEntries extracts every neighbor record from every
// node's container. Malformed neighbor records (wrong length) are
// skipped; they do not invalidate the rest of that node's container,
// since the datagram that carried them was already validated as a whole
// when it was received (§9: malformed records fail at the datagram
// boundary, not silently deep inside an already-accepted container).
func (e *Engine) collectNeighborEntries() map[string][]neighborEntry {
	out := make(map[string][]neighborEntry)
	for _, n := range e.nodes.All() {
		records, err := tlv.Parse(n.Container)
		if err != nil {
			continue
		}
		for _, r := range records {
			if r.Type != TypeNodeDataNeighbor {
				continue
			}
			m, err := decodeNeighbor(r, e.cfg.NodeIdentifierLen)
			if err != nil {
				continue
			}
			out[n.Identifier.String()] = append(out[n.Identifier.String()], neighborEntry{owner: n.Identifier, msg: m})
		}
	}
	return out
}

// bidirectionalEdges reduces the raw per-node neighbor entries to the
// set of confirmed bidirectional edges: owner A names peer B with
// (peerLinkID=bLink, localLinkID=aLink) and B names A back with
// (peerLinkID=aLink, localLinkID=bLink), per §4.3 and the reference
// implementation's hncp_node_find_neigh_bidir.
func bidirectionalEdges(byOwner map[string][]neighborEntry) map[string]map[string]bool {
	adj := make(map[string]map[string]bool)
	addEdge := func(a, b string) {
		if adj[a] == nil {
			adj[a] = make(map[string]bool)
		}
		adj[a][b] = true
	}

	for ownerStr, entries := range byOwner {
		for _, e1 := range entries {
			peerStr := e1.msg.PeerNodeID.String()
			peerEntries, ok := byOwner[peerStr]
			if !ok {
				continue
			}
			for _, e2 := range peerEntries {
				if e2.msg.PeerNodeID.String() != ownerStr {
					continue
				}
				if e1.msg.PeerLinkID == e2.msg.LocalLinkID && e1.msg.LocalLinkID == e2.msg.PeerLinkID {
					addEdge(ownerStr, peerStr)
					addEdge(peerStr, ownerStr)
				}
			}
		}
	}
	return adj
}

// recomputeReachability runs a breadth-first traversal from own node
// over the bidirectional-edge graph and marks every node's Reachable
// flag (and LastReachable timestamp for nodes that just became
// unreachable, used by Prune).
func (e *Engine) recomputeReachability() {
	adj := bidirectionalEdges(e.collectNeighborEntries())

	reachable := map[string]bool{e.ownID.String(): true}
	queue := []string{e.ownID.String()}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for peer := range adj[cur] {
			if !reachable[peer] {
				reachable[peer] = true
				queue = append(queue, peer)
			}
		}
	}

	now := e.cfg.Clock.Now()
	for _, n := range e.nodes.All() {
		was := n.Reachable
		n.Reachable = reachable[n.Identifier.String()]
		if was && !n.Reachable {
			n.LastReachable = now
		}
		if n.Reachable {
			n.LastReachable = now
		}
	}
}

// Prune removes every node that has been unreachable for longer than
// UnreachableGrace, giving transient partitions time to heal (§4.3).
func (e *Engine) Prune() {
	e.recomputeReachability()
	now := e.cfg.Clock.Now()
	for _, n := range e.nodes.All() {
		if n.Identifier.Equal(e.ownID) {
			continue
		}
		if !n.Reachable && now.Sub(n.LastReachable) > UnreachableGrace {
			if e.OnPrune != nil {
				e.OnPrune(n)
			}
			e.nodes.Remove(n.Identifier)
		}
	}
}
