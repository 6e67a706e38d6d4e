// Package integration exercises end-to-end scenarios across the
// flooding engine, the prefix/address allocator and the glue layer that
// binds them: two-node handshake, delegated-prefix flooding, collision
// rename, spontaneous ULA generation, partition heal and excluded
// prefixes.
package integration

import (
	"net/netip"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/anvil-networks/hncpd/internal/clock"
	"github.com/anvil-networks/hncpd/internal/dncp"
	"github.com/anvil-networks/hncpd/internal/dncp/link"
	"github.com/anvil-networks/hncpd/internal/pa"
	"github.com/anvil-networks/hncpd/internal/paglue"
)

// fabric wires a set of nodes' IO together in-process: a SendTo call on
// one node's adapter is delivered synchronously as a HandleDatagram call
// on every other node sharing the simulated multicast segment, unless
// the two nodes have been partitioned via isolate.
type fabric struct {
	nodes      []*node
	partitions map[[2]*node]bool
}

type node struct {
	name   string
	engine *dncp.Engine
	link   *link.Link
	alloc  *pa.Allocator
	glue   *paglue.Glue
	addr   netip.AddrPort
}

type fabricIO struct {
	f    *fabric
	self *node
}

func (io *fabricIO) SendTo(buf []byte, ifIndex int, dst netip.AddrPort) error {
	for _, peer := range io.f.nodes {
		if peer == io.self {
			continue
		}
		if io.f.partitioned(io.self, peer) {
			continue
		}
		peer.engine.HandleDatagram(peer.link, io.self.addr, dst, buf)
	}
	return nil
}

func (f *fabric) partitioned(a, b *node) bool {
	return f.partitions[[2]*node{a, b}] || f.partitions[[2]*node{b, a}]
}

// isolate cuts bidirectional delivery between a and b until healed.
func (f *fabric) isolate(a, b *node) {
	if f.partitions == nil {
		f.partitions = make(map[[2]*node]bool)
	}
	f.partitions[[2]*node{a, b}] = true
}

// heal restores delivery between a and b.
func (f *fabric) heal(a, b *node) {
	delete(f.partitions, [2]*node{a, b})
	delete(f.partitions, [2]*node{b, a})
}

func newNode(t *testing.T, f *fabric, name string, idByte byte, clk clock.Clock) *node {
	t.Helper()
	n := &node{name: name, addr: netip.MustParseAddrPort("[fe80::1]:8808")}
	n.engine = dncp.New([]byte{0, 0, 0, 0, 0, 0, 0, idByte}, dncp.Config{
		Clock:         clk,
		IO:            &fabricIO{f: f, self: n},
		MulticastAddr: netip.MustParseAddrPort("[ff02::1]:8808"),
		Log:           logr.Discard(),
	})
	n.link = n.engine.EnableLink(name, int(idByte), link.Config{
		Imin: 100 * time.Millisecond, Imax: 100 * time.Millisecond, K: 1,
	})
	n.alloc = pa.New(name, nil)
	n.glue = paglue.New(n.engine, n.alloc, clk, logr.Discard())
	n.glue.AddLink(paglue.Link{EndpointID: int(n.link.ID), IfName: name})
	f.nodes = append(f.nodes, n)
	return n
}
