// Package dncpio is the non-blocking IPv6 UDP I/O adapter: one socket
// bound to a fixed port, multicast group join/leave per interface, and
// per-datagram ancillary data (arrival interface, destination address)
// so the engine can distinguish multicast from unicast traffic.
package dncpio

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/net/ipv6"
)

// DefaultPort is the fixed link-local UDP port the protocol listens on.
const DefaultPort = 8808

// Datagram is one received packet plus its arrival metadata.
type Datagram struct {
	Data    []byte
	Src     netip.AddrPort
	Dst     netip.AddrPort
	IfIndex int
	IfName  string
}

// Adapter owns the single UDP6 socket used for all links. EnableInterface
// joins/leaves the protocol's link-local multicast group on that
// interface; SendTo/RecvFrom use per-packet ancillary data (IPV6_PKTINFO)
// to route outbound sends via the correct interface and to recover the
// arrival interface and destination address of inbound packets.
type Adapter struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	pktConn *ipv6.PacketConn

	multicastGroup netip.Addr
	port           int

	joined map[int]bool
}

// New binds the adapter's socket to port on every interface (::) and
// prepares it for per-packet ancillary data. It does not join any
// multicast groups; call EnableInterface per link for that.
func New(multicastGroup netip.Addr, port int) (*Adapter, error) {
	if port == 0 {
		port = DefaultPort
	}
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("dncpio: listen: %w", err)
	}
	pc := ipv6.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dncpio: set control message: %w", err)
	}
	if err := pc.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dncpio: disable multicast loopback: %w", err)
	}
	return &Adapter{
		conn:           conn,
		pktConn:        pc,
		multicastGroup: multicastGroup,
		port:           port,
		joined:         make(map[int]bool),
	}, nil
}

// Uninit closes the underlying socket.
func (a *Adapter) Uninit() error {
	return a.conn.Close()
}

// EnableInterface joins (on=true) or leaves (on=false) the protocol's
// multicast group on the named interface.
func (a *Adapter) EnableInterface(ifIndex int, on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ifi, err := net.InterfaceByIndex(ifIndex)
	if err != nil {
		return fmt.Errorf("dncpio: interface %d: %w", ifIndex, err)
	}
	group := &net.UDPAddr{IP: net.IP(a.multicastGroup.AsSlice())}

	if on {
		if a.joined[ifIndex] {
			return nil
		}
		if err := a.pktConn.JoinGroup(ifi, group); err != nil {
			return fmt.Errorf("dncpio: join group on %s: %w", ifi.Name, err)
		}
		a.joined[ifIndex] = true
		return nil
	}

	if !a.joined[ifIndex] {
		return nil
	}
	if err := a.pktConn.LeaveGroup(ifi, group); err != nil {
		return fmt.Errorf("dncpio: leave group on %s: %w", ifi.Name, err)
	}
	delete(a.joined, ifIndex)
	return nil
}

// SendTo transmits buf to dst, optionally forcing egress via ifIndex (0
// lets the kernel route it).
func (a *Adapter) SendTo(buf []byte, ifIndex int, dst netip.AddrPort) error {
	cm := &ipv6.ControlMessage{}
	if ifIndex != 0 {
		cm.IfIndex = ifIndex
	}
	udpDst := &net.UDPAddr{IP: net.IP(dst.Addr().AsSlice()), Port: int(dst.Port())}
	_, err := a.pktConn.WriteTo(buf, cm, udpDst)
	if err != nil {
		return fmt.Errorf("dncpio: sendto %s: %w", dst, err)
	}
	return nil
}

// RecvFrom blocks (subject to the given deadline) for the next datagram,
// returning it along with its arrival interface and destination address.
// A zero deadline means no deadline (blocks until data, Close, or error).
func (a *Adapter) RecvFrom(buf []byte, deadline time.Time) (Datagram, error) {
	if err := a.conn.SetReadDeadline(deadline); err != nil {
		return Datagram{}, fmt.Errorf("dncpio: set deadline: %w", err)
	}
	n, cm, srcAddr, err := a.pktConn.ReadFrom(buf)
	if err != nil {
		return Datagram{}, err
	}
	udpSrc, _ := srcAddr.(*net.UDPAddr)
	var srcAP netip.AddrPort
	if udpSrc != nil {
		a, _ := netip.AddrFromSlice(udpSrc.IP)
		srcAP = netip.AddrPortFrom(a, uint16(udpSrc.Port))
	}

	d := Datagram{
		Data: append([]byte(nil), buf[:n]...),
		Src:  srcAP,
	}
	if cm != nil {
		d.IfIndex = cm.IfIndex
		if dstAddr, ok := netip.AddrFromSlice(cm.Dst); ok {
			d.Dst = netip.AddrPortFrom(dstAddr, uint16(a.port))
		}
		if ifi, err := net.InterfaceByIndex(cm.IfIndex); err == nil {
			d.IfName = ifi.Name
		}
	}
	return d, nil
}
