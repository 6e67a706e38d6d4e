/*
Copyright 2026 jr42.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ifacemgr

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/dhcpv6/nclient6"
	"github.com/insomniacslk/dhcp/iana"
)

// DHCPv6PDReceiver runs a DHCPv6 Prefix Delegation client against an
// upstream server: SOLICIT/ADVERTISE/REQUEST/REPLY to acquire, then
// RENEW at T1 and REBIND at T2 to keep the delegation alive.
type DHCPv6PDReceiver struct {
	mu                    sync.RWMutex
	iface                 string
	requestedPrefixLength int
	currentPrefix         *Prefix
	lease                 *dhcpv6Lease
	events                chan Event
	stopCh                chan struct{}
	started               bool
	ctx                   context.Context
	cancel                context.CancelFunc
	Log                   logr.Logger
}

// dhcpv6Lease contains DHCPv6-PD lease information.
type dhcpv6Lease struct {
	IAID              [4]byte
	Prefix            netip.Prefix
	T1                time.Duration
	T2                time.Duration
	ValidLifetime     time.Duration
	PreferredLifetime time.Duration
	ReceivedAt        time.Time
	ServerID          dhcpv6.DUID
}

// NewDHCPv6PDReceiver creates a new DHCPv6-PD receiver for the given interface.
// The requestedPrefixLength is a hint to the server (typically 48-64).
func NewDHCPv6PDReceiver(iface string, requestedPrefixLength int) *DHCPv6PDReceiver {
	if requestedPrefixLength == 0 {
		requestedPrefixLength = 56 // Common default
	}
	return &DHCPv6PDReceiver{
		iface:                 iface,
		requestedPrefixLength: requestedPrefixLength,
		events:                make(chan Event, 10),
		stopCh:                make(chan struct{}),
		Log:                   logr.Discard(),
	}
}

// Start begins the DHCPv6-PD client, acquiring a prefix and managing renewals.
func (r *DHCPv6PDReceiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.started = true

	go r.runLoop()

	return nil
}

// Stop stops the DHCPv6-PD client.
func (r *DHCPv6PDReceiver) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}

	r.started = false
	if r.cancel != nil {
		r.cancel()
	}
	close(r.stopCh)

	return nil
}

// Events returns the channel of prefix events.
func (r *DHCPv6PDReceiver) Events() <-chan Event {
	return r.events
}

// CurrentPrefix returns the currently delegated prefix, if any.
func (r *DHCPv6PDReceiver) CurrentPrefix() *Prefix {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentPrefix
}

// Source returns SourceDHCPv6PD.
func (r *DHCPv6PDReceiver) Source() Source {
	return SourceDHCPv6PD
}

// runLoop handles prefix acquisition and renewal.
func (r *DHCPv6PDReceiver) runLoop() {
	log := r.Log.WithName("dhcpv6pd-receiver")

	if err := r.acquirePrefix(); err != nil {
		log.Error(err, "initial prefix acquisition failed")
		r.sendError(fmt.Errorf("initial prefix acquisition failed: %w", err))
	}

	for {
		select {
		case <-r.stopCh:
			return
		case <-r.ctx.Done():
			return
		default:
		}

		r.mu.RLock()
		lease := r.lease
		r.mu.RUnlock()

		if lease == nil {
			time.Sleep(10 * time.Second)
			if err := r.acquirePrefix(); err != nil {
				log.Error(err, "prefix acquisition failed")
				r.sendError(fmt.Errorf("prefix acquisition failed: %w", err))
			}
			continue
		}

		now := time.Now()
		elapsed := now.Sub(lease.ReceivedAt)

		// Renew at T1 (typically 50% of valid lifetime).
		if elapsed >= lease.T1 {
			if err := r.renewPrefix(); err != nil {
				log.Error(err, "prefix renewal failed")
				r.sendError(fmt.Errorf("prefix renewal failed: %w", err))
				if elapsed >= lease.T2 {
					if err := r.rebindPrefix(); err != nil {
						log.Error(err, "prefix rebind failed")
						r.sendError(fmt.Errorf("prefix rebind failed: %w", err))
						r.mu.Lock()
						r.currentPrefix = nil
						r.lease = nil
						r.mu.Unlock()
						r.sendEvent(EventTypeExpired, nil)
					}
				}
			}
			continue
		}

		sleepDuration := lease.T1 - elapsed
		if sleepDuration > time.Minute {
			sleepDuration = time.Minute // Wake up periodically to check for stop
		}

		select {
		case <-r.stopCh:
			return
		case <-r.ctx.Done():
			return
		case <-time.After(sleepDuration):
		}
	}
}

// acquirePrefix performs initial prefix acquisition using SOLICIT-ADVERTISE-REQUEST-REPLY.
func (r *DHCPv6PDReceiver) acquirePrefix() error {
	log := r.Log.WithName("dhcpv6pd-receiver")

	ifi, err := net.InterfaceByName(r.iface)
	if err != nil {
		return fmt.Errorf("failed to get interface %s: %w", r.iface, err)
	}

	client, err := nclient6.New(r.iface)
	if err != nil {
		return fmt.Errorf("failed to create DHCPv6 client: %w", err)
	}
	defer func() { _ = client.Close() }()

	iaid := iaidFromIndex(ifi.Index)

	solicitMods := []dhcpv6.Modifier{
		dhcpv6.WithClientID(r.generateDUID(ifi)),
		dhcpv6.WithRequestedOptions(dhcpv6.OptionDNSRecursiveNameServer),
	}

	ctx, cancel := context.WithTimeout(r.ctx, 30*time.Second)
	defer cancel()

	solicit, err := dhcpv6.NewSolicit(ifi.HardwareAddr, solicitMods...)
	if err != nil {
		return fmt.Errorf("failed to create SOLICIT: %w", err)
	}
	solicit.AddOption(newIAPDOption(iaid, 0, 0, netip.PrefixFrom(netip.IPv6Unspecified(), r.requestedPrefixLength)))

	log.V(1).Info("sending SOLICIT", "interface", r.iface, "requestedPrefixLength", r.requestedPrefixLength)
	advertise, err := client.SendAndRead(ctx, nclient6.AllDHCPRelayAgentsAndServers, solicit, nclient6.IsMessageType(dhcpv6.MessageTypeAdvertise))
	if err != nil {
		return fmt.Errorf("failed to receive ADVERTISE: %w", err)
	}

	advIAPD := advertise.GetOneOption(dhcpv6.OptionIAPD)
	if advIAPD == nil {
		return fmt.Errorf("ADVERTISE did not contain IA_PD")
	}

	serverID := advertise.Options.ServerID()
	if serverID == nil {
		return fmt.Errorf("ADVERTISE did not contain Server ID")
	}

	request, err := dhcpv6.NewRequestFromAdvertise(advertise)
	if err != nil {
		return fmt.Errorf("failed to create REQUEST: %w", err)
	}

	reply, err := client.SendAndRead(ctx, nclient6.AllDHCPRelayAgentsAndServers, request, nclient6.IsMessageType(dhcpv6.MessageTypeReply))
	if err != nil {
		return fmt.Errorf("failed to receive REPLY: %w", err)
	}

	return r.processIAPDReply(reply, iaid, serverID)
}

// renewPrefix sends a RENEW message to extend the lease.
func (r *DHCPv6PDReceiver) renewPrefix() error {
	r.mu.RLock()
	lease := r.lease
	r.mu.RUnlock()

	if lease == nil {
		return fmt.Errorf("no lease to renew")
	}

	ifi, err := net.InterfaceByName(r.iface)
	if err != nil {
		return fmt.Errorf("failed to get interface %s: %w", r.iface, err)
	}

	client, err := nclient6.New(r.iface)
	if err != nil {
		return fmt.Errorf("failed to create DHCPv6 client: %w", err)
	}
	defer func() { _ = client.Close() }()

	renew, err := dhcpv6.NewMessage()
	if err != nil {
		return fmt.Errorf("failed to create RENEW message: %w", err)
	}
	renew.MessageType = dhcpv6.MessageTypeRenew
	renew.AddOption(dhcpv6.OptClientID(r.generateDUID(ifi)))
	renew.AddOption(dhcpv6.OptServerID(lease.ServerID))
	renew.AddOption(newIAPDOption(lease.IAID, lease.PreferredLifetime, lease.ValidLifetime, lease.Prefix))

	ctx, cancel := context.WithTimeout(r.ctx, 30*time.Second)
	defer cancel()

	reply, err := client.SendAndRead(ctx, nclient6.AllDHCPRelayAgentsAndServers, renew, nclient6.IsMessageType(dhcpv6.MessageTypeReply))
	if err != nil {
		return fmt.Errorf("failed to receive REPLY for RENEW: %w", err)
	}

	return r.processIAPDReply(reply, lease.IAID, lease.ServerID)
}

// rebindPrefix sends a REBIND message when the server is unreachable.
func (r *DHCPv6PDReceiver) rebindPrefix() error {
	r.mu.RLock()
	lease := r.lease
	r.mu.RUnlock()

	if lease == nil {
		return fmt.Errorf("no lease to rebind")
	}

	ifi, err := net.InterfaceByName(r.iface)
	if err != nil {
		return fmt.Errorf("failed to get interface %s: %w", r.iface, err)
	}

	client, err := nclient6.New(r.iface)
	if err != nil {
		return fmt.Errorf("failed to create DHCPv6 client: %w", err)
	}
	defer func() { _ = client.Close() }()

	rebind, err := dhcpv6.NewMessage()
	if err != nil {
		return fmt.Errorf("failed to create REBIND message: %w", err)
	}
	rebind.MessageType = dhcpv6.MessageTypeRebind
	rebind.AddOption(dhcpv6.OptClientID(r.generateDUID(ifi)))
	rebind.AddOption(newIAPDOption(lease.IAID, lease.PreferredLifetime, lease.ValidLifetime, lease.Prefix))

	ctx, cancel := context.WithTimeout(r.ctx, 30*time.Second)
	defer cancel()

	reply, err := client.SendAndRead(ctx, nclient6.AllDHCPRelayAgentsAndServers, rebind, nclient6.IsMessageType(dhcpv6.MessageTypeReply))
	if err != nil {
		return fmt.Errorf("failed to receive REPLY for REBIND: %w", err)
	}

	serverID := reply.Options.ServerID()
	if serverID == nil {
		return fmt.Errorf("REPLY did not contain Server ID")
	}

	return r.processIAPDReply(reply, lease.IAID, serverID)
}

// iaidFromIndex derives an IA_PD identity association ID from an
// interface index so repeated runs against the same link reuse it.
func iaidFromIndex(index int) [4]byte {
	return [4]byte{byte(index >> 24), byte(index >> 16), byte(index >> 8), byte(index)}
}

// newIAPDOption builds the IA_PD option shared by SOLICIT, RENEW and
// REBIND: a SOLICIT carries a zeroed hint prefix and zero lifetimes,
// while RENEW/REBIND carry the currently held lease so the server can
// recognize and extend it.
func newIAPDOption(iaid [4]byte, preferredLifetime, validLifetime time.Duration, prefix netip.Prefix) *dhcpv6.OptIAPD {
	return &dhcpv6.OptIAPD{
		IaId: iaid,
		Options: dhcpv6.PDOptions{
			Options: dhcpv6.Options{
				&dhcpv6.OptIAPrefix{
					PreferredLifetime: preferredLifetime,
					ValidLifetime:     validLifetime,
					Prefix: &net.IPNet{
						IP:   prefix.Addr().AsSlice(),
						Mask: net.CIDRMask(prefix.Bits(), 128),
					},
				},
			},
		},
	}
}

// processIAPDReply extracts the delegated prefix from a DHCPv6 REPLY.
func (r *DHCPv6PDReceiver) processIAPDReply(reply *dhcpv6.Message, expectedIAID [4]byte, serverID dhcpv6.DUID) error {
	log := r.Log.WithName("dhcpv6pd-receiver")

	var iaPD *dhcpv6.OptIAPD
	for _, opt := range reply.Options.Get(dhcpv6.OptionIAPD) {
		pd := opt.(*dhcpv6.OptIAPD)
		if pd.IaId == expectedIAID {
			iaPD = pd
			break
		}
	}
	if iaPD == nil {
		return fmt.Errorf("REPLY did not contain matching IA_PD")
	}

	if status := iaPD.Options.Status(); status != nil && status.StatusCode != iana.StatusSuccess {
		return fmt.Errorf("IA_PD status error: %s - %s", status.StatusCode, status.StatusMessage)
	}

	prefixes := iaPD.Options.Prefixes()
	if len(prefixes) == 0 {
		return fmt.Errorf("IA_PD did not contain any prefixes")
	}

	var bestPrefix *dhcpv6.OptIAPrefix
	for _, p := range prefixes {
		if p.ValidLifetime > 0 {
			bestPrefix = p
			break
		}
	}
	if bestPrefix == nil {
		return fmt.Errorf("no valid prefix in IA_PD")
	}

	addr, ok := netip.AddrFromSlice(bestPrefix.Prefix.IP)
	if !ok {
		return fmt.Errorf("invalid prefix address")
	}
	ones, _ := bestPrefix.Prefix.Mask.Size()
	prefix := netip.PrefixFrom(addr, ones)

	t1, t2 := iaPD.T1, iaPD.T2
	if t1 == 0 {
		t1 = bestPrefix.ValidLifetime / 2 // Default: 50%
	}
	if t2 == 0 {
		t2 = bestPrefix.ValidLifetime * 4 / 5 // Default: 80%
	}

	now := time.Now()
	newLease := &dhcpv6Lease{
		IAID:              expectedIAID,
		Prefix:            prefix,
		T1:                t1,
		T2:                t2,
		ValidLifetime:     bestPrefix.ValidLifetime,
		PreferredLifetime: bestPrefix.PreferredLifetime,
		ReceivedAt:        now,
		ServerID:          serverID,
	}

	r.mu.Lock()
	oldPrefix := r.currentPrefix
	r.currentPrefix = &Prefix{
		Network:           prefix,
		ValidLifetime:     bestPrefix.ValidLifetime,
		PreferredLifetime: bestPrefix.PreferredLifetime,
		Source:            SourceDHCPv6PD,
		ReceivedAt:        now,
	}
	r.lease = newLease
	r.mu.Unlock()

	var eventType EventType
	switch {
	case oldPrefix == nil:
		eventType = EventTypeAcquired
	case oldPrefix.Network != prefix:
		eventType = EventTypeChanged
	default:
		eventType = EventTypeRenewed
	}

	log.Info("delegated prefix updated", "prefix", prefix, "event", eventType, "t1", t1, "t2", t2)
	r.sendEvent(eventType, r.currentPrefix)
	return nil
}

// generateDUID generates a DUID-LL based on the interface's hardware address.
func (r *DHCPv6PDReceiver) generateDUID(ifi *net.Interface) dhcpv6.DUID {
	return &dhcpv6.DUIDLL{
		HWType:        iana.HWTypeEthernet,
		LinkLayerAddr: ifi.HardwareAddr,
	}
}

// sendEvent sends a prefix event.
func (r *DHCPv6PDReceiver) sendEvent(eventType EventType, prefix *Prefix) {
	select {
	case r.events <- Event{Type: eventType, Prefix: prefix}:
	default:
		// Channel full, event dropped
	}
}

// sendError sends a failed event.
func (r *DHCPv6PDReceiver) sendError(err error) {
	select {
	case r.events <- Event{Type: EventTypeFailed, Error: err}:
	default:
		// Channel full, event dropped
	}
}
