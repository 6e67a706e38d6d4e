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

// Package ifacemgr acquires the delegated prefix an uplink interface
// receives from the outside world (DHCPv6-PD, Router Advertisement, or
// both) and hands it to paglue as a stream of Events, decoupling prefix
// allocation from whatever acquisition method the link actually uses.
package ifacemgr

import (
	"context"
	"net/netip"
	"time"
)

// Source identifies the mechanism a Prefix was learned through.
type Source string

const (
	SourceDHCPv6PD            Source = "dhcpv6-pd"
	SourceRouterAdvertisement Source = "router-advertisement"
	SourceStatic              Source = "static"
	SourceUnknown             Source = "unknown"
)

// Prefix is a delegated or advertised IPv6 prefix together with the
// lifetime and provenance a Receiver observed it with.
type Prefix struct {
	Network           netip.Prefix
	ValidLifetime     time.Duration
	PreferredLifetime time.Duration
	Source            Source
	ReceivedAt        time.Time
}

// EventType classifies what happened to a Receiver's delegated prefix.
type EventType string

const (
	EventTypeAcquired EventType = "acquired"
	EventTypeRenewed  EventType = "renewed"
	EventTypeChanged  EventType = "changed"
	EventTypeExpired  EventType = "expired"
	EventTypeFailed   EventType = "failed"
)

// Event is one state transition emitted on a Receiver's channel. Prefix
// is nil for EventTypeFailed; Error is nil for everything else.
type Event struct {
	Type   EventType
	Prefix *Prefix
	Error  error
}

// Receiver acquires an uplink prefix through some external protocol and
// reports every acquisition, renewal, change and expiry as an Event.
// Implementations run their own goroutine after Start and must keep
// delivering on Events until Stop returns; paglue.WatchUplink is the one
// consumer allowed to block reading that channel from another goroutine.
type Receiver interface {
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan Event
	CurrentPrefix() *Prefix
	Source() Source
}
