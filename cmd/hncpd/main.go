// Command hncpd runs the home-network configuration protocol daemon:
// flooding engine, prefix/address allocator and interface manager wired
// into one process, with the shape of a kubebuilder main.go (flag
// parsing, logger setup, signal-aware run loop) minus the
// controller-runtime manager.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/anvil-networks/hncpd/internal/clock"
	"github.com/anvil-networks/hncpd/internal/config"
	"github.com/anvil-networks/hncpd/internal/dncp"
	"github.com/anvil-networks/hncpd/internal/dncp/link"
	"github.com/anvil-networks/hncpd/internal/dncp/store"
	"github.com/anvil-networks/hncpd/internal/dncpio"
	"github.com/anvil-networks/hncpd/internal/ifacemgr"
	"github.com/anvil-networks/hncpd/internal/logging"
	"github.com/anvil-networks/hncpd/internal/metrics"
	"github.com/anvil-networks/hncpd/internal/pa"
	"github.com/anvil-networks/hncpd/internal/paglue"
	"github.com/anvil-networks/hncpd/internal/storage"
)

var allNodesMulticast = netip.MustParseAddr("ff02::1")

func main() {
	var (
		configPath  string
		development bool
		logLevel    string
	)

	root := &cobra.Command{
		Use:   "hncpd",
		Short: "Home-network configuration protocol daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, development, logLevel)
		},
	}
	flags := root.Flags()
	flags.StringVar(&configPath, "config", "/etc/hncpd/config.yaml", "path to the YAML configuration file")
	flags.BoolVar(&development, "development", false, "use a human-readable development logger instead of JSON")
	flags.StringVar(&logLevel, "log-level", "", "minimum log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, development bool, logLevel string) error {
	log, err := logging.New(logging.Options{Development: development, Level: logLevel})
	if err != nil {
		return fmt.Errorf("hncpd: %w", err)
	}

	watcher, err := config.NewWatcher(configPath, log, nil)
	if err != nil {
		return fmt.Errorf("hncpd: %w", err)
	}
	defer watcher.Close()
	cfg := watcher.Current()

	metricsReg := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metricsReg.Serve(cfg.MetricsAddr); err != nil {
				log.Error(err, "metrics server stopped")
			}
		}()
	}

	st, err := storage.Open(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("hncpd: %w", err)
	}

	ownID, err := loadOrCreateNodeIdentifier(st, 8)
	if err != nil {
		return fmt.Errorf("hncpd: %w", err)
	}

	adapter, err := dncpio.New(allNodesMulticast, cfg.Port)
	if err != nil {
		return fmt.Errorf("hncpd: %w", err)
	}
	defer adapter.Uninit()

	engine := dncp.New(ownID, dncp.Config{
		MulticastAddr: netip.AddrPortFrom(allNodesMulticast, uint16(cfg.Port)),
		Clock:         clock.Real{},
		IO:            adapter,
		Log:           log.WithName("dncp"),
	})
	metrics.WireEngine(metricsReg, engine)

	alloc := pa.New(cfg.NodeName, st)
	glue := paglue.New(engine, alloc, clock.Real{}, log.WithName("pa"))
	defer glue.Close()

	for _, ifName := range cfg.Interfaces {
		iface, err := net.InterfaceByName(ifName)
		if err != nil {
			log.Error(err, "skipping unknown interface", "interface", ifName)
			continue
		}
		l := engine.EnableLink(ifName, iface.Index, link.DefaultConfig())
		if err := adapter.EnableInterface(iface.Index, true); err != nil {
			log.Error(err, "failed to join multicast group", "interface", ifName)
			continue
		}
		glue.AddLink(paglue.Link{EndpointID: int(l.ID), IfName: ifName, Config: linkConfigFor(ifName, cfg)})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if spec, ok := uplinkSpec(cfg.Uplink); ok {
		receiver, err := ifacemgr.NewReceiverFactory(log.WithName("uplink")).CreateReceiver(spec)
		if err != nil {
			log.Error(err, "uplink acquisition disabled")
		} else if err := receiver.Start(ctx); err != nil {
			log.Error(err, "failed to start uplink receiver")
		} else {
			go glue.WatchUplink(receiver, ctx.Done())
		}
	}

	go receiveLoop(ctx, adapter, engine, log)
	go observeStoreLoop(ctx, metricsReg, engine)

	log.Info("hncpd started", "node", cfg.NodeName, "interfaces", cfg.Interfaces)
	<-ctx.Done()
	log.Info("hncpd shutting down")
	return nil
}

func linkConfigFor(ifName string, cfg *config.Config) pa.LinkConfig {
	for _, rule := range cfg.LinkRules {
		if rule.Name != ifName {
			continue
		}
		lc := pa.LinkConfig{
			V6PlenOverride: rule.V6PlenOverride,
			V4PlenOverride: rule.V4PlenOverride,
		}
		if rule.StaticPrefix != "" {
			if p, err := netip.ParsePrefix(rule.StaticPrefix); err == nil {
				lc.StaticPrefix = &p
			}
		}
		if rule.Address != "" {
			if a, err := netip.ParseAddr(rule.Address); err == nil {
				lc.Address = &a
			}
		}
		return lc
	}
	return pa.LinkConfig{}
}

// uplinkSpec translates the config file's uplink section into an
// ifacemgr.AcquisitionSpec, reporting ok=false when neither acquisition
// method is configured.
func uplinkSpec(u config.UplinkSpec) (ifacemgr.AcquisitionSpec, bool) {
	var spec ifacemgr.AcquisitionSpec
	if u.DHCPv6PDInterface != "" {
		s := ifacemgr.DHCPv6PDSpec{Interface: u.DHCPv6PDInterface}
		if u.RequestedPrefixLen != 0 {
			s.RequestedPrefixLength = &u.RequestedPrefixLen
		}
		spec.DHCPv6PD = &s
	}
	if u.RAInterface != "" {
		spec.RouterAdvertisement = &ifacemgr.RouterAdvertisementSpec{
			Interface: u.RAInterface,
			Enabled:   u.RAEnabled,
		}
	}
	if spec.DHCPv6PD == nil && spec.RouterAdvertisement == nil {
		return spec, false
	}
	return spec, true
}

// receiveLoop drains the I/O adapter until ctx is cancelled, handing each
// datagram to the engine for processing. A short read deadline lets the
// loop notice cancellation promptly without busy-spinning.
func receiveLoop(ctx context.Context, adapter *dncpio.Adapter, engine *dncp.Engine, log logr.Logger) {
	buf := make([]byte, dncp.MaxPayload)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		dg, err := adapter.RecvFrom(buf, time.Now().Add(200*time.Millisecond))
		if err != nil {
			if isTimeout(err) {
				continue
			}
			log.Error(err, "datagram receive failed")
			continue
		}
		l, ok := engine.LinkByName(dg.IfName)
		if !ok {
			continue
		}
		engine.HandleDatagram(l, dg.Src, dg.Dst, dg.Data)
	}
}

func observeStoreLoop(ctx context.Context, reg *metrics.Registry, engine *dncp.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ObserveStore(reg, engine.Nodes())
		}
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}

// loadOrCreateNodeIdentifier returns the identifier persisted in st, if
// any, so a restart rejoins the flooding network under the same
// identity (letting the Adopt rule reclaim what it previously held)
// instead of a fresh random one nobody else recognises.
func loadOrCreateNodeIdentifier(st *storage.Store, n int) (store.NodeIdentifier, error) {
	if id, ok := st.NodeID(); ok {
		return store.NodeIdentifier(id), nil
	}
	id := make([]byte, n)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("generate node identifier: %w", err)
	}
	if err := st.SetNodeID(id); err != nil {
		return nil, fmt.Errorf("persist node identifier: %w", err)
	}
	return store.NodeIdentifier(id), nil
}
