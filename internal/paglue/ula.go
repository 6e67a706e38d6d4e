package paglue

import (
	"crypto/rand"
	"net/netip"
	"time"

	mrand "math/rand"

	"github.com/anvil-networks/hncpd/internal/pa"
)

// defaultV4Prefix mirrors the reference implementation's
// PAL_CONF_DFLT_V4_PREFIX: the IPv4 address space mapped bit-for-bit
// into ::ffff:10.0.0.0/104 (10.0.0.0/8 in the IPv4-mapped range) so the
// same prefix-bearing TLVs and PA rules serve both families.
var defaultV4Prefix = netip.MustParsePrefix("::ffff:10.0.0.0/104")

// ulaMaxBackoffMillis bounds the randomized delay before generating a
// spontaneous ULA/IPv4 DP, avoiding simultaneous generation storms when
// several nodes boot together.
const ulaMaxBackoffMillis = 3000

const (
	localValidLifetime  = 24 * time.Hour
	localPrefLifetime   = 12 * time.Hour
)

// SpontaneousConfig controls §4.7 generation.
type SpontaneousConfig struct {
	EnableULA  bool
	EnableV4   bool
	ULACachePrefix *netip.Prefix // reused across restarts if set
	V4Prefix   netip.Prefix // defaults to defaultV4Prefix if zero
}

// GenerationBackoff returns a uniformly random delay in [10, 3010)ms, the
// same window the reference implementation waits before generating a
// spontaneous prefix, to desynchronize nodes booting at the same time.
func GenerationBackoff(rng *mrand.Rand) time.Duration {
	return 10*time.Millisecond + time.Duration(rng.Intn(ulaMaxBackoffMillis))*time.Millisecond
}

// GenerateULA returns a random /48 in fc00::/7 with the locally-assigned
// bit (fd00::/8) set, as RFC 4193 requires, reusing cached if non-nil.
func GenerateULA(cached *netip.Prefix) (netip.Prefix, error) {
	if cached != nil {
		return *cached, nil
	}
	var addr [16]byte
	addr[0] = 0xfd
	if _, err := rand.Read(addr[1:6]); err != nil {
		return netip.Prefix{}, err
	}
	a := netip.AddrFrom16(addr)
	return a.Prefix(48)
}

// HasBetterUplink reports whether remoteDPs holds any DP whose SourceType
// is not "local": any real external connection wins over a
// locally-generated fallback. The address family of the DPs and the
// advertising node's identifier are not considered.
func HasBetterUplink(remoteDPs []pa.DP) bool {
	for _, dp := range remoteDPs {
		if dp.SourceType != "local" {
			return true
		}
	}
	return false
}

// SpontaneousDP builds the local DP to publish for ULA or IPv4 fallback
// generation, given the already-resolved prefix.
func SpontaneousDP(prefix netip.Prefix, now time.Time) pa.DP {
	return pa.DP{
		Prefix:     prefix,
		SourceType: "local",
		ValidUntil: now.Add(localValidLifetime),
		PrefUntil:  now.Add(localPrefLifetime),
	}
}

// DefaultV4Prefix returns the configured v4 prefix or the reference
// default if cfg.V4Prefix is the zero value.
func (cfg SpontaneousConfig) DefaultV4Prefix() netip.Prefix {
	if cfg.V4Prefix == (netip.Prefix{}) {
		return defaultV4Prefix
	}
	return cfg.V4Prefix
}
