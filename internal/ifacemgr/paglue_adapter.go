package ifacemgr

import (
	"time"

	"github.com/anvil-networks/hncpd/internal/pa"
)

// ToDP converts an acquired uplink Prefix into the PA core's DP shape.
// Source maps directly onto the DP's source-type attribute; valid and
// preferred deadlines are ReceivedAt plus the respective lifetime.
func (p Prefix) ToDP() pa.DP {
	dp := pa.DP{
		Prefix:     p.Network,
		SourceType: string(p.Source),
	}
	if p.ValidLifetime > 0 {
		dp.ValidUntil = p.ReceivedAt.Add(p.ValidLifetime)
	}
	if p.PreferredLifetime > 0 {
		dp.PrefUntil = p.ReceivedAt.Add(p.PreferredLifetime)
	}
	return dp
}

// Expired reports whether p's valid lifetime has elapsed as of now.
func (p Prefix) Expired(now time.Time) bool {
	return p.ValidLifetime > 0 && now.After(p.ReceivedAt.Add(p.ValidLifetime))
}
