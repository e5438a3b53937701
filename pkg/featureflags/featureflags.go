package featureflags

import (
	"context"
	"sync"
	"time"

	"vaultkey-controlplane/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// LedgerCrossCheck gates the advisory ledger lookup during verification.
const LedgerCrossCheck = "ledger_cross_check"

const refreshInterval = 30 * time.Second

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

type FeatureFlag interface {
	Enabled(ctx context.Context, name string, fallback bool) bool
}

// Static serves fixed values. Unknown flags get the caller's fallback.
type Static map[string]bool

func (s Static) Enabled(_ context.Context, name string, fallback bool) bool {
	if v, ok := s[name]; ok {
		return v
	}
	return fallback
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

// ProvideFeatureFlag reads environment flags from Flagsmith when an API key is
// configured; otherwise every flag takes its fallback.
func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return Static{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithRequestTimeout(2 * time.Second),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}
	client := flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...)

	return newCached(func() (map[string]bool, error) {
		flags, err := client.GetEnvironmentFlags()
		if err != nil {
			return nil, err
		}
		out := make(map[string]bool)
		for _, f := range flags.AllFlags() {
			out[f.FeatureName] = f.Enabled
		}
		return out, nil
	}, refreshInterval)
}

// cached refreshes the whole flag set at most once per interval, so hot paths
// never wait on the flag service more than that. A failed refresh keeps the last
// known values.
type cached struct {
	fetch    func() (map[string]bool, error)
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	values    map[string]bool
	fetchedAt time.Time
}

func newCached(fetch func() (map[string]bool, error), interval time.Duration) *cached {
	return &cached{fetch: fetch, interval: interval, now: time.Now}
}

func (c *cached) Enabled(_ context.Context, name string, fallback bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now := c.now(); now.Sub(c.fetchedAt) >= c.interval {
		values, err := c.fetch()
		c.fetchedAt = now
		if err != nil {
			zap.L().Warn("feature flag refresh failed, keeping previous values", zap.Error(err))
		} else {
			c.values = values
		}
	}

	if v, ok := c.values[name]; ok {
		return v
	}
	return fallback
}
