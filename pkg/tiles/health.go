package tiles

import (
	"context"

	"github.com/dd0wney/cluso-geoengine/pkg/health"
)

// Ping verifies the metadata database answers
func (m *MetadataStore) Ping(ctx context.Context) error {
	if m == nil || m.db == nil {
		return ErrStoreClosed
	}
	return m.db.PingContext(ctx)
}

// RegisterHealthChecks adds the tile cache checks to hc
func (u *UnifiedTileCacheSource) RegisterHealthChecks(hc *health.HealthChecker, meta *MetadataStore) {
	hc.Register("tile_metadata", health.ProbeHealth|health.ProbeReady, health.DatabaseCheck(meta.Ping))
	hc.Register("live_tiles", health.ProbeHealth, health.CapacityCheck("live_tiles", func(ctx context.Context) (int64, int64, error) {
		_, used, err := u.live.Usage(ctx)
		var limit int64
		if u.settings != nil {
			limit = u.settings.Snapshot().Tiles.LiveCacheMaxBytes
		}
		return used, limit, err
	}))
	if u.conn != nil {
		hc.Register("connectivity", health.ProbeHealth, health.ConnectivityCheck(u.conn.HasInternet))
	}
}
