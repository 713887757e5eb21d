package control

import (
	"context"
	"log"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/metrics"
)

// StatsSource reports the per-session request/drop rates to fold into each
// KeepAlive.
type StatsSource interface {
	SessionStats() []domain.ModelStats
}

// HeartbeatDaemon sends KeepAlive every interval and logs per-model
// rps/drop-rate. Errors are logged, never fatal (spec §4.6, §7).
type HeartbeatDaemon struct {
	client   domain.SchedulerClient
	stats    StatsSource
	nodeID   string
	interval time.Duration
}

// NewHeartbeatDaemon creates a daemon posting KeepAlive for nodeID.
func NewHeartbeatDaemon(client domain.SchedulerClient, stats StatsSource, nodeID string, interval time.Duration) *HeartbeatDaemon {
	return &HeartbeatDaemon{client: client, stats: stats, nodeID: nodeID, interval: interval}
}

// Run blocks, sending a KeepAlive every interval until ctx is cancelled.
func (h *HeartbeatDaemon) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *HeartbeatDaemon) beat(ctx context.Context) {
	stats := h.stats.SessionStats()
	for _, s := range stats {
		metrics.RequestRate.WithLabelValues(s.SessionID).Set(s.RPS)
		metrics.DropRate.WithLabelValues(s.SessionID).Set(s.DropRate)
		log.Printf("[control] session=%s rps=%.2f drop_rate=%.4f", s.SessionID, s.RPS, s.DropRate)
	}
	if err := h.client.KeepAlive(ctx, h.nodeID, stats); err != nil {
		metrics.HeartbeatErrors.Inc()
		log.Printf("[control] keepalive failed: %v", err)
	}
}
