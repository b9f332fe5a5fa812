package hostinfo

import (
	"log/slog"
	"time"

	"github.com/loopdeck/loopdeck/internal/db"
)

const retention = 24 * time.Hour

// Poller periodically stores host samples in the run-history database.
type Poller struct {
	store    *db.DB
	interval time.Duration
	stop     chan struct{}
	logger   *slog.Logger
}

func NewPoller(store *db.DB, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		logger:   logger,
	}
}

func (p *Poller) Start() {
	go func() {
		p.poll()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.poll()
			case <-p.stop:
				return
			}
		}
	}()
}

func (p *Poller) Stop() {
	close(p.stop)
}

func (p *Poller) poll() {
	m := Sample()
	snap := db.HostSnapshot{
		TsMs:            time.Now().UnixMilli(),
		CPUPercent:      m.CPUPercent,
		MemTotal:        m.MemTotal,
		MemUsed:         m.MemUsed,
		MemUsedPercent:  m.MemUsedPercent,
		DiskUsedPercent: m.DiskUsedPercent,
		Load1:           m.Load1,
	}
	if err := p.store.InsertHostSnapshot(&snap); err != nil {
		p.logger.Debug("host snapshot insert failed", "err", err)
		return
	}
	if err := p.store.PruneHostSnapshots(time.Now().Add(-retention)); err != nil {
		p.logger.Debug("host snapshot prune failed", "err", err)
	}
}
