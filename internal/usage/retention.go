package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	sweepInterval = time.Hour
	sweepTimeout  = 5 * time.Minute
)

// purgeFunc deletes records created before cutoff and reports how many.
type purgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// retention sweeps expired records once at start and then hourly.
type retention struct {
	stop chan struct{}
	once sync.Once
}

func startRetention(days int, purge purgeFunc) *retention {
	r := &retention{stop: make(chan struct{})}
	if days > 0 {
		go r.loop(days, purge)
	}
	return r
}

func (r *retention) loop(days int, purge purgeFunc) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		sweep(days, purge)
		select {
		case <-ticker.C:
		case <-r.stop:
			return
		}
	}
}

func sweep(days int, purge purgeFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	n, err := purge(ctx, cutoff)
	if err != nil {
		slog.Error("usage retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("usage retention sweep", "deleted", n, "cutoff", cutoff)
	}
}

func (r *retention) halt() {
	r.once.Do(func() { close(r.stop) })
}
