package gc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/marmos91/atipioc/internal/logger"
	"github.com/marmos91/atipioc/pkg/store/dbfile"
)

// Collector prunes old database files of one IOC from a dbfile sink.
//
// Every IOC run writes a new "<ioc>/<run id>.db". The collector keeps the
// newest Retain files (and, when MaxAge is set, drops anything older even
// if that leaves fewer), never touching the file of the current run.
//
// Lifecycle:
//
//	c := gc.NewCollector(sink, "atip", currentKey, cfg)
//	c.Start()
//	defer c.Stop(ctx)
type Collector struct {
	sink    dbfile.Sink
	ioc     string
	current string
	config  Config
	stopCh  chan struct{}
	doneCh  chan struct{}
	now     func() time.Time
}

// Config controls retention.
type Config struct {
	// Enabled turns on the periodic worker. RunNow works either way.
	Enabled bool `mapstructure:"enabled"`

	// Interval between collections. Default: 1h
	Interval time.Duration `mapstructure:"interval" validate:"min=0"`

	// Retain is how many database files to keep. Default: 20
	Retain int `mapstructure:"retain" validate:"min=0"`

	// MaxAge deletes files older than this regardless of Retain. 0 disables.
	MaxAge time.Duration `mapstructure:"max_age" validate:"min=0"`

	// DryRun logs what would be deleted without deleting.
	DryRun bool `mapstructure:"dry_run"`
}

// NewCollector creates a stopped collector for ioc. current is the key of
// the running IOC's own file; it is never deleted.
func NewCollector(sink dbfile.Sink, ioc, current string, config Config) *Collector {
	if config.Interval == 0 {
		config.Interval = time.Hour
	}
	if config.Retain == 0 {
		config.Retain = 20
	}

	return &Collector{
		sink:    sink,
		ioc:     ioc,
		current: current,
		config:  config,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Start launches the background worker if enabled.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Debug("dbfile retention disabled")
		close(c.doneCh)
		return
	}

	logger.Info("Starting dbfile retention: interval=%s retain=%d max_age=%s dry_run=%v",
		c.config.Interval, c.config.Retain, c.config.MaxAge, c.config.DryRun)

	go c.worker()
}

// Stop signals the worker and waits for it until ctx ends. Call at most once.
func (c *Collector) Stop(ctx context.Context) error {
	close(c.stopCh)

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		logger.Warn("dbfile retention shutdown timeout")
		return ctx.Err()
	}
}

// RunNow runs one collection synchronously.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	// Collect once at startup so a crash-looping IOC cannot fill the sink.
	c.runLogged()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runLogged()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) runLogged() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stats, err := c.collect(ctx)
	if err != nil {
		logger.Error("dbfile retention failed: %v", err)
		return
	}
	logger.Debug("dbfile retention completed: %s", stats.Summary())
}

func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: c.now()}

	entries, err := c.sink.List(ctx, dbfile.Prefix(c.ioc))
	if err != nil {
		return stats, fmt.Errorf("failed to list database files: %w", err)
	}
	stats.ExistingCount = uint64(len(entries))

	expired := c.selectExpired(entries)
	stats.ExpiredCount = uint64(len(expired))

	if len(expired) == 0 || c.config.DryRun {
		for _, e := range expired {
			logger.Info("dbfile retention: DRY RUN would delete %s", e.Key)
		}
		stats.EndTime = c.now()
		return stats, nil
	}

	for _, e := range expired {
		if err := ctx.Err(); err != nil {
			stats.EndTime = c.now()
			return stats, err
		}

		if err := c.sink.Delete(ctx, e.Key); err != nil {
			logger.Warn("dbfile retention: failed to delete %s: %v", e.Key, err)
			stats.FailedCount++
			continue
		}
		logger.Debug("dbfile retention: deleted %s", e.Key)
		stats.DeletedCount++
	}

	stats.EndTime = c.now()
	if stats.DeletedCount > 0 {
		logger.Info("dbfile retention: deleted %d file(s), %d failed", stats.DeletedCount, stats.FailedCount)
	}
	return stats, nil
}

// selectExpired returns entries past Retain (newest first) or older than MaxAge.
func (c *Collector) selectExpired(entries []dbfile.Entry) []dbfile.Entry {
	sorted := make([]dbfile.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ModTime.Equal(sorted[j].ModTime) {
			return sorted[i].ModTime.After(sorted[j].ModTime)
		}
		return sorted[i].Key > sorted[j].Key
	})

	var expired []dbfile.Entry
	kept := 0
	for _, e := range sorted {
		if e.Key == c.current {
			kept++
			continue
		}

		tooOld := c.config.MaxAge > 0 && c.now().Sub(e.ModTime) > c.config.MaxAge
		if kept >= c.config.Retain || tooOld {
			expired = append(expired, e)
			continue
		}
		kept++
	}
	return expired
}

// Stats describes one collection.
type Stats struct {
	StartTime     time.Time
	EndTime       time.Time
	ExistingCount uint64
	ExpiredCount  uint64
	DeletedCount  uint64
	FailedCount   uint64
}

// Duration returns how long the collection took.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a one-line summary for logging.
func (s *Stats) Summary() string {
	return fmt.Sprintf("existing=%d expired=%d deleted=%d failed=%d duration=%s",
		s.ExistingCount, s.ExpiredCount, s.DeletedCount, s.FailedCount, s.Duration())
}
