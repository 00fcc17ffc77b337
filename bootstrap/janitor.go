package bootstrap

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xancrypt/xancrypt/adapters/archive"
	"github.com/xancrypt/xancrypt/ports"
)

// ArchiveJanitor periodically deletes archives older than the retention period.
// The registry removes the archives it tracks; the janitor catches the rest,
// such as files left behind by a crashed process.
type ArchiveJanitor struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	clock     ports.Clock
	logger    zerolog.Logger

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewArchiveJanitor creates a janitor sweeping dir every interval.
// A zero interval selects half the retention period.
func NewArchiveJanitor(dir string, retention, interval time.Duration, clock ports.Clock, logger zerolog.Logger) *ArchiveJanitor {
	if interval <= 0 {
		interval = retention / 2
	}
	if interval < time.Second {
		interval = time.Second
	}
	return &ArchiveJanitor{
		dir:       dir,
		retention: retention,
		interval:  interval,
		clock:     clock,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (j *ArchiveJanitor) Start() {
	j.wg.Add(1)
	go j.loop()
}

// Sweep runs one pass and returns the number of deleted archives.
func (j *ArchiveJanitor) Sweep() int {
	n, err := archive.Sweep(j.dir, j.retention, j.clock.Now())
	if err != nil {
		j.logger.Warn().Err(err).Str("dir", j.dir).Msg("archive sweep failed")
		return n
	}
	if n > 0 {
		j.logger.Info().Int("removed", n).Msg("expired archives removed")
	}
	return n
}

func (j *ArchiveJanitor) loop() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Sweep()
		case <-j.stopCh:
			return
		}
	}
}

// Close stops the loop and waits for a running sweep to finish.
func (j *ArchiveJanitor) Close() error {
	j.closeOnce.Do(func() {
		close(j.stopCh)
		j.wg.Wait()
	})
	return nil
}
