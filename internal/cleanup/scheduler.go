package cleanup

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler removes stale scratch files left behind by crashed or killed jobs
type Scheduler struct {
	dirs     []string
	interval time.Duration
	maxAge   time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewScheduler creates a new cleanup scheduler sweeping dirs
func NewScheduler(dirs []string, intervalMinutes, maxAgeHours int, logger logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		dirs:     dirs,
		interval: time.Duration(intervalMinutes) * time.Minute,
		maxAge:   time.Duration(maxAgeHours) * time.Hour,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one sweep immediately and then every interval
func (s *Scheduler) Start() {
	s.logger.Info("Running initial scratch file cleanup")
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopChan:
				return
			}
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"interval": s.interval,
		"max_age":  s.maxAge,
		"dirs":     s.dirs,
	}).Info("Cleanup scheduler started")
}

// Stop stops the scheduler and waits for an in-flight sweep
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		s.logger.Info("Cleanup scheduler stopped")
	})
}

// Sweep deletes files older than the max age and returns how many were removed
func (s *Scheduler) Sweep() int {
	now := s.now()
	var deletedCount int
	var deletedSize int64

	for _, dir := range s.dirs {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil // Skip files we can't access
			}
			if info.IsDir() {
				return nil
			}

			age := now.Sub(info.ModTime())
			if age <= s.maxAge {
				return nil
			}
			if err := os.Remove(path); err != nil {
				s.logger.WithError(err).WithField("path", path).Warn("Failed to delete old file")
				return nil
			}
			deletedCount++
			deletedSize += info.Size()
			s.logger.WithFields(logrus.Fields{
				"file": filepath.Base(path),
				"age":  age.Round(time.Minute),
			}).Debug("Deleted old scratch file")
			return nil
		})
		if err != nil {
			s.logger.WithError(err).WithField("dir", dir).Warn("Error during cleanup")
		}
	}

	if deletedCount > 0 {
		s.logger.Infof("Cleanup complete: %d files deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
	return deletedCount
}

// EnsureDirs creates each directory if it doesn't exist
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
