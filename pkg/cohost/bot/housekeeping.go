package bot

import (
	"context"
	"fmt"

	"github.com/jholhewres/cohost/pkg/cohost/audio"
	"github.com/jholhewres/cohost/pkg/cohost/scheduler"
)

// Housekeeping configures the periodic maintenance jobs.
type Housekeeping struct {
	// Cache is trimmed to CacheMaxEntries every hour when set.
	Cache           *audio.Cache
	CacheMaxEntries int

	// RotateLogs runs at midnight when set.
	RotateLogs func() error
}

// RegisterHousekeeping adds the maintenance jobs to s.
func (c *Controller) RegisterHousekeeping(s *scheduler.Scheduler, h Housekeeping) error {
	err := s.Add("dialogue-prune", "@every 1m", func(context.Context) error {
		c.deps.Dialogue.Prune()
		return nil
	})
	if err != nil {
		return err
	}

	if h.Cache != nil && h.CacheMaxEntries > 0 {
		err := s.Add("tts-cache-trim", "@hourly", func(context.Context) error {
			removed, err := h.Cache.Trim(h.CacheMaxEntries)
			if err != nil {
				return fmt.Errorf("trimming speech cache: %w", err)
			}
			if removed > 0 {
				c.logger.Info("speech cache trimmed", "removed", removed)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if h.RotateLogs != nil {
		err := s.Add("log-rotate", "0 0 * * *", func(context.Context) error {
			return h.RotateLogs()
		})
		if err != nil {
			return err
		}
	}
	return nil
}
