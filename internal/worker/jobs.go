package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper is anything holding expiring in-memory entries.
type Sweeper interface {
	Sweep() int
}

// SweepJob evicts entries that lazy eviction would never reach because
// nobody looks their key up again.
func SweepJob(name string, every time.Duration, s Sweeper, logger zerolog.Logger) Job {
	return Job{
		Name:  name,
		Every: every,
		Run: func(context.Context) {
			if n := s.Sweep(); n > 0 {
				logger.Debug().Str("job", name).Int("evicted", n).Msg("sweep")
			}
		},
	}
}
