package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/repository"
	"github.com/amirphl/segment-engine/utils"
)

// Enqueuer accepts recomputation triggers
type Enqueuer interface {
	Enqueue(segmentID uint) error
}

// SegmentScheduler periodically enqueues the periodic segments whose interval has elapsed
type SegmentScheduler struct {
	segments        repository.SegmentRepository
	queue           Enqueuer
	logger          *log.Logger
	interval        time.Duration
	defaultInterval time.Duration
	now             func() time.Time
}

func NewSegmentScheduler(segments repository.SegmentRepository, queue Enqueuer, logger *log.Logger, interval, defaultInterval time.Duration) *SegmentScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if defaultInterval <= 0 {
		defaultInterval = time.Hour
	}
	return &SegmentScheduler{
		segments:        segments,
		queue:           queue,
		logger:          logger,
		interval:        interval,
		defaultInterval: defaultInterval,
		now:             utils.UTCNow,
	}
}

// Start launches the scheduler loop in a background goroutine and returns a stop function
func (s *SegmentScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.resumeInterrupted(ctx)
		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return cancel
}

// resumeInterrupted re-enqueues segments left in_process by a previous run,
// manual ones included
func (s *SegmentScheduler) resumeInterrupted(ctx context.Context) {
	status := models.SegmentStatusInProcess
	rows, err := s.segments.ByFilter(ctx, models.SegmentFilter{
		Status:     &status,
		IsArchived: utils.ToPtr(false),
		IsDeleted:  utils.ToPtr(false),
	}, "id ASC", 0, 0)
	if err != nil {
		s.logger.Printf("scheduler: list interrupted segments failed: %v", err)
		return
	}
	for _, seg := range rows {
		s.enqueue(seg.ID)
	}
	if len(rows) > 0 {
		s.logger.Printf("scheduler: resumed %d interrupted segments", len(rows))
	}
}

func (s *SegmentScheduler) runOnce(ctx context.Context) {
	rows, err := s.segments.ListForRecompute(ctx)
	if err != nil {
		s.logger.Printf("scheduler: list segments failed: %v", err)
		return
	}
	now := s.now()
	due := 0
	for _, seg := range rows {
		if !s.isDue(seg, now) {
			continue
		}
		s.enqueue(seg.ID)
		due++
	}
	if due > 0 {
		s.logger.Printf("scheduler: enqueued %d of %d periodic segments", due, len(rows))
	}
}

func (s *SegmentScheduler) enqueue(id uint) {
	if err := s.queue.Enqueue(id); err != nil {
		s.logger.Printf("scheduler: enqueue segment %d failed: %v", id, err)
	}
}

func (s *SegmentScheduler) intervalOf(seg *models.Segment) time.Duration {
	if len(seg.UpdateSettings) == 0 {
		return s.defaultInterval
	}
	var settings models.SegmentUpdateSettings
	if err := json.Unmarshal(seg.UpdateSettings, &settings); err != nil || settings.IntervalMinutes <= 0 {
		return s.defaultInterval
	}
	return time.Duration(settings.IntervalMinutes) * time.Minute
}

func (s *SegmentScheduler) isDue(seg *models.Segment, now time.Time) bool {
	if seg.TypeOfUpdate != models.SegmentUpdatePeriodic {
		return false
	}
	if seg.RecalculatedAt == nil {
		return true
	}
	return !now.Before(seg.RecalculatedAt.Add(s.intervalOf(seg)))
}
