package segmentation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/repository"
	"github.com/amirphl/segment-engine/utils"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	// statusWriteTimeout bounds the error status write after the run context is gone
	statusWriteTimeout = 10 * time.Second
	// candidateLoadTimeout bounds a shared candidate load
	candidateLoadTimeout = 2 * time.Minute
)

// Result describes one finished recomputation
type Result struct {
	SegmentID     uint
	Status        models.SegmentStatus
	CorrelationID string
	Plan          *Plan
	Diff          DiffResult
	Report        DispatchReport
	NoOp          bool
}

// Engine recomputes segments: compile, evaluate, diff, commit, dispatch
type Engine struct {
	db         *gorm.DB
	segments   repository.SegmentRepository
	snapshots  repository.SegmentSnapshotRepository
	docs       repository.SalesDocumentRepository
	evaluator  *Evaluator
	dispatcher *Dispatcher
	logger     *log.Logger
	candidates singleflight.Group
	now        func() time.Time
}

func NewEngine(
	db *gorm.DB,
	segments repository.SegmentRepository,
	snapshots repository.SegmentSnapshotRepository,
	docs repository.SalesDocumentRepository,
	evaluator *Evaluator,
	dispatcher *Dispatcher,
	logger *log.Logger,
) *Engine {
	return &Engine{
		db:         db,
		segments:   segments,
		snapshots:  snapshots,
		docs:       docs,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		logger:     logger,
		now:        utils.UTCNow,
	}
}

// Run adapts Recompute to the work queue
func (e *Engine) Run(ctx context.Context, segmentID uint) error {
	_, err := e.Recompute(ctx, segmentID)
	return err
}

// Recompute runs the whole pipeline for one segment. Missing, deleted and
// archived segments are a no-op. Any failure leaves the segment in error.
func (e *Engine) Recompute(ctx context.Context, segmentID uint) (res *Result, err error) {
	start := time.Now()
	segment, err := e.segments.ByID(ctx, segmentID)
	if err != nil {
		return nil, fmt.Errorf("load segment %d: %w", segmentID, err)
	}
	if segment == nil || segment.IsDeleted || segment.IsArchived {
		return &Result{SegmentID: segmentID, NoOp: true}, nil
	}

	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			e.markError(ctx, segmentID, err)
		}
		recomputationsTotal.WithLabelValues(status).Inc()
		recomputeDuration.Observe(time.Since(start).Seconds())
	}()

	if err := e.segments.MarkInProcess(ctx, segmentID); err != nil {
		return nil, fmt.Errorf("mark segment %d in process: %w", segmentID, err)
	}

	plan, err := Compile(json.RawMessage(segment.Criteria))
	if err != nil {
		return nil, err
	}
	if len(plan.Skipped) > 0 {
		e.logger.Printf("segment %d: skipped unknown criteria %v", segmentID, plan.Skipped)
	}

	candidates, err := e.loadCandidates(ctx, segment.CashboxID)
	if err != nil {
		return nil, err
	}

	memo := NewMemo(e.now())
	documents, err := e.evaluator.Evaluate(ctx, segment.CashboxID, plan, candidates, memo)
	if err != nil {
		return nil, err
	}
	owners, err := memo.Contragents(ctx, e.docs, documents)
	if err != nil {
		return nil, fmt.Errorf("resolve contragents: %w", err)
	}
	contragents := make([]int64, 0, len(owners))
	for _, cid := range owners {
		if cid != nil {
			contragents = append(contragents, *cid)
		}
	}
	current := Membership{Documents: NewIDSet(documents), Contragents: NewIDSet(contragents)}

	previous, err := e.snapshots.Latest(ctx, segmentID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	diff := Diff(MembershipOf(previous), current)

	correlationID := uuid.NewString()
	err = repository.WithTransaction(ctx, e.db, func(txCtx context.Context) error {
		if _, err := e.snapshots.Insert(txCtx, segmentID, correlationID, current.Documents, current.Contragents); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		return e.segments.CommitRecomputation(txCtx, segmentID, diff.Counters())
	})
	if err != nil {
		return nil, fmt.Errorf("commit segment %d: %w", segmentID, err)
	}

	report, err := e.dispatch(ctx, segment, diff, memo)
	if err != nil {
		return nil, err
	}

	e.logger.Printf("segment %d recomputed in %s: docs=%d (+%d/-%d) contragents=%d (+%d/-%d) actions ok=%d skipped=%d failed=%d correlation=%s",
		segmentID, time.Since(start).Round(time.Millisecond),
		diff.Documents.Current.Len(), diff.Documents.Added.Len(), diff.Documents.Removed.Len(),
		diff.Contragents.Current.Len(), diff.Contragents.Added.Len(), diff.Contragents.Removed.Len(),
		len(report.Executed), len(report.Skipped), len(report.Failed), correlationID)

	return &Result{
		SegmentID:     segmentID,
		Status:        models.SegmentStatusReady,
		CorrelationID: correlationID,
		Plan:          plan,
		Diff:          diff,
		Report:        report,
	}, nil
}

// loadCandidates coalesces concurrent loads of the same tenant's document ids.
// The shared load is detached from the caller so one cancelled segment cannot
// fail the other segments waiting on it.
func (e *Engine) loadCandidates(ctx context.Context, cashboxID int64) ([]int64, error) {
	ch := e.candidates.DoChan(strconv.FormatInt(cashboxID, 10), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), candidateLoadTimeout)
		defer cancel()
		return e.docs.ListActiveIDs(loadCtx, cashboxID)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load candidates: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("load candidates: %w", res.Err)
		}
		return res.Val.([]int64), nil
	}
}

// dispatch runs the actions; a panic in a handler fails the recomputation
func (e *Engine) dispatch(ctx context.Context, segment *models.Segment, diff DiffResult, memo *Memo) (report DispatchReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()
	return e.dispatcher.Dispatch(ctx, segment, diff, memo), nil
}

func (e *Engine) markError(ctx context.Context, segmentID uint, cause error) {
	e.logger.Printf("segment %d failed: %v", segmentID, cause)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if err := e.segments.UpdateStatus(writeCtx, segmentID, models.SegmentStatusError); err != nil {
		e.logger.Printf("segment %d: failed to set error status: %v", segmentID, err)
	}
}
