package segmentation

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/repository"
	"github.com/amirphl/segment-engine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Method string
	URL    string
	Body   string
}

type recordingSender struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (s *recordingSender) Send(_ context.Context, method, url string, _ map[string]string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, recordedCall{Method: method, URL: url, Body: string(body)})
	return nil
}

func (s *recordingSender) URLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.URL
	}
	return out
}

type panickingAction struct{}

func (panickingAction) Type() string                   { return "send_notification" }
func (panickingAction) Entities() []Entity             { return []Entity{EntityContragents} }
func (panickingAction) Validate(json.RawMessage) error { return nil }
func (panickingAction) Execute(context.Context, ActionRequest) error {
	panic("notifier exploded")
}

func TestEngineRecomputeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var loyal []int64
	var firstDocs = map[int64]int64{}
	for i := 0; i < 5; i++ {
		c, err := env.fx.CreateContragent(testCashbox, "loyal")
		require.NoError(t, err)
		docs, err := env.fx.CreateDocuments(testCashbox, c.ID, 3)
		require.NoError(t, err)
		loyal = append(loyal, c.ID)
		firstDocs[c.ID] = docs[0].ID
	}
	casual, err := env.fx.CreateContragent(testCashbox, "casual")
	require.NoError(t, err)
	_, err = env.fx.CreateDocuments(testCashbox, casual.ID, 2)
	require.NoError(t, err)

	segment, err := env.fx.CreateSegment(testCashbox, "regulars",
		map[string]any{"purchases": map[string]any{"count": map[string]any{"gte": 3}}},
		map[string]any{
			"add_contragent_tags": map[string]any{"trigger_on_new": true, "tags": []string{"regular"}},
			"send_request": map[string]any{
				"trigger_on_removed": true,
				"entity":             "contragents",
				"url":                "https://crm.example.com/lost/{id}",
				"body":               map[string]any{"customer": "{id}"},
				"delay_ms":           0,
			},
		})
	require.NoError(t, err)

	sender := &recordingSender{}
	engine := env.engine(append(NewTagActions(RepositoryTagMutator{Tags: env.tags}), NewWebhookAction(sender, 0))...)

	// first run: every regular customer enters
	res, err := engine.Recompute(ctx, segment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentStatusReady, res.Status)
	assert.Equal(t, NewIDSet(loyal), res.Diff.Contragents.Current)
	assert.Equal(t, NewIDSet(loyal), res.Diff.Contragents.Added)
	assert.Empty(t, res.Diff.Contragents.Removed)
	assert.Equal(t, 15, res.Diff.Documents.Current.Len())
	assert.Equal(t, []string{"add_contragent_tags"}, res.Report.Executed)
	assert.Equal(t, []string{"send_request"}, res.Report.Skipped)

	tagged, err := env.tags.Count(ctx, models.TagEntityContragent, models.TagFilter{Name: utils.ToPtr("regular")})
	require.NoError(t, err)
	assert.Equal(t, int64(5), tagged)

	stored, err := env.segments.ByID(ctx, segment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentStatusReady, stored.Status)
	assert.Equal(t, 5, stored.ContragentsCount)
	assert.Equal(t, 5, stored.AddedContragentsCount)
	assert.Equal(t, 5, stored.EnteredContragentsCount)
	assert.Equal(t, 15, stored.DocsCount)
	assert.NotNil(t, stored.RecalculatedAt)

	snapshot, err := env.snapshots.Latest(ctx, segment.ID)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, res.CorrelationID, snapshot.CorrelationID)

	// second run over unchanged data detects nothing
	res, err = engine.Recompute(ctx, segment.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Diff.Contragents.Added)
	assert.Empty(t, res.Diff.Contragents.Removed)
	assert.Empty(t, res.Diff.Documents.Added)
	assert.Empty(t, res.Report.Executed)
	assert.Empty(t, sender.URLs())

	// one regular drops to two documents and exits
	leaving := loyal[2]
	require.NoError(t, env.docs.SoftDelete(ctx, firstDocs[leaving]))

	res, err = engine.Recompute(ctx, segment.ID)
	require.NoError(t, err)
	assert.Equal(t, IDSet{leaving}, res.Diff.Contragents.Removed)
	assert.Empty(t, res.Diff.Contragents.Added)
	assert.Equal(t, 3, res.Diff.Documents.Removed.Len())
	assert.Equal(t, []string{"send_request"}, res.Report.Executed)

	calls := sender.calls
	require.Len(t, calls, 1)
	assert.Equal(t, "POST", calls[0].Method)
	assert.Equal(t, "https://crm.example.com/lost/"+formatID(leaving), calls[0].URL)
	assert.JSONEq(t, `{"customer": "`+formatID(leaving)+`"}`, calls[0].Body)

	stored, err = env.segments.ByID(ctx, segment.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.ContragentsCount)
	assert.Equal(t, 1, stored.DeletedContragentsCount)
	assert.Equal(t, 1, stored.ExitedContragentsCount)
	assert.Equal(t, 0, stored.AddedContragentsCount)

	history, err := env.snapshots.ListBySegment(ctx, segment.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestEngineCompileErrorMarksSegment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	segment, err := env.fx.CreateSegment(testCashbox, "broken",
		map[string]any{"purchases": map[string]any{"count": map[string]any{"gte": 9, "lte": 1}}}, nil)
	require.NoError(t, err)

	_, err = env.engine().Recompute(ctx, segment.ID)
	require.Error(t, err)
	assert.True(t, IsCompilationError(err))

	stored, err := env.segments.ByID(ctx, segment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentStatusError, stored.Status)

	snapshot, err := env.snapshots.Latest(ctx, segment.ID)
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestEngineSkipsInactiveSegments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	archived, err := env.fx.CreateSegment(testCashbox, "archived", map[string]any{}, nil)
	require.NoError(t, err)
	require.NoError(t, env.segments.SetArchived(ctx, archived.ID, true))
	deleted, err := env.fx.CreateSegment(testCashbox, "deleted", map[string]any{}, nil)
	require.NoError(t, err)
	require.NoError(t, env.segments.SoftDelete(ctx, deleted.ID))

	engine := env.engine()
	for _, id := range []uint{archived.ID, deleted.ID, 9999} {
		res, err := engine.Recompute(ctx, id)
		require.NoError(t, err)
		assert.True(t, res.NoOp)
	}

	stored, err := env.segments.ByID(ctx, archived.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentStatusInProcess, stored.Status)
}

func TestEngineDispatchPanicMarksError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.fx.CreateContragent(testCashbox, "x")
	require.NoError(t, err)
	_, err = env.fx.CreateDocument(testCashbox, c.ID)
	require.NoError(t, err)
	segment, err := env.fx.CreateSegment(testCashbox, "panics", map[string]any{},
		map[string]any{"send_notification": map[string]any{"text": "hi"}})
	require.NoError(t, err)

	err = env.engine(panickingAction{}).Run(ctx, segment.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifier exploded")

	stored, err := env.segments.ByID(ctx, segment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentStatusError, stored.Status)

	// the membership was committed before dispatch
	snapshot, err := env.snapshots.Latest(ctx, segment.ID)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Len(t, snapshot.ContragentIDs, 1)
}

type blockingDocs struct {
	repository.SalesDocumentRepository
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (d *blockingDocs) ListActiveIDs(ctx context.Context, _ int64) ([]int64, error) {
	if d.calls.Add(1) == 1 {
		close(d.started)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.release:
		return []int64{1, 2, 3}, nil
	}
}

func TestLoadCandidatesSurvivesOtherCallersCancel(t *testing.T) {
	env := newTestEnv(t)
	engine := env.engine()
	docs := &blockingDocs{
		SalesDocumentRepository: env.docs,
		started:                 make(chan struct{}),
		release:                 make(chan struct{}),
	}
	engine.docs = docs

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancelledErr := make(chan error, 1)
	go func() {
		_, err := engine.loadCandidates(cancelledCtx, testCashbox)
		cancelledErr <- err
	}()
	<-docs.started

	type loaded struct {
		ids []int64
		err error
	}
	other := make(chan loaded, 1)
	go func() {
		ids, err := engine.loadCandidates(context.Background(), testCashbox)
		other <- loaded{ids: ids, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-cancelledErr, context.Canceled)

	close(docs.release)
	res := <-other
	require.NoError(t, res.err)
	assert.Equal(t, []int64{1, 2, 3}, res.ids)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
