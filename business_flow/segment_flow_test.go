package businessflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/amirphl/segment-engine/app/dto"
	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/repository"
	"github.com/amirphl/segment-engine/segmentation"
	testingutil "github.com/amirphl/segment-engine/testing"
	"github.com/amirphl/segment-engine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeTrigger struct {
	enqueued  []uint
	cancelled []uint
}

func (t *fakeTrigger) Enqueue(id uint) error {
	t.enqueued = append(t.enqueued, id)
	return nil
}

func (t *fakeTrigger) Cancel(id uint) bool {
	t.cancelled = append(t.cancelled, id)
	return true
}

type flowEnv struct {
	db        *testingutil.TestDB
	flow      SegmentFlow
	trigger   *fakeTrigger
	segments  repository.SegmentRepository
	snapshots repository.SegmentSnapshotRepository
}

func newFlowEnv(t *testing.T, exportLimit int) *flowEnv {
	t.Helper()
	tdb, err := testingutil.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = tdb.TeardownTestDB() })

	segments := repository.NewSegmentRepository(tdb.DB)
	snapshots := repository.NewSegmentSnapshotRepository(tdb.DB)
	dispatcher := segmentation.NewDispatcher(utils.DiscardLogger(),
		segmentation.NewTagActions(segmentation.RepositoryTagMutator{Tags: repository.NewTagRepository(tdb.DB)})...)
	trigger := &fakeTrigger{}

	return &flowEnv{
		db:        tdb,
		flow:      NewSegmentFlow(segments, snapshots, repository.NewContragentRepository(tdb.DB), dispatcher, trigger, exportLimit, utils.DiscardLogger()),
		trigger:   trigger,
		segments:  segments,
		snapshots: snapshots,
	}
}

func (e *flowEnv) create(t *testing.T, cashboxID int64, name string) dto.SegmentItem {
	t.Helper()
	res, err := e.flow.CreateSegment(context.Background(), &dto.CreateSegmentRequest{
		CashboxID: cashboxID,
		Name:      name,
		Criteria:  json.RawMessage(`{"purchases": {"count": {"gte": 3}}}`),
	})
	require.NoError(t, err)
	return res.Segment
}

func TestCreateSegmentSchedulesFirstRun(t *testing.T) {
	env := newFlowEnv(t, 0)
	ctx := context.Background()

	res, err := env.flow.CreateSegment(ctx, &dto.CreateSegmentRequest{
		CashboxID:      7,
		Name:           "  regulars ",
		Criteria:       json.RawMessage(`{"purchases": {"count": {"gte": 3}}, "tags": ["vip"]}`),
		Actions:        json.RawMessage(`{"add_contragent_tags": {"trigger_on_new": true, "tags": ["regular"]}}`),
		UpdateSettings: &dto.SegmentUpdateSettings{IntervalMinutes: 15},
	})
	require.NoError(t, err)

	item := res.Segment
	assert.Equal(t, "regulars", item.Name)
	assert.Equal(t, string(models.SegmentStatusInProcess), item.Status)
	assert.Equal(t, string(models.SegmentUpdatePeriodic), item.TypeOfUpdate)
	assert.JSONEq(t, `{"interval_minutes": 15}`, string(item.UpdateSettings))
	assert.Equal(t, []uint{item.ID}, env.trigger.enqueued)

	stored, err := env.segments.ByIDAndCashbox(ctx, item.ID, 7)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.JSONEq(t, `{"purchases": {"count": {"gte": 3}}, "tags": ["vip"]}`, string(stored.Criteria))
	assert.JSONEq(t, `{"add_contragent_tags": {"trigger_on_new": true, "tags": ["regular"]}}`, string(stored.Actions))
}

func TestCreateSegmentWithoutCriteriaMatchesEverything(t *testing.T) {
	env := newFlowEnv(t, 0)

	res, err := env.flow.CreateSegment(context.Background(), &dto.CreateSegmentRequest{CashboxID: 1, Name: "all", TypeOfUpdate: "manual"})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(res.Segment.Criteria))
	assert.Nil(t, res.Segment.Actions)
	assert.Equal(t, string(models.SegmentUpdateManual), res.Segment.TypeOfUpdate)
}

func TestCreateSegmentRejectsInvalidDefinitions(t *testing.T) {
	env := newFlowEnv(t, 0)
	ctx := context.Background()

	cases := map[string]struct {
		req   dto.CreateSegmentRequest
		is    func(error) bool
		cause error
	}{
		"blank name": {
			req: dto.CreateSegmentRequest{Name: "   "},
			is:  IsSegmentNameRequired,
		},
		"inverted range": {
			req:   dto.CreateSegmentRequest{Name: "x", Criteria: json.RawMessage(`{"purchases": {"count": {"gte": 5, "lte": 1}}}`)},
			is:    IsInvalidCriteria,
			cause: segmentation.ErrMalformedRange,
		},
		"criteria not an object": {
			req:   dto.CreateSegmentRequest{Name: "x", Criteria: json.RawMessage(`[1, 2]`)},
			is:    IsInvalidCriteria,
			cause: segmentation.ErrMalformedCriteria,
		},
		"unknown action": {
			req:   dto.CreateSegmentRequest{Name: "x", Actions: json.RawMessage(`{"launch_rocket": {}}`)},
			is:    IsInvalidActions,
			cause: segmentation.ErrUnknownAction,
		},
		"action without tags": {
			req: dto.CreateSegmentRequest{Name: "x", Actions: json.RawMessage(`{"add_docs_sales_tags": {"tags": []}}`)},
			is:  IsInvalidActions,
		},
		"unknown type of update": {
			req: dto.CreateSegmentRequest{Name: "x", TypeOfUpdate: "hourly"},
			is:  IsInvalidUpdateType,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := tc.req
			req.CashboxID = 1
			_, err := env.flow.CreateSegment(ctx, &req)
			require.Error(t, err)
			assert.True(t, tc.is(err), "unexpected error: %v", err)
			if tc.cause != nil {
				assert.ErrorIs(t, err, tc.cause)
			}
			var be *BusinessError
			assert.True(t, errors.As(err, &be))
		})
	}

	n, err := env.segments.Count(ctx, models.SegmentFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, env.trigger.enqueued)
}

func TestSegmentsAreTenantScoped(t *testing.T) {
	env := newFlowEnv(t, 0)
	ctx := context.Background()
	seg := env.create(t, 1, "mine")

	_, err := env.flow.GetSegment(ctx, 2, seg.ID)
	assert.True(t, IsSegmentNotFound(err))
	assert.True(t, IsSegmentNotFound(env.flow.DeleteSegment(ctx, 2, seg.ID)))
	_, err = env.flow.RefreshSegment(ctx, 2, seg.ID)
	assert.True(t, IsSegmentNotFound(err))

	res, err := env.flow.GetSegment(ctx, 1, seg.ID)
	require.NoError(t, err)
	assert.Equal(t, "mine", res.Segment.Name)
}

func TestUpdateSegment(t *testing.T) {
	env := newFlowEnv(t, 0)
	ctx := context.Background()

	res, err := env.flow.CreateSegment(ctx, &dto.CreateSegmentRequest{
		CashboxID: 1,
		Name:      "before",
		Actions:   json.RawMessage(`{"add_docs_sales_tags": {"tags": ["a"]}}`),
	})
	require.NoError(t, err)
	id := res.Segment.ID
	require.NoError(t, env.segments.UpdateStatus(ctx, id, models.SegmentStatusReady))
	env.trigger.enqueued = nil

	_, err = env.flow.UpdateSegment(ctx, &dto.UpdateSegmentRequest{CashboxID: 1, SegmentID: id})
	assert.True(t, IsSegmentUpdateRequired(err))

	updated, err := env.flow.UpdateSegment(ctx, &dto.UpdateSegmentRequest{
		CashboxID: 1,
		SegmentID: id,
		Name:      utils.ToPtr("after"),
		Actions:   json.RawMessage(`null`),
	})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Segment.Name)
	assert.Equal(t, string(models.SegmentStatusInProcess), updated.Segment.Status)
	assert.Equal(t, []uint{id}, env.trigger.enqueued)

	stored, err := env.segments.ByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, isNullJSON(json.RawMessage(stored.Actions)))
	assert.Equal(t, models.SegmentStatusInProcess, stored.Status)

	_, err = env.flow.UpdateSegment(ctx, &dto.UpdateSegmentRequest{
		CashboxID: 1,
		SegmentID: id,
		Criteria:  json.RawMessage(`{"created_at": {}}`),
	})
	assert.True(t, IsInvalidCriteria(err))
}

func TestUpdateArchivedSegmentIsNotScheduled(t *testing.T) {
	env := newFlowEnv(t, 0)
	ctx := context.Background()
	seg := env.create(t, 1, "quiet")
	require.NoError(t, env.segments.UpdateStatus(ctx, seg.ID, models.SegmentStatusReady))
	require.NoError(t, env.segments.SetArchived(ctx, seg.ID, true))
	env.trigger.enqueued = nil

	res, err := env.flow.UpdateSegment(ctx, &dto.UpdateSegmentRequest{CashboxID: 1, SegmentID: seg.ID, Name: utils.ToPtr("renamed")})
	require.NoError(t, err)
	assert.Equal(t, string(models.SegmentStatusReady), res.Segment.Status)
	assert.Empty(t, env.trigger.enqueued)
}

func TestDeleteSegmentCancelsRunningTask(t *testing.T) {
	env := newFlowEnv(t, 0)
	ctx := context.Background()
	seg := env.create(t, 1, "doomed")

	require.NoError(t, env.flow.DeleteSegment(ctx, 1, seg.ID))
	assert.Equal(t, []uint{seg.ID}, env.trigger.cancelled)

	_, err := env.flow.GetSegment(ctx, 1, seg.ID)
	assert.True(t, IsSegmentNotFound(err))

	list, err := env.flow.ListSegments(ctx, &dto.ListSegmentsRequest{CashboxID: 1})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
}

func TestRefreshAndArchive(t *testing.T) {
	env := newFlowEnv(t, 0)
	ctx := context.Background()
	seg := env.create(t, 1, "toggled")
	require.NoError(t, env.segments.UpdateStatus(ctx, seg.ID, models.SegmentStatusError))
	env.trigger.enqueued = nil

	refreshed, err := env.flow.RefreshSegment(ctx, 1, seg.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.SegmentStatusInProcess), refreshed.Segment.Status)
	assert.Equal(t, []uint{seg.ID}, env.trigger.enqueued)

	archived, err := env.flow.ToggleArchive(ctx, 1, seg.ID)
	require.NoError(t, err)
	assert.True(t, archived.Segment.IsArchived)
	assert.Equal(t, []uint{seg.ID}, env.trigger.cancelled)

	_, err = env.flow.RefreshSegment(ctx, 1, seg.ID)
	assert.True(t, IsSegmentArchived(err))

	unarchived, err := env.flow.ToggleArchive(ctx, 1, seg.ID)
	require.NoError(t, err)
	assert.False(t, unarchived.Segment.IsArchived)
	assert.Equal(t, string(models.SegmentStatusInProcess), unarchived.Segment.Status)
	assert.Equal(t, []uint{seg.ID, seg.ID}, env.trigger.enqueued)

	stored, err := env.segments.ByID(ctx, seg.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsArchived)
}

func TestListSegmentsPaging(t *testing.T) {
	env := newFlowEnv(t, 0)
	ctx := context.Background()

	var ids []uint
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		ids = append(ids, env.create(t, 1, name).ID)
	}
	env.create(t, 2, "other tenant")
	require.NoError(t, env.flow.DeleteSegment(ctx, 1, ids[0]))

	page, err := env.flow.ListSegments(ctx, &dto.ListSegmentsRequest{CashboxID: 1, Page: 2, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, dto.PaginationInfo{Total: 4, Page: 2, Limit: 3, TotalPages: 2}, page.Pagination)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[1], page.Items[0].ID)

	byName, err := env.flow.ListSegments(ctx, &dto.ListSegmentsRequest{CashboxID: 1, Name: utils.ToPtr("c")})
	require.NoError(t, err)
	require.Len(t, byName.Items, 1)
	assert.Equal(t, ids[2], byName.Items[0].ID)

	_, err = env.flow.ListSegments(ctx, &dto.ListSegmentsRequest{CashboxID: 1, Limit: 500})
	assert.True(t, IsInvalidPageSize(err))
}

func TestSegmentMembersAndExport(t *testing.T) {
	env := newFlowEnv(t, 2)
	ctx := context.Background()
	seg := env.create(t, 1, "members")

	_, err := env.flow.SegmentMembers(ctx, 1, seg.ID)
	assert.True(t, IsSnapshotNotFound(err))

	require.NoError(t, env.db.DB.Create(&models.Contragent{ID: 1, CashboxID: 1, Name: "Alice", Phone: "+15550001"}).Error)
	require.NoError(t, env.db.DB.Create(&models.Contragent{ID: 2, CashboxID: 2, Name: "Other tenant", Phone: "+15550002"}).Error)

	_, err = env.snapshots.Insert(ctx, seg.ID, "run-1", []int64{30, 10, 20}, []int64{2, 1})
	require.NoError(t, err)
	_, err = env.snapshots.Insert(ctx, seg.ID, "run-2", []int64{20, 10}, []int64{2, 1})
	require.NoError(t, err)

	members, err := env.flow.SegmentMembers(ctx, 1, seg.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-2", members.CorrelationID)
	assert.Equal(t, []int64{10, 20}, members.DocumentIDs)
	assert.Equal(t, []int64{1, 2}, members.ContragentIDs)

	filename, data, err := env.flow.ExportSegmentMembers(ctx, 1, seg.ID)
	require.NoError(t, err)
	assert.Equal(t, "segment_1_members.xlsx", filename)

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer xl.Close()

	rows, err := xl.GetRows("contragents")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"contragent_id", "name", "phone"}, {"1", "Alice", "+15550001"}, {"2"}}, rows)
	rows, err = xl.GetRows("documents")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"document_id"}, {"10"}, {"20"}}, rows)
	name, err := xl.GetCellValue("summary", "B2")
	require.NoError(t, err)
	assert.Equal(t, "members", name)

	_, err = env.snapshots.Insert(ctx, seg.ID, "run-3", []int64{1, 2, 3}, []int64{1})
	require.NoError(t, err)
	_, _, err = env.flow.ExportSegmentMembers(ctx, 1, seg.ID)
	assert.True(t, IsExportTooLarge(err))
}
