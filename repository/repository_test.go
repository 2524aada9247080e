package repository_test

import (
	"context"
	"testing"

	"github.com/amirphl/segment-engine/models"
	"github.com/amirphl/segment-engine/repository"
	testingutil "github.com/amirphl/segment-engine/testing"
	"github.com/amirphl/segment-engine/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func setupDB(t *testing.T) *testingutil.TestDB {
	t.Helper()
	tdb, err := testingutil.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = tdb.TeardownTestDB() })
	return tdb
}

func newSegment(cashboxID int64, name string, update models.SegmentUpdateType) *models.Segment {
	now := utils.UTCNow()
	return &models.Segment{
		CashboxID:    cashboxID,
		Name:         name,
		Criteria:     datatypes.JSON(`{}`),
		Status:       models.SegmentStatusReady,
		TypeOfUpdate: update,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSegmentRepositoryListForRecompute(t *testing.T) {
	tdb := setupDB(t)
	repo := repository.NewSegmentRepository(tdb.DB)
	ctx := context.Background()

	periodic := newSegment(1, "periodic", models.SegmentUpdatePeriodic)
	manual := newSegment(1, "manual", models.SegmentUpdateManual)
	archived := newSegment(2, "archived", models.SegmentUpdatePeriodic)
	archived.IsArchived = true
	deleted := newSegment(2, "deleted", models.SegmentUpdatePeriodic)
	deleted.IsDeleted = true
	require.NoError(t, repo.SaveBatch(ctx, []*models.Segment{periodic, manual, archived, deleted}))

	rows, err := repo.ListForRecompute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, periodic.ID, rows[0].ID)
}

func TestSegmentRepositoryTenantLookup(t *testing.T) {
	tdb := setupDB(t)
	repo := repository.NewSegmentRepository(tdb.DB)
	ctx := context.Background()

	seg := newSegment(1, "vip", models.SegmentUpdateManual)
	require.NoError(t, repo.Save(ctx, seg))

	found, err := repo.ByIDAndCashbox(ctx, seg.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "vip", found.Name)

	other, err := repo.ByIDAndCashbox(ctx, seg.ID, 2)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, repo.SoftDelete(ctx, seg.ID))
	gone, err := repo.ByIDAndCashbox(ctx, seg.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, gone)

	exists, err := repo.Exists(ctx, models.SegmentFilter{CashboxID: utils.ToPtr(int64(1)), IsDeleted: utils.ToPtr(true)})
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSegmentRepositoryCommitAndStatus(t *testing.T) {
	tdb := setupDB(t)
	repo := repository.NewSegmentRepository(tdb.DB)
	ctx := context.Background()

	seg := newSegment(1, "counters", models.SegmentUpdatePeriodic)
	require.NoError(t, repo.Save(ctx, seg))

	require.NoError(t, repo.MarkInProcess(ctx, seg.ID))
	require.NoError(t, repo.CommitRecomputation(ctx, seg.ID, models.SegmentCounters{
		ContragentsCount:      3,
		AddedContragentsCount: 3,
		DocsCount:             7,
		AddedDocsCount:        7,
	}))

	got, err := repo.ByID(ctx, seg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentStatusReady, got.Status)
	assert.Equal(t, 3, got.ContragentsCount)
	assert.Equal(t, 7, got.DocsCount)
	assert.NotNil(t, got.RecalculatedAt)

	require.NoError(t, repo.UpdateStatus(ctx, seg.ID, models.SegmentStatusError))
	got, err = repo.ByID(ctx, seg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentStatusError, got.Status)
}

func TestSnapshotRepositoryHistory(t *testing.T) {
	tdb := setupDB(t)
	repo := repository.NewSegmentSnapshotRepository(tdb.DB)
	ctx := context.Background()

	latest, err := repo.Latest(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = repo.Insert(ctx, 9, "first", []int64{3, 1, 3, 2}, nil)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, 9, "second", []int64{5}, []int64{8, 8})
	require.NoError(t, err)
	_, err = repo.Insert(ctx, 10, "other", []int64{1}, []int64{1})
	require.NoError(t, err)

	latest, err = repo.Latest(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "second", latest.CorrelationID)
	assert.Equal(t, []int64{8}, []int64(latest.ContragentIDs))

	history, err := repo.ListBySegment(ctx, 9, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].CorrelationID)
	assert.Equal(t, []int64{1, 2, 3}, []int64(history[1].DocumentIDs))
	assert.Empty(t, history[1].ContragentIDs)

	limited, err := repo.ListBySegment(ctx, 9, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTagRepositoryAddIsIdempotent(t *testing.T) {
	tdb := setupDB(t)
	repo := repository.NewTagRepository(tdb.DB)
	ctx := context.Background()

	n, err := repo.AddTags(ctx, models.TagEntityContragent, 1, []int64{10, 11}, []string{"vip", "churn"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = repo.AddTags(ctx, models.TagEntityContragent, 1, []int64{10}, []string{"vip"})
	require.NoError(t, err)
	assert.Zero(t, n)

	names, err := repo.ListNames(ctx, models.TagEntityContragent, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"churn", "vip"}, names)

	// other tenants' rows are never touched
	n, err = repo.RemoveTags(ctx, models.TagEntityContragent, 2, []int64{10}, []string{"vip"})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.RemoveTags(ctx, models.TagEntityContragent, 1, []int64{10, 11}, []string{"churn"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := repo.Count(ctx, models.TagEntityContragent, models.TagFilter{CashboxID: utils.ToPtr(int64(1))})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = repo.AddTags(ctx, models.TagEntity("orders"), 1, []int64{1}, []string{"x"})
	assert.Error(t, err)
}

func TestContragentRepositoryByIDsIsTenantScoped(t *testing.T) {
	tdb := setupDB(t)
	fx := testingutil.NewTestFixtures(tdb)
	repo := repository.NewContragentRepository(tdb.DB)

	alice, err := fx.CreateContragent(1, "Alice")
	require.NoError(t, err)
	bob, err := fx.CreateContragent(1, "Bob")
	require.NoError(t, err)
	stranger, err := fx.CreateContragent(2, "Stranger")
	require.NoError(t, err)

	rows, err := repo.ByIDs(context.Background(), 1, []int64{bob.ID, stranger.ID, alice.ID, 999})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, alice.ID, rows[0].ID)
	assert.Equal(t, bob.ID, rows[1].ID)
}
