package segmentation

import (
	"testing"

	"github.com/amirphl/segment-engine/repository"
	testingutil "github.com/amirphl/segment-engine/testing"
	"github.com/amirphl/segment-engine/utils"
	"github.com/stretchr/testify/require"
)

const testCashbox int64 = 1

type testEnv struct {
	db        *testingutil.TestDB
	fx        *testingutil.TestFixtures
	docs      repository.SalesDocumentRepository
	loyalty   repository.LoyaltyRepository
	tags      repository.TagRepository
	users     repository.CashboxUserRepository
	segments  repository.SegmentRepository
	snapshots repository.SegmentSnapshotRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tdb, err := testingutil.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = tdb.TeardownTestDB() })

	return &testEnv{
		db:        tdb,
		fx:        testingutil.NewTestFixtures(tdb),
		docs:      repository.NewSalesDocumentRepository(tdb.DB),
		loyalty:   repository.NewLoyaltyRepository(tdb.DB),
		tags:      repository.NewTagRepository(tdb.DB),
		users:     repository.NewCashboxUserRepository(tdb.DB),
		segments:  repository.NewSegmentRepository(tdb.DB),
		snapshots: repository.NewSegmentSnapshotRepository(tdb.DB),
	}
}

func (e *testEnv) evaluator(batchSize int) *Evaluator {
	return NewEvaluator(e.db.DB, e.docs, e.loyalty, batchSize)
}

func (e *testEnv) engine(handlers ...ActionHandler) *Engine {
	logger := utils.DiscardLogger()
	return NewEngine(e.db.DB, e.segments, e.snapshots, e.docs,
		e.evaluator(2), NewDispatcher(logger, handlers...), logger)
}
