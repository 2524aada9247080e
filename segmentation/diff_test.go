package segmentation

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/amirphl/segment-engine/models"
)

func TestIDSetOperations(t *testing.T) {
	a := NewIDSet([]int64{5, 1, 3, 3, 9})
	b := NewIDSet([]int64{3, 4, 9, 10})

	assert.Equal(t, IDSet{1, 3, 5, 9}, a)
	assert.Equal(t, IDSet{1, 5}, a.Difference(b))
	assert.Equal(t, IDSet{1, 3, 4, 5, 9, 10}, a.Union(b))
	assert.Equal(t, IDSet{3, 9}, a.Intersect(b))
	assert.True(t, a.Contains(5))
	assert.False(t, a.Contains(4))
	assert.Equal(t, IDSet{}, NewIDSet(nil))
}

func TestDiffFirstRun(t *testing.T) {
	res := Diff(MembershipOf(nil), Membership{
		Documents:   NewIDSet([]int64{10, 11, 12}),
		Contragents: NewIDSet([]int64{1, 2}),
	})
	assert.Equal(t, IDSet{1, 2}, res.Contragents.Current)
	assert.Equal(t, IDSet{1, 2}, res.Contragents.Added)
	assert.Empty(t, res.Contragents.Removed)
	assert.Equal(t, res.Contragents.Added, res.Contragents.Entered)

	c := res.Counters()
	assert.Equal(t, models.SegmentCounters{
		ContragentsCount:        2,
		AddedContragentsCount:   2,
		EnteredContragentsCount: 2,
		DocsCount:               3,
		AddedDocsCount:          3,
	}, c)
}

func TestDiffUnchangedIsEmpty(t *testing.T) {
	m := Membership{Documents: NewIDSet([]int64{1, 2}), Contragents: NewIDSet([]int64{7})}
	res := Diff(m, m)
	assert.Empty(t, res.Documents.Added)
	assert.Empty(t, res.Documents.Removed)
	assert.Empty(t, res.Contragents.Entered)
	assert.Empty(t, res.Contragents.Exited)
}

func TestDiffProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	ids := gen.SliceOf(gen.Int64Range(0, 60))

	properties.Property("added and removed are disjoint", prop.ForAll(
		func(prev, cur []int64) bool {
			s := diffSets(prev, cur)
			return s.Added.Intersect(s.Removed).Len() == 0
		},
		ids, ids,
	))

	properties.Property("current equals previous plus added minus removed", prop.ForAll(
		func(prev, cur []int64) bool {
			s := diffSets(prev, cur)
			rebuilt := NewIDSet(prev).Union(s.Added).Difference(s.Removed)
			return assert.ObjectsAreEqual(s.Current, rebuilt)
		},
		ids, ids,
	))

	properties.Property("entered and exited mirror added and removed", prop.ForAll(
		func(prev, cur []int64) bool {
			s := diffSets(prev, cur)
			return assert.ObjectsAreEqual(s.Added, s.Entered) && assert.ObjectsAreEqual(s.Removed, s.Exited)
		},
		ids, ids,
	))

	properties.Property("added ids were never in the previous membership", prop.ForAll(
		func(prev, cur []int64) bool {
			p := NewIDSet(prev)
			for _, id := range diffSets(prev, cur).Added {
				if p.Contains(id) {
					return false
				}
			}
			return true
		},
		ids, ids,
	))

	properties.Property("diffing a membership with itself is empty", prop.ForAll(
		func(cur []int64) bool {
			s := diffSets(cur, cur)
			return s.Added.Len() == 0 && s.Removed.Len() == 0
		},
		ids,
	))

	properties.TestingRun(t)
}
