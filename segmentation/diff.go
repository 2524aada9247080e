package segmentation

import (
	"slices"

	"github.com/amirphl/segment-engine/models"
)

// IDSet is a sorted set of ids without duplicates
type IDSet []int64

// NewIDSet copies ids into a sorted, deduplicated set
func NewIDSet(ids []int64) IDSet {
	out := slices.Clone(ids)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = IDSet{}
	}
	return out
}

func (s IDSet) Len() int { return len(s) }

func (s IDSet) Contains(id int64) bool {
	_, ok := slices.BinarySearch(s, id)
	return ok
}

// Difference returns the ids of s that are not in other
func (s IDSet) Difference(other IDSet) IDSet {
	out := IDSet{}
	i, j := 0, 0
	for i < len(s) {
		switch {
		case j >= len(other) || s[i] < other[j]:
			out = append(out, s[i])
			i++
		case s[i] > other[j]:
			j++
		default:
			i++
			j++
		}
	}
	return out
}

func (s IDSet) Union(other IDSet) IDSet {
	out := make(IDSet, 0, len(s)+len(other))
	i, j := 0, 0
	for i < len(s) || j < len(other) {
		switch {
		case j >= len(other) || (i < len(s) && s[i] < other[j]):
			out = append(out, s[i])
			i++
		case i >= len(s) || s[i] > other[j]:
			out = append(out, other[j])
			j++
		default:
			out = append(out, s[i])
			i++
			j++
		}
	}
	return out
}

func (s IDSet) Intersect(other IDSet) IDSet {
	out := IDSet{}
	i, j := 0, 0
	for i < len(s) && j < len(other) {
		switch {
		case s[i] < other[j]:
			i++
		case s[i] > other[j]:
			j++
		default:
			out = append(out, s[i])
			i++
			j++
		}
	}
	return out
}

// Membership is the set of documents and contragents a segment holds at one point in time
type Membership struct {
	Documents   IDSet
	Contragents IDSet
}

// Sets describes the transition of one entity kind between two memberships.
// Entered and Exited equal Added and Removed.
type Sets struct {
	Current IDSet
	Added   IDSet
	Removed IDSet
	Entered IDSet
	Exited  IDSet
}

func diffSets(previous, current IDSet) Sets {
	previous = NewIDSet(previous)
	current = NewIDSet(current)
	added := current.Difference(previous)
	removed := previous.Difference(current)
	return Sets{
		Current: current,
		Added:   added,
		Removed: removed,
		Entered: added,
		Exited:  removed,
	}
}

type DiffResult struct {
	Documents   Sets
	Contragents Sets
}

// Diff compares the committed membership with a freshly evaluated one
func Diff(previous, current Membership) DiffResult {
	return DiffResult{
		Documents:   diffSets(previous.Documents, current.Documents),
		Contragents: diffSets(previous.Contragents, current.Contragents),
	}
}

// Counters maps the diff onto the segment's stored counters
func (d DiffResult) Counters() models.SegmentCounters {
	return models.SegmentCounters{
		ContragentsCount:        d.Contragents.Current.Len(),
		AddedContragentsCount:   d.Contragents.Added.Len(),
		DeletedContragentsCount: d.Contragents.Removed.Len(),
		EnteredContragentsCount: d.Contragents.Entered.Len(),
		ExitedContragentsCount:  d.Contragents.Exited.Len(),
		DocsCount:               d.Documents.Current.Len(),
		AddedDocsCount:          d.Documents.Added.Len(),
		DeletedDocsCount:        d.Documents.Removed.Len(),
	}
}

// MembershipOf converts a stored snapshot; a nil snapshot is the empty membership
func MembershipOf(snapshot *models.SegmentSnapshot) Membership {
	if snapshot == nil {
		return Membership{Documents: IDSet{}, Contragents: IDSet{}}
	}
	return Membership{
		Documents:   NewIDSet(snapshot.DocumentIDs),
		Contragents: NewIDSet(snapshot.ContragentIDs),
	}
}
