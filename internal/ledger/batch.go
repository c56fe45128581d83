package ledger

import "time"

const (
	// MinBatchSize is the smallest run confirmable with one action.
	MinBatchSize = 3
	// SameSubmissionWindow bounds the createdAt gap between entries that
	// were submitted together.
	SameSubmissionWindow = 10 * time.Second
)

// Batch is a run of entries that can be confirmed together.
type Batch []Entry

// Keys lists the natural keys of the batch members.
func (b Batch) Keys() []Key {
	keys := make([]Key, len(b))
	for i, e := range b {
		keys[i] = e.Key()
	}
	return keys
}

// BatchRef locates an entry inside the batches returned by GroupBatches.
type BatchRef struct {
	Index int  `json:"index"`
	Size  int  `json:"size"`
	First bool `json:"first"`
}

// BatchIndex maps entry keys to their batch.
type BatchIndex map[Key]BatchRef

// GroupBatches partitions the non-confirmed entries into maximal runs of at
// least MinBatchSize entries. Entries are sorted by (year, month) first; the
// input slice is not modified.
//
// An entry extends the current run when, compared to the run's last entry,
// it has the same year, the next month, the same non-monthly plan, the same
// status, and a createdAt less than SameSubmissionWindow apart. A confirmed
// entry always closes the current run.
func GroupBatches(entries []Entry) []Batch {
	sorted := Sorted(entries)

	var (
		groups  []Batch
		current Batch
	)
	closeRun := func() {
		if len(current) >= MinBatchSize {
			groups = append(groups, current)
		}
		current = nil
	}

	for _, e := range sorted {
		if e.Status == StatusConfirmed {
			closeRun()
			continue
		}
		if len(current) == 0 {
			current = Batch{e}
			continue
		}
		if joinable(current[len(current)-1], e) {
			current = append(current, e)
			continue
		}
		closeRun()
		current = Batch{e}
	}
	closeRun()

	return groups
}

func joinable(last, next Entry) bool {
	if next.ReferenceYear != last.ReferenceYear {
		return false
	}
	if next.ReferenceMonth != last.ReferenceMonth+1 {
		return false
	}
	if next.PlanType != last.PlanType || next.PlanType == PlanMonthly {
		return false
	}
	if next.Status != last.Status {
		return false
	}
	return createdTogether(last.CreatedAt, next.CreatedAt)
}

func createdTogether(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff < SameSubmissionWindow
}

// IndexBatches builds the lookup used to mark the first member of each batch.
func IndexBatches(batches []Batch) BatchIndex {
	idx := make(BatchIndex)
	for i, b := range batches {
		for j, e := range b {
			idx[e.Key()] = BatchRef{Index: i, Size: len(b), First: j == 0}
		}
	}
	return idx
}
