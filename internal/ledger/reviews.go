package ledger

import (
	"sort"

	"github.com/mewiskl/zama-Talklet-Review/internal/model"
)

// ReviewLedger records at most one ReviewRecord per reviewer.
type ReviewLedger struct {
	records map[model.Address]model.ReviewRecord
}

func NewReviewLedger() *ReviewLedger {
	return &ReviewLedger{records: make(map[model.Address]model.ReviewRecord)}
}

func (l *ReviewLedger) Has(a model.Address) bool {
	_, ok := l.records[a]
	return ok
}

func (l *ReviewLedger) Get(a model.Address) (model.ReviewRecord, bool) {
	r, ok := l.records[a]
	return r, ok
}

// Put inserts or replaces the record for r.Reviewer.
func (l *ReviewLedger) Put(r model.ReviewRecord) {
	l.records[r.Reviewer] = r
}

func (l *ReviewLedger) Count() int { return len(l.records) }

// Records returns all records ordered by submission time, then reviewer.
func (l *ReviewLedger) Records() []model.ReviewRecord {
	out := make([]model.ReviewRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].Reviewer < out[j].Reviewer
	})
	return out
}

func (l *ReviewLedger) Clone() *ReviewLedger {
	c := &ReviewLedger{records: make(map[model.Address]model.ReviewRecord, len(l.records))}
	for k, v := range l.records {
		c.records[k] = v
	}
	return c
}
