package relay

import "github.com/JakeFAU/content-progress-bridge/internal/envelope"

// progressKey identifies one learner's progress on one piece of content.
type progressKey struct {
	learnerID string
	contentID string
}

// batch accumulates records between flushes. STATE and SUSPEND records for
// the same learner and content share a slot holding the newest checkpoint;
// every other type is kept in arrival order.
type batch struct {
	records   []Record
	slots     map[progressKey]int
	coalesced int
}

func newBatch(capacity int) *batch {
	return &batch{
		records: make([]Record, 0, capacity),
		slots:   make(map[progressKey]int),
	}
}

func isCheckpoint(t envelope.Type) bool {
	return t == envelope.TypeState || t == envelope.TypeSuspend
}

// add queues rec. A checkpoint replaces the one in its slot only when its
// envelope timestamp is strictly newer; an older or equal one is discarded.
func (b *batch) add(rec Record) {
	if !isCheckpoint(rec.Envelope.Type) {
		b.records = append(b.records, rec)
		return
	}
	key := progressKey{learnerID: rec.LearnerID, contentID: rec.ContentID()}
	if i, ok := b.slots[key]; ok {
		b.coalesced++
		if rec.Envelope.TS > b.records[i].Envelope.TS {
			b.records[i] = rec
		}
		return
	}
	b.slots[key] = len(b.records)
	b.records = append(b.records, rec)
}

func (b *batch) len() int { return len(b.records) }

// take returns the queued records and the number of checkpoints folded away,
// then empties the batch.
func (b *batch) take() ([]Record, int) {
	out := append([]Record(nil), b.records...)
	coalesced := b.coalesced
	b.records = b.records[:0]
	b.coalesced = 0
	clear(b.slots)
	return out, coalesced
}
