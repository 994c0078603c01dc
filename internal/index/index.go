package index

import (
	"sync"
	"time"
)

// RemoveReason distinguishes why a conversation left the index. It only
// affects collaborator signaling; the index mechanics are identical.
type RemoveReason int

const (
	ReasonDelete RemoveReason = iota
	ReasonArchive
)

// ChangeType identifies one positional mutation in the flattened list.
type ChangeType int

const (
	InsertHeader ChangeType = iota
	InsertItem
	RemoveHeader
	RemoveItem
)

// Change is a single positional operation an external list renderer can
// apply as a minimal diff. Insert positions are post-insert indices;
// remove positions are pre-remove indices, ordered so they can be applied
// in sequence.
type Change struct {
	Type     ChangeType
	Position int
}

// ChangeSet is the batch of positional operations produced by one index
// mutation, so observers can batch the visual change.
type ChangeSet struct {
	Bucket  Kind
	Reason  RemoveReason
	Changes []Change
}

// Empty reports whether the mutation produced no visible change.
func (cs ChangeSet) Empty() bool {
	return len(cs.Changes) == 0
}

type bucket struct {
	kind Kind
	ids  []int64
}

// Index is the sectioned, position-addressable projection of the
// conversation list. The flattened sequence it models is
// [header, items..., header, items..., ...] with buckets in precedence
// order and no header for an empty bucket.
//
// The index tracks bucket membership and counts, not intra-bucket order,
// except that newly inserted entries are treated as most-recent within
// their bucket. It is an in-memory projection: after bulk store mutations
// outside the pipeline it must be rebuilt, not patched.
type Index struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets []*bucket
}

// New creates an empty index. now is injectable for tests; nil means
// time.Now.
func New(now func() time.Time) *Index {
	if now == nil {
		now = time.Now
	}
	return &Index{now: now}
}

// Rebuild replaces the projection from a fresh conversation listing.
func (x *Index) Rebuild(entries []Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.buckets = nil
	now := x.now()
	for _, e := range entries {
		b := x.bucketFor(Classify(e, now), true)
		b.ids = append(b.ids, e.ID)
	}
}

// Insert classifies the entry and places it at its bucket's first slot.
// If the entry is already indexed it is moved, never double-counted: the
// change set then contains the removal operations followed by the insert
// operations.
func (x *Index) Insert(e Entry) ChangeSet {
	x.mu.Lock()
	defer x.mu.Unlock()

	kind := Classify(e, x.now())
	cs := ChangeSet{Bucket: kind}

	if pos, ok := x.positionOf(e.ID); ok {
		owner := x.bucketAt(pos)
		if owner.kind == kind && pos == x.headerPositionOf(owner)+1 {
			// Already the most-recent entry of the right bucket.
			return ChangeSet{Bucket: kind}
		}
		removed := x.removeAt(pos, ReasonDelete)
		cs.Changes = append(cs.Changes, removed.Changes...)
	}

	b := x.bucketFor(kind, false)
	if b == nil {
		b = x.bucketFor(kind, true)
		headerPos := x.headerPositionOf(b)
		b.ids = append(b.ids, e.ID)
		cs.Changes = append(cs.Changes,
			Change{Type: InsertHeader, Position: headerPos},
			Change{Type: InsertItem, Position: headerPos + 1},
		)
		return cs
	}

	b.ids = append([]int64{e.ID}, b.ids...)
	cs.Changes = append(cs.Changes, Change{Type: InsertItem, Position: x.headerPositionOf(b) + 1})
	return cs
}

// Remove deletes the conversation at the given absolute position. A
// position addressing a header slot (or out of range) yields an empty
// change set. When the bucket empties, the header removal is reported in
// the same change set.
func (x *Index) Remove(position int, reason RemoveReason) ChangeSet {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.removeAt(position, reason)
}

// RemoveConversation is Remove addressed by identity instead of position.
func (x *Index) RemoveConversation(id int64, reason RemoveReason) ChangeSet {
	x.mu.Lock()
	defer x.mu.Unlock()
	pos, ok := x.positionOf(id)
	if !ok {
		return ChangeSet{}
	}
	return x.removeAt(pos, reason)
}

// FindPosition returns the absolute position of a conversation, header
// slots included, or false if it is not indexed.
func (x *Index) FindPosition(id int64) (int, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.positionOf(id)
}

// FindConversation resolves an absolute position to a conversation id.
// Positions that address a header slot or run past the end resolve to
// the last conversation: a stale position reference from a racing
// observer must not error. Returns false only when the index is empty.
func (x *Index) FindConversation(position int) (int64, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var last int64
	found := false
	pos := 0
	for _, b := range x.buckets {
		pos++ // header slot
		for _, id := range b.ids {
			if pos == position {
				return id, true
			}
			last = id
			found = true
			pos++
		}
	}
	return last, found
}

// MarkBucketRead returns the ids of every conversation in the given
// bucket so the caller can persist the read flag.
func (x *Index) MarkBucketRead(kind Kind) []int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	b := x.bucketFor(kind, false)
	if b == nil {
		return nil
	}
	out := make([]int64, len(b.ids))
	copy(out, b.ids)
	return out
}

// BucketCount is one materialized bucket with its conversation count.
type BucketCount struct {
	Kind  Kind
	Count int
}

// Buckets returns the materialized bucket sequence. Empty buckets never
// appear.
func (x *Index) Buckets() []BucketCount {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]BucketCount, 0, len(x.buckets))
	for _, b := range x.buckets {
		out = append(out, BucketCount{Kind: b.kind, Count: len(b.ids)})
	}
	return out
}

// Len returns the number of conversations indexed.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for _, b := range x.buckets {
		n += len(b.ids)
	}
	return n
}

// bucketFor returns the bucket of the given kind. With create set, a
// missing bucket is inserted at its ordinal position, immediately after
// all buckets of strictly higher precedence.
func (x *Index) bucketFor(kind Kind, create bool) *bucket {
	at := len(x.buckets)
	for i, b := range x.buckets {
		if b.kind == kind {
			return b
		}
		if b.kind > kind {
			at = i
			break
		}
	}
	if !create {
		return nil
	}
	b := &bucket{kind: kind}
	x.buckets = append(x.buckets, nil)
	copy(x.buckets[at+1:], x.buckets[at:])
	x.buckets[at] = b
	return b
}

func (x *Index) headerPositionOf(target *bucket) int {
	pos := 0
	for _, b := range x.buckets {
		if b == target {
			return pos
		}
		pos += 1 + len(b.ids)
	}
	return pos
}

func (x *Index) positionOf(id int64) (int, bool) {
	pos := 0
	for _, b := range x.buckets {
		pos++ // header slot
		for _, got := range b.ids {
			if got == id {
				return pos, true
			}
			pos++
		}
	}
	return 0, false
}

func (x *Index) bucketAt(position int) *bucket {
	pos := 0
	for _, b := range x.buckets {
		end := pos + 1 + len(b.ids)
		if position >= pos && position < end {
			return b
		}
		pos = end
	}
	return nil
}

func (x *Index) removeAt(position int, reason RemoveReason) ChangeSet {
	pos := 0
	for bi, b := range x.buckets {
		headerPos := pos
		pos++
		for ii := range b.ids {
			if pos == position {
				cs := ChangeSet{Bucket: b.kind, Reason: reason}
				b.ids = append(b.ids[:ii], b.ids[ii+1:]...)
				if len(b.ids) == 0 {
					// Bucket emptied: drop the header too, reported as one
					// combined change.
					x.buckets = append(x.buckets[:bi], x.buckets[bi+1:]...)
					cs.Changes = []Change{
						{Type: RemoveItem, Position: position},
						{Type: RemoveHeader, Position: headerPos},
					}
				} else {
					cs.Changes = []Change{{Type: RemoveItem, Position: position}}
				}
				return cs
			}
			pos++
		}
	}
	return ChangeSet{}
}
