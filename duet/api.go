// Package duet is an in-memory synergistic page-cache observer: a task
// registers interest in a logical address space and exposes
// register/deregister/fetch/mark/unmark/check over ranges of it.
//
// Each task tracks, per indexed range, a SEEN/RELV(evant)/DONE bit triple
// ("not SEEN, not RELV, not DONE" means the item is in an unknown state,
// and so on through the rest of the lattice), the same three-bit model the
// Linux kernel's duet subsystem tracks per block in its bitmap tree. Here
// the fixed-granule bitmap is replaced with github.com/google/btree over
// arbitrary [start,end) ranges, since scrub's ranges are extents rather
// than fixed-size index granules. Task identity uses github.com/google/uuid
// instead of a small integer task id, since there is no shared task-id
// namespace to allocate from in a single process.
package duet

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"
)

// bits mirrors BMAP_SEEN/BMAP_RELV/BMAP_DONE.
type bits uint8

const (
	bitSeen bits = 1 << iota
	bitRelv
	bitDone
)

// rangeItem is one btree.Item: a [Start,End) range and its bit state. Ranges
// in a task's tree are always disjoint. Unlike duet_bittree, which merges
// adjacent nodes with identical state, overlapping marks here simply
// subdivide and are left uncoalesced, since subdivision (not merging) is
// what correctness depends on.
type rangeItem struct {
	Start, End uint64
	state bits
}

func (r *rangeItem) Less(than btree.Item) bool {
	return r.End <= than.(*rangeItem).Start
}

// Task is one registered observer, analogous to struct duet_task.
type Task struct {
	ID uuid.UUID
	Name string
	EvtMask uint16

	mu sync.Mutex
	tree *btree.BTree
}

// Manager owns the set of registered tasks, analogous to struct duet_info.
type Manager struct {
	mu sync.Mutex
	tasks map[uuid.UUID]*Task
}

func NewManager() *Manager {
	return &Manager{tasks: make(map[uuid.UUID]*Task)}
}

// Register creates a new task subscribed to evtMask and returns it; the
// task's ID field holds its id. This
// is duet_register's register half (task_list_mutex-guarded insertion into
// duet_info.tasks).
func (m *Manager) Register(name string, evtMask uint16) *Task {
	t := &Task{ID: uuid.New(), Name: name, EvtMask: evtMask, tree: btree.New(32)}
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()
	return t
}

// Deregister removes a task. A scrub run that enabled synergy must
// deregister its task when it cancels or completes, the same way
// duet_deregister releases the task once its refcount reaches zero.
func (m *Manager) Deregister(id uuid.UUID) {
	m.mu.Lock()
	delete(m.tasks, id)
	m.mu.Unlock()
}

func (m *Manager) Task(id uuid.UUID) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// overlapping returns every item in the tree that overlaps [start,end),
// in ascending order. AscendRange's bounds are themselves rangeItems, so a
// probe of width 1 at each edge is enough to pick up a boundary item whose
// own range straddles start or end (Less compares by End vs. Start).
func (t *Task) overlapping(start, end uint64) []*rangeItem {
	var out []*rangeItem
	t.tree.AscendRange(&rangeItem{Start: start, End: start}, &rangeItem{Start: end, End: end}, func(it btree.Item) bool {
		out = append(out, it.(*rangeItem))
		return true
	})
	if probe := t.tree.Get(&rangeItem{Start: start, End: start + 1}); probe != nil {
		ri := probe.(*rangeItem)
		if len(out) == 0 || out[0] != ri {
			out = append([]*rangeItem{ri}, out...)
		}
	}
	if end > start {
		if probe := t.tree.Get(&rangeItem{Start: end - 1, End: end}); probe != nil {
			ri := probe.(*rangeItem)
			if len(out) == 0 || out[len(out)-1] != ri {
				out = append(out, ri)
			}
		}
	}
	return out
}

// split rewrites the tree so that [start,end) is covered by one or more
// whole items with no item straddling start or end, creating zero-state
// (unknown) items to fill any gap not previously tracked.
func (t *Task) split(start, end uint64) {
	items := t.overlapping(start, end)
	pos := start
	for _, it := range items {
		t.tree.Delete(it)
		lo, hi := it.Start, it.End
		if lo < start {
			t.tree.ReplaceOrInsert(&rangeItem{Start: lo, End: start, state: it.state})
			lo = start
		}
		if hi > end {
			t.tree.ReplaceOrInsert(&rangeItem{Start: end, End: hi, state: it.state})
			hi = end
		}
		if lo > pos {
			t.tree.ReplaceOrInsert(&rangeItem{Start: pos, End: lo})
		}
		t.tree.ReplaceOrInsert(&rangeItem{Start: lo, End: hi, state: it.state})
		pos = hi
	}
	if pos < end {
		t.tree.ReplaceOrInsert(&rangeItem{Start: pos, End: end})
	}
}

func (t *Task) setBits(start, end uint64, set, clear bits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.split(start, end)
	for _, ri := range t.overlapping(start, end) {
		ri.state = (ri.state &^ clear) | set
	}
}

// MarkSeen records that scrub has visited [start,end), the synergistic
// filter's ambient SEEN bit: this is what lets duet's companion consumer
// skip the already-scrubbed portion of a range.
func (t *Task) MarkSeen(start, end uint64) { t.setBits(start, end, bitSeen, 0) }

// MarkRelevant flags [start,end) as relevant to the task, e.g. because the
// synergistic consumer (page cache writeback, say) touched it.
func (t *Task) MarkRelevant(start, end uint64) { t.setBits(start, end, bitRelv, 0) }

// MarkDone records [start,end) as fully processed, the bit scrub checks to
// decide whether it may skip re-verifying a range another subsystem already
// validated recently.
func (t *Task) MarkDone(start, end uint64) { t.setBits(start, end, bitDone, 0) }

func (t *Task) Unmark(start, end uint64) { t.setBits(start, end, 0, bitSeen|bitRelv|bitDone) }

// Item is one unit the Fetch ABI returns, analogous to struct duet_item.
type Item struct {
	Start, End uint64
	Seen, Relevant, Done bool
}

// Fetch returns up to max items in [start,end) whose RELV bit is set but
// DONE is not, the default duet_fetch query ("relevant, not yet processed").
// This is the ABI the synergistic filter polls to decide what ranges a
// companion consumer has flagged for scrub's attention.
func (t *Task) Fetch(start, end uint64, max int) []Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Item
	for _, ri := range t.overlapping(start, end) {
		if ri.state&bitRelv != 0 && ri.state&bitDone == 0 {
			out = append(out, Item{
				Start: ri.Start, End: ri.End,
				Seen: ri.state&bitSeen != 0,
				Relevant: true,
				Done: false,
			})
		}
		if len(out) >= max {
			break
		}
	}
	return out
}

// CheckRange is the range-query form of the consumed duet_check ABI
// (check(task_id, lba, len) -> {1,0,-1}): relevant and done are true only if
// every point of [start,end) is covered by a tracked item with that bit set,
// false on any gap or any covered-but-unset point. It walks overlapping
// directly rather than probing point by point.
func (t *Task) CheckRange(start, end uint64) (relevant, done bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if end <= start {
		return false, false, nil
	}
	items := t.overlapping(start, end)
	if len(items) == 0 {
		return false, false, fmt.Errorf("duet: no entry covering [%d,%d)", start, end)
	}
	pos := start
	relevant, done = true, true
	for _, it := range items {
		if it.Start > pos {
			return false, false, nil
		}
		if it.state&bitRelv == 0 {
			relevant = false
		}
		if it.state&bitDone == 0 {
			done = false
		}
		if it.End > pos {
			pos = it.End
		}
	}
	if pos < end {
		return false, false, nil
	}
	return relevant, done, nil
}

// Check reports the SEEN/RELV/DONE state of a single point, for tests and
// diagnostics.
func (t *Task) Check(point uint64) (seen, relevant, done bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := t.overlapping(point, point+1)
	if len(items) == 0 {
		return false, false, false, fmt.Errorf("duet: no entry covering %d", point)
	}
	found := items[0]
	return found.state&bitSeen != 0, found.state&bitRelv != 0, found.state&bitDone != 0, nil
}
