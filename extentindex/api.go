// Package extentindex holds the commit-root view of the extent tree and the
// csum tree the extent walker and checksum verifier read against.
//
// Both trees are backed by github.com/NVIDIA/sortedmap's LLRBTree. Lookups
// use BisectLeft/BisectRight to find the covering or next entry by key in
// one tree descent rather than scanning every entry by index. Keys are
// formatted as fixed-width hex so that sortedmap's default string
// comparison orders them numerically.
package extentindex

import (
	"fmt"

	"github.com/NVIDIA/sortedmap"
	"github.com/dgraph-io/ristretto"
)

// ExtentInfo is one entry of the extent tree: the logical-to-physical extent
// record the walker iterates.
type ExtentInfo struct {
	Logical uint64
	Length uint64
	Flags uint64 // bit 0: DATA, bit 1: TREE_BLOCK 
	Generation uint64
}

// CsumEntry is one entry of the csum tree: the recorded data checksum for a
// sector range.
type CsumEntry struct {
	Logical uint64
	Length uint64
	Csum uint32
}

func extentKey(logical uint64) string { return fmt.Sprintf("%016x", logical) }

// callbacks implements sortedmap.BPlusTreeCallbacks' LLRBTree subset: it
// only needs to stringify keys/values for diagnostics.
type extentCallbacks struct{}

func (extentCallbacks) DumpKey(key sortedmap.Key) (string, error) {
	s, ok := key.(string)
	if !ok {
		return "", fmt.Errorf("extentindex: key is not a string: %v", key)
	}
	return s, nil
}

func (extentCallbacks) DumpValue(value sortedmap.Value) (string, error) {
	ei, ok := value.(ExtentInfo)
	if !ok {
		return "", fmt.Errorf("extentindex: value is not an ExtentInfo: %v", value)
	}
	return fmt.Sprintf("%+v", ei), nil
}

type csumCallbacks struct{}

func (csumCallbacks) DumpKey(key sortedmap.Key) (string, error) {
	s, ok := key.(string)
	if !ok {
		return "", fmt.Errorf("extentindex: key is not a string: %v", key)
	}
	return s, nil
}

func (csumCallbacks) DumpValue(value sortedmap.Value) (string, error) {
	ce, ok := value.(CsumEntry)
	if !ok {
		return "", fmt.Errorf("extentindex: value is not a CsumEntry: %v", value)
	}
	return fmt.Sprintf("%+v", ce), nil
}

func compareHexKeys(keyA, keyB sortedmap.Key) (int, error) {
	a, aOK := keyA.(string)
	b, bOK := keyB.(string)
	if !aOK || !bOK {
		return 0, fmt.Errorf("extentindex: keys must be hex strings")
	}
	switch {
	case a < b:
		return -1, nil
	case a > b:
		return 1, nil
	default:
		return 0, nil
	}
}

// CommitRoot is a snapshot of the extent tree and csum tree the walker and
// verifier consult. It is immutable once built: a new transaction commit
// produces a new CommitRoot rather than mutating this one in place, matching
// the copy-on-write semantics of the host filesystem.
//
// Because it is immutable once handed to a run, point lookups are cached in
// a github.com/dgraph-io/ristretto cache: the walker re-queries the same
// extent's csum entry once per sub-block it covers, and a pause/resume cycle
// re-queries the same logical offset it parked at.
type CommitRoot struct {
	extents sortedmap.LLRBTree
	csums sortedmap.LLRBTree
	lookupCache *ristretto.Cache
}

type extentLookup struct {
	ei ExtentInfo
	found bool
}

type csumLookup struct {
	ce CsumEntry
	found bool
}

// NewCommitRoot builds an empty CommitRoot. Callers populate it via PutExtent
// / PutCsum before handing it to the walker; a CommitRoot already in use by
// a running scrub must not be mutated.
func NewCommitRoot() *CommitRoot {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost: 1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		// A misconfigured cache is a programmer error, not a runtime
		// condition; fall back to an always-miss cache rather than panic.
		cache = nil
	}
	return &CommitRoot{
		extents: sortedmap.NewLLRBTree(compareHexKeys, extentCallbacks{}),
		csums: sortedmap.NewLLRBTree(compareHexKeys, csumCallbacks{}),
		lookupCache: cache,
	}
}

func (cr *CommitRoot) PutExtent(ei ExtentInfo) error {
	_, err := cr.extents.Put(extentKey(ei.Logical), ei)
	return err
}

// LookupExtent returns the extent covering logical, if any.
func (cr *CommitRoot) LookupExtent(logical uint64) (ei ExtentInfo, found bool, err error) {
	cacheKey := "e" + extentKey(logical)
	if cr.lookupCache != nil {
		if v, ok := cr.lookupCache.Get(cacheKey); ok {
			hit := v.(extentLookup)
			return hit.ei, hit.found, nil
		}
	}

	// Extents are keyed by their own start, so the extent covering logical
	// (if any) is the one at the largest key <= logical: BisectLeft lands
	// exactly there in one tree descent, whether or not logical itself is a
	// key.
	idx, _, err := cr.extents.BisectLeft(extentKey(logical))
	if err != nil {
		return ExtentInfo{}, false, err
	}
	if idx >= 0 {
		_, v, ok, err := cr.extents.GetByIndex(idx)
		if err != nil {
			return ExtentInfo{}, false, err
		}
		if ok {
			ei = v.(ExtentInfo)
			if logical >= ei.Logical && logical < ei.Logical+ei.Length {
				if cr.lookupCache != nil {
					cr.lookupCache.Set(cacheKey, extentLookup{ei: ei, found: true}, 1)
				}
				return ei, true, nil
			}
		}
	}
	if cr.lookupCache != nil {
		cr.lookupCache.Set(cacheKey, extentLookup{found: false}, 1)
	}
	return ExtentInfo{}, false, nil
}

// NextExtent returns the first extent whose logical start is >= from, used
// by the walker to advance past an extent it just finished.
func (cr *CommitRoot) NextExtent(from uint64) (ei ExtentInfo, found bool, err error) {
	// BisectRight lands on the exact key if from is itself an extent start,
	// or on the smallest key greater than from otherwise — either way the
	// next extent at or after from in one tree descent.
	idx, _, err := cr.extents.BisectRight(extentKey(from))
	if err != nil {
		return ExtentInfo{}, false, err
	}
	_, v, ok, err := cr.extents.GetByIndex(idx)
	if err != nil {
		return ExtentInfo{}, false, err
	}
	if !ok {
		return ExtentInfo{}, false, nil
	}
	return v.(ExtentInfo), true, nil
}

func (cr *CommitRoot) PutCsum(ce CsumEntry) error {
	_, err := cr.csums.Put(extentKey(ce.Logical), ce)
	return err
}

// LookupCsum returns the recorded checksum covering logical, or found=false
// if there is no csum-tree entry there (the nodatasum case).
func (cr *CommitRoot) LookupCsum(logical uint64) (ce CsumEntry, found bool, err error) {
	cacheKey := "c" + extentKey(logical)
	if cr.lookupCache != nil {
		if v, ok := cr.lookupCache.Get(cacheKey); ok {
			hit := v.(csumLookup)
			return hit.ce, hit.found, nil
		}
	}

	idx, _, err := cr.csums.BisectLeft(extentKey(logical))
	if err != nil {
		return CsumEntry{}, false, err
	}
	if idx >= 0 {
		_, v, ok, err := cr.csums.GetByIndex(idx)
		if err != nil {
			return CsumEntry{}, false, err
		}
		if ok {
			ce := v.(CsumEntry)
			if logical >= ce.Logical && logical < ce.Logical+ce.Length {
				if cr.lookupCache != nil {
					cr.lookupCache.Set(cacheKey, csumLookup{ce: ce, found: true}, 1)
				}
				return ce, true, nil
			}
		}
	}
	if cr.lookupCache != nil {
		cr.lookupCache.Set(cacheKey, csumLookup{found: false}, 1)
	}
	return CsumEntry{}, false, nil
}
