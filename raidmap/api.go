// Package raidmap defines the RAID-mapping ABI the extent walker consumes:
// map(logical, length, direction_hint) -> { stripes[], num_stripes,
// mirror_num, per_stripe(dev, physical) }. It provides a reference Mapper
// good enough to drive single/DUP/RAID0/RAID1/RAID10 and RAID5-6
// data-stripe layouts in tests. The real chunk-tree lookup that backs this
// in production btrfs is out of scope here; this package only needs to
// reproduce the mapping arithmetic, not the on-disk chunk tree.
package raidmap

import (
	"fmt"

	"github.com/NVIDIA/btrfs-scrub/blockio"
)

// ChunkType enumerates the layouts a scrub run needs to map. RAID5/6 are
// modeled only for their data stripes — parity-stripe scrubbing is
// explicitly out of scope.
type ChunkType int

const (
	Single ChunkType = iota
	DUP
	RAID0
	RAID1
	RAID10
	RAID5
	RAID6
)

func (t ChunkType) String() string {
	switch t {
	case Single:
		return "single"
	case DUP:
		return "dup"
	case RAID0:
		return "raid0"
	case RAID1:
		return "raid1"
	case RAID10:
		return "raid10"
	case RAID5:
		return "raid5"
	case RAID6:
		return "raid6"
	default:
		return "unknown"
	}
}

// StripeTarget is where one mirror of a stripe lands physically.
type StripeTarget struct {
	Device string
	Physical uint64
}

// Result is the per-stripe mapping the walker needs to read every mirror of
// a logical range.
type Result struct {
	Type ChunkType
	StripeLen uint64
	NumStripes int
	MirrorNum int // number of independent mirrors (copies) of the data
	Targets []StripeTarget // one per mirror, ordered by mirror index 0..MirrorNum-1
}

// Mapper is the interface the extent walker and the error-recovery state
// machine both call through.
type Mapper interface {
	// Map resolves a [logical, logical+length) range, which must not span
	// more than one stripe, to its per-mirror physical targets.
	Map(logical uint64, length uint64, dir blockio.Direction) (Result, error)

	// StripeLen reports the chunk's stripe length, used by the walker to
	// trim an extent to stripe bounds.
	StripeLen() uint64

	// ChunkLogicalRange reports the [start, end) logical range covered by
	// this chunk, used by the walker to iterate stripes.
	ChunkLogicalRange() (start, end uint64)
}

// StaticMapper is a reference Mapper for a single chunk of a fixed Type,
// striped across devices, used by tests and by any caller that already
// knows its chunk layout (a real implementation would instead search the
// chunk tree, which is out of scope here).
type StaticMapper struct {
	Type ChunkType
	Devices []string // physical device ids, in mirror/stripe order
	stripeLen uint64
	logicalBase uint64
	logicalSize uint64
	physBase uint64
}

// NewStaticMapper builds a StaticMapper covering [logicalBase,
// logicalBase+logicalSize) with the given stripe length and device set.
func NewStaticMapper(chunkType ChunkType, devices []string, logicalBase, logicalSize, stripeLen, physBase uint64) *StaticMapper {
	return &StaticMapper{
		Type: chunkType,
		Devices: devices,
		stripeLen: stripeLen,
		logicalBase: logicalBase,
		logicalSize: logicalSize,
		physBase: physBase,
	}
}

func (m *StaticMapper) StripeLen() uint64 { return m.stripeLen }

func (m *StaticMapper) ChunkLogicalRange() (start, end uint64) {
	return m.logicalBase, m.logicalBase + m.logicalSize
}

// Map implements Mapper for the layouts above. The data-stripe
// physical offset within a device is (row * stripeLen) +
// offsetWithinStripe. Single/DUP/RAID1/RAID10 place every stripe on every
// target, so row is the stripe index itself; RAID0/RAID5/RAID6 spread
// consecutive stripes across the devices, so row is stripeIndex / ndev.
func (m *StaticMapper) Map(logical uint64, length uint64, dir blockio.Direction) (result Result, err error) {
	if logical < m.logicalBase || logical+length > m.logicalBase+m.logicalSize {
		return Result{}, fmt.Errorf("raidmap: [%d,%d) outside chunk [%d,%d)", logical, logical+length, m.logicalBase, m.logicalBase+m.logicalSize)
	}
	stripeOffset := (logical - m.logicalBase) % m.stripeLen
	if stripeOffset+length > m.stripeLen {
		return Result{}, fmt.Errorf("raidmap: [%d,%d) spans more than one stripe of length %d", logical, logical+length, m.stripeLen)
	}
	stripeIndex := (logical - m.logicalBase) / m.stripeLen

	switch m.Type {
	case Single:
		result = Result{
			Type: m.Type, StripeLen: m.stripeLen, NumStripes: 1, MirrorNum: 1,
			Targets: []StripeTarget{{Device: m.Devices[0], Physical: m.physBase + stripeIndex*m.stripeLen + stripeOffset}},
		}
	case DUP:
		phys := m.physBase + stripeIndex*m.stripeLen + stripeOffset
		result = Result{Type: m.Type, StripeLen: m.stripeLen, NumStripes: 1, MirrorNum: 2}
		for i := 0; i < 2; i++ {
			result.Targets = append(result.Targets, StripeTarget{Device: m.Devices[0], Physical: phys})
		}
	case RAID1, RAID10:
		result = Result{Type: m.Type, StripeLen: m.stripeLen, NumStripes: 1, MirrorNum: len(m.Devices)}
		phys := m.physBase + stripeIndex*m.stripeLen + stripeOffset
		for _, dev := range m.Devices {
			result.Targets = append(result.Targets, StripeTarget{Device: dev, Physical: phys})
		}
	case RAID0, RAID5, RAID6:
		ndev := uint64(len(m.Devices))
		devIdx := stripeIndex % ndev
		rowIdx := stripeIndex / ndev
		phys := m.physBase + rowIdx*m.stripeLen + stripeOffset
		result = Result{Type: m.Type, StripeLen: m.stripeLen, NumStripes: 1, MirrorNum: 1}
		result.Targets = []StripeTarget{{Device: m.Devices[devIdx], Physical: phys}}
	default:
		return Result{}, fmt.Errorf("raidmap: unsupported chunk type %v", m.Type)
	}
	return result, nil
}
