package raidmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/btrfs-scrub/blockio"
)

func TestStaticMapperSingle(t *testing.T) {
	m := NewStaticMapper(Single, []string{"dev0"}, 0, 1<<20, 4096, 0)
	result, err := m.Map(4096, 4096, blockio.DirectionRead)
	require.NoError(t, err)
	require.Equal(t, 1, result.MirrorNum)
	require.Equal(t, "dev0", result.Targets[0].Device)
	require.Equal(t, uint64(4096), result.Targets[0].Physical)
}

func TestStaticMapperDUPDoubleMirrorsSameDevice(t *testing.T) {
	m := NewStaticMapper(DUP, []string{"dev0"}, 0, 1<<20, 4096, 0)
	result, err := m.Map(0, 100, blockio.DirectionRead)
	require.NoError(t, err)
	require.Equal(t, 2, result.MirrorNum)
	require.Len(t, result.Targets, 2)
	require.Equal(t, result.Targets[0].Physical, result.Targets[1].Physical)
	require.Equal(t, result.Targets[0].Device, result.Targets[1].Device)
}

func TestStaticMapperRAID1MirrorsAcrossDevices(t *testing.T) {
	m := NewStaticMapper(RAID1, []string{"dev0", "dev1"}, 0, 1<<20, 4096, 0)
	result, err := m.Map(0, 100, blockio.DirectionRead)
	require.NoError(t, err)
	require.Equal(t, 2, result.MirrorNum)
	require.Equal(t, "dev0", result.Targets[0].Device)
	require.Equal(t, "dev1", result.Targets[1].Device)
	require.Equal(t, result.Targets[0].Physical, result.Targets[1].Physical)
}

func TestStaticMapperRAID0StripesAcrossDevices(t *testing.T) {
	m := NewStaticMapper(RAID0, []string{"dev0", "dev1"}, 0, 1<<20, 4096, 0)

	r0, err := m.Map(0, 100, blockio.DirectionRead)
	require.NoError(t, err)
	require.Equal(t, "dev0", r0.Targets[0].Device)

	r1, err := m.Map(4096, 100, blockio.DirectionRead)
	require.NoError(t, err)
	require.Equal(t, "dev1", r1.Targets[0].Device)

	r2, err := m.Map(8192, 100, blockio.DirectionRead)
	require.NoError(t, err)
	require.Equal(t, "dev0", r2.Targets[0].Device)
	require.Equal(t, r0.Targets[0].Physical+4096, r2.Targets[0].Physical)
}

func TestMapRejectsRangeOutsideChunk(t *testing.T) {
	m := NewStaticMapper(Single, []string{"dev0"}, 1000, 1000, 4096, 0)
	_, err := m.Map(0, 100, blockio.DirectionRead)
	require.Error(t, err)
}

func TestMapRejectsRangeSpanningStripe(t *testing.T) {
	m := NewStaticMapper(Single, []string{"dev0"}, 0, 8192, 4096, 0)
	_, err := m.Map(4000, 200, blockio.DirectionRead)
	require.Error(t, err)
}

func TestChunkLogicalRange(t *testing.T) {
	m := NewStaticMapper(Single, []string{"dev0"}, 1000, 2000, 512, 0)
	start, end := m.ChunkLogicalRange()
	require.Equal(t, uint64(1000), start)
	require.Equal(t, uint64(3000), end)
}

func TestChunkTypeString(t *testing.T) {
	require.Equal(t, "raid10", RAID10.String())
	require.Equal(t, "unknown", ChunkType(99).String())
}
