package extentindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutAndLookupExtent(t *testing.T) {
	cr := NewCommitRoot()
	require.NoError(t, cr.PutExtent(ExtentInfo{Logical: 0, Length: 4096, Flags: 1, Generation: 1}))
	require.NoError(t, cr.PutExtent(ExtentInfo{Logical: 4096, Length: 4096, Flags: 1, Generation: 1}))

	ei, found, err := cr.LookupExtent(100)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(0), ei.Logical)

	ei, found, err = cr.LookupExtent(5000)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(4096), ei.Logical)
}

func TestLookupExtentNotFound(t *testing.T) {
	cr := NewCommitRoot()
	require.NoError(t, cr.PutExtent(ExtentInfo{Logical: 0, Length: 100, Flags: 1}))

	_, found, err := cr.LookupExtent(200)
	require.NoError(t, err)
	require.False(t, found)
}

func TestLookupExtentCacheConsistentWithTree(t *testing.T) {
	cr := NewCommitRoot()
	require.NoError(t, cr.PutExtent(ExtentInfo{Logical: 0, Length: 100, Flags: 1, Generation: 5}))

	// first call populates the cache, second call must return the same
	// answer whether or not the cache was consulted
	ei1, found1, err := cr.LookupExtent(50)
	require.NoError(t, err)
	ei2, found2, err := cr.LookupExtent(50)
	require.NoError(t, err)
	require.Equal(t, found1, found2)
	require.Equal(t, ei1, ei2)
}

func TestLookupExtentCacheDoesNotMaskNotFound(t *testing.T) {
	cr := NewCommitRoot()
	require.NoError(t, cr.PutExtent(ExtentInfo{Logical: 0, Length: 100, Flags: 1}))

	_, found, err := cr.LookupExtent(500)
	require.NoError(t, err)
	require.False(t, found)

	// repeated miss must stay a miss
	_, found, err = cr.LookupExtent(500)
	require.NoError(t, err)
	require.False(t, found)
}

func TestNextExtentAdvancesPastCurrent(t *testing.T) {
	cr := NewCommitRoot()
	require.NoError(t, cr.PutExtent(ExtentInfo{Logical: 0, Length: 100}))
	require.NoError(t, cr.PutExtent(ExtentInfo{Logical: 500, Length: 100}))

	ei, found, err := cr.NextExtent(100)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(500), ei.Logical)
}

func TestNextExtentNoneRemaining(t *testing.T) {
	cr := NewCommitRoot()
	require.NoError(t, cr.PutExtent(ExtentInfo{Logical: 0, Length: 100}))

	_, found, err := cr.NextExtent(1000)
	require.NoError(t, err)
	require.False(t, found)
}

func TestPutAndLookupCsum(t *testing.T) {
	cr := NewCommitRoot()
	require.NoError(t, cr.PutCsum(CsumEntry{Logical: 0, Length: 4096, Csum: 0xABCD}))

	ce, found, err := cr.LookupCsum(10)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(0xABCD), ce.Csum)
}

func TestLookupCsumNoEntryIsNodatasum(t *testing.T) {
	cr := NewCommitRoot()
	_, found, err := cr.LookupCsum(0)
	require.NoError(t, err)
	require.False(t, found)
}
