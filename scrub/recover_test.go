package scrub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllCleanTrueWhenNoPageErrored(t *testing.T) {
	pages := []recheckPage{{buf: []byte{1}}, {buf: []byte{2}}}
	require.True(t, allClean(pages))
}

func TestAllCleanFalseWhenAnyPageErrored(t *testing.T) {
	pages := []recheckPage{{buf: []byte{1}}, {buf: []byte{2}, ioError: true}}
	require.False(t, allClean(pages))
}

func TestAllCleanTrueForEmptySet(t *testing.T) {
	require.True(t, allClean(nil))
}
