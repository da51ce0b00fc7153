package settlement

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.db")
	cache, err := OpenChannelCache(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	require.Equal(t, "", cache.Get("peer-a", "USD", "evm"))

	require.NoError(t, cache.Set("peer-a", "USD", "evm", "chan-123"))
	require.Equal(t, "chan-123", cache.Get("peer-a", "USD", "evm"))
}
