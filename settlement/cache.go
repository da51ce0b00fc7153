package settlement

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var channelBucket = []byte("channels")

// ChannelCache persists the peer/asset/method -> channelId mapping
// across restarts, the way channeldb persists open channels, so a
// reconnecting node reuses rather than re-opens settlement channels.
type ChannelCache struct {
	db *bolt.DB
}

// OpenChannelCache opens (creating if necessary) the bbolt-backed cache
// at path.
func OpenChannelCache(path string) (*ChannelCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening channel cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(channelBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating channel cache bucket: %w", err)
	}

	return &ChannelCache{db: db}, nil
}

func (c *ChannelCache) Close() error { return c.db.Close() }

func cacheKey(peer, asset, method string) []byte {
	return []byte(peer + "|" + asset + "|" + method)
}

// Get returns the cached channel id, if any.
func (c *ChannelCache) Get(peer, asset, method string) string {
	var channelID string
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(channelBucket)
		if v := b.Get(cacheKey(peer, asset, method)); v != nil {
			channelID = string(v)
		}
		return nil
	})
	return channelID
}

// Set persists the channel id for (peer, asset, method).
func (c *ChannelCache) Set(peer, asset, method, channelID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(channelBucket)
		return b.Put(cacheKey(peer, asset, method), []byte(channelID))
	})
}
