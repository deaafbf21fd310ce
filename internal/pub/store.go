package pub

import (
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"pubcompat/internal/couchbase"
)

// Topic registers a topic with the couchbase transport.
type Topic struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

// Offset is the next write position of a topic shard.
type Offset struct {
	ID string `json:"id"`
	N  uint64 `json:"n"`
}

// Cursor is how far a subscription has read a topic shard.
type Cursor struct {
	ID     string `json:"id"`
	Topic  string `json:"topic"`
	Sub    string `json:"sub"`
	Shard  int    `json:"shard"`
	Offset uint64 `json:"offset"`
}

// Lease grants one subscription exclusive delivery of a message until Expires.
type Lease struct {
	ID        string    `json:"id"`
	Sub       string    `json:"sub"`
	MessageID string    `json:"messageID"`
	Offset    uint64    `json:"offset"`
	Expires   time.Time `json:"expires"`
}

func NewTopicsStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Store[Topic], error) {
	return newStore[Topic](cluster, bucket, scope, "topics")
}

func NewOffsetsStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Store[Offset], error) {
	return newStore[Offset](cluster, bucket, scope, "offsets")
}

func NewCursorsStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Store[Cursor], error) {
	return newStore[Cursor](cluster, bucket, scope, "cursors")
}

func NewLeasesStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Store[Lease], error) {
	return newStore[Lease](cluster, bucket, scope, "leases")
}

func newStore[T any](cluster *gocb.Cluster, bucket *gocb.Bucket, scope, collection string) (*couchbase.Store[T], error) {
	if bucket == nil {
		return nil, fmt.Errorf("failed to open %s store: nil bucket", collection)
	}

	store, err := couchbase.NewStore[T](cluster, bucket.Scope(scope).Collection(collection))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", collection, err)
	}

	return store, nil
}

func TopicKey(topic string) string {
	return fmt.Sprintf("topic::%s", topic)
}

func OffsetKey(topic string, shard int) string {
	return fmt.Sprintf("offset::%s::%d", topic, shard)
}

func CursorKey(topic, sub string, shard int) string {
	return fmt.Sprintf("cursor::%s::%s::%d", topic, sub, shard)
}

func LeaseKey(sub, msgID string) string {
	return fmt.Sprintf("lease::%s::%s", sub, msgID)
}
