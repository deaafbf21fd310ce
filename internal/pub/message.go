package pub

import (
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"pubcompat/internal/couchbase"
)

// Wire attribute names set by the producer.
const (
	AttrKey       = "key"
	AttrPartition = "partition"
	AttrTimestamp = "timestamp"
)

// Message is the wire form of a record as handed to a Publisher. The couchbase
// transport stores it as-is, filling in the log position fields.
type Message struct {
	ID          string            `json:"id"`
	Topic       string            `json:"topic"`
	Shard       int               `json:"shard"`
	Offset      uint64            `json:"offset"`
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime *time.Time        `json:"publishTime,omitempty"`
}

// Size is the payload size counted against bundle byte thresholds.
func (m *Message) Size() int {
	n := len(m.Data)
	for k, v := range m.Attributes {
		n += len(k) + len(v)
	}
	return n
}

func NewMessagesStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Store[Message], error) {
	return newStore[Message](cluster, bucket, scope, "messages")
}

func MessageKey(topic string, shard int, offset uint64) string {
	return fmt.Sprintf("message::%s::%d::%d", topic, shard, offset)
}
