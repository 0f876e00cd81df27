package utilities

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string. KSUIDs sort
// lexically in creation order, which makes them usable as event ids.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewUserID generates a time-ordered UUIDv7. Both its byte and text forms
// sort in creation order, so it works as a descending clustering key on
// every supported store.
func NewUserID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does
		return uuid.Must(uuid.NewRandom())
	}
	return id
}

var (
	nodeMu sync.Mutex
	node   *snowflake.Node
)

// SetSnowflakeNode configures the node used by NewSnowflakeID.
func SetSnowflakeNode(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	nodeMu.Lock()
	node = n
	nodeMu.Unlock()
	return nil
}

// NewSnowflakeID generates a snowflake ID string from the configured node,
// defaulting to node 1. If node setup fails it falls back to a KSUID string.
func NewSnowflakeID() string {
	nodeMu.Lock()
	defer nodeMu.Unlock()
	if node == nil {
		n, err := snowflake.NewNode(1)
		if err != nil {
			return NewKSUID()
		}
		node = n
	}
	return node.Generate().String()
}
