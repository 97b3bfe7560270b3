// Package uid provides snowflake identifiers used as primary keys for all
// persisted models. IDs sort roughly by creation time, which the rotation
// orchestrator relies on for cursor pagination.
package uid

import (
	"fmt"
	mathrand "math/rand"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// ID is a snowflake identifier.
type ID int64

var (
	nodeOnce sync.Once
	node     *snowflake.Node
	nodeErr  error
)

// New generates a new ID. It panics if the generator node can not be
// constructed, which only happens with an out-of-range node number.
func New() ID {
	nodeOnce.Do(func() {
		// nolint:gosec // node number is not a secret, it only needs to
		// reduce collisions between processes.
		node, nodeErr = snowflake.NewNode(mathrand.Int63n(1024))
	})
	if nodeErr != nil {
		panic(nodeErr)
	}

	return ID(node.Generate())
}

// String returns the base58 representation of the ID.
func (u ID) String() string {
	return snowflake.ID(u).Base58()
}

// Parse decodes a base58 encoded ID.
func Parse(b []byte) (ID, error) {
	id, err := snowflake.ParseBase58(b)
	if err != nil {
		return 0, fmt.Errorf("parsing id: %w", err)
	}

	return ID(id), nil
}
