package utilities

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// SnowflakeNodeFromEnv reads SNOWFLAKE_NODE, defaulting to node 1 when the
// variable is missing or not a number.
func SnowflakeNodeFromEnv() int64 {
	nodeEnv := os.Getenv("SNOWFLAKE_NODE")
	if nodeEnv == "" {
		return 1
	}
	nodeID, err := strconv.ParseInt(nodeEnv, 10, 64)
	if err != nil {
		return 1
	}
	return nodeID
}

// NewSnowflakeNode returns an id generator for the given node. Node ids must
// fit in 10 bits.
func NewSnowflakeNode(nodeID int64) (*snowflake.Node, error) {
	return snowflake.NewNode(nodeID)
}
