package gen

import (
	"medilicense/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("snowflake", fx.Provide(NewNode))

// NewNode builds the ID generator for this replica. NODE_ID must be unique
// per running process.
func NewNode(cfg *config.Config) (*snowflake.Node, error) {
	nodeID := int64(1)
	if cfg != nil && cfg.NodeID > 0 {
		nodeID = cfg.NodeID
	}

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		zap.L().Error("failed to init snowflake node", zap.Int64("node_id", nodeID), zap.Error(err))
		return nil, err
	}
	return node, nil
}
