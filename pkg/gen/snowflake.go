package gen

import (
	"fmt"

	"vaultkey-controlplane/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gen", fx.Provide(NewSnowflakeNode))

// NewSnowflakeNode returns the id generator for credential and audit rows. Every
// running instance needs its own SNOWFLAKE.NODE_ID.
func NewSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	id := cfg.Snowflake.NodeID
	if id < 0 || id > 1023 {
		return nil, fmt.Errorf("SNOWFLAKE.NODE_ID must be within 0..1023, got %d", id)
	}
	node, err := snowflake.NewNode(id)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node: %w", err)
	}
	zap.L().Info("snowflake node ready", zap.Int64("node_id", id))
	return node, nil
}
