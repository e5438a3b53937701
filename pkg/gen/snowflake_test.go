package gen

import (
	"testing"

	"vaultkey-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestNewSnowflakeNode(t *testing.T) {
	cfg := &config.Config{}
	cfg.Snowflake.NodeID = 7

	node, err := NewSnowflakeNode(cfg)
	require.NoError(t, err)

	a, b := node.Generate(), node.Generate()
	require.Equal(t, int64(7), a.Node())
	require.Greater(t, b.Int64(), a.Int64())

	cfg.Snowflake.NodeID = 4096
	_, err = NewSnowflakeNode(cfg)
	require.Error(t, err)
}
