package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectionNameMapping(t *testing.T) {
	c := &Client{cfg: DefaultConfig()}

	assert.Equal(t, "players", c.CollectionName(KindPlayer))
	assert.Equal(t, "rooms", c.CollectionName(KindRoom))
	assert.Equal(t, "game_records", c.CollectionName(KindGameRecord))
	assert.Equal(t, "state", c.CollectionName(KindGeneric))
}

func TestCollectionNameFallback(t *testing.T) {
	c := &Client{cfg: Config{Collections: map[string]string{}}}

	// Unmapped kinds use the kind name itself.
	assert.Equal(t, "player", c.CollectionName(KindPlayer))
	assert.Equal(t, "custom", c.CollectionName(Kind("custom")))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "mongodb://localhost:27017", cfg.URI)
	assert.Equal(t, "arcadia", cfg.Database)
	assert.Equal(t, "local", cfg.ReadConcern)
	assert.Equal(t, "majority", cfg.WriteConcern)
	assert.NotZero(t, cfg.ConnectTimeout)
}
