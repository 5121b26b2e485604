package server

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playforge/arcadia/pkg/config"
	"github.com/playforge/arcadia/pkg/store/mongo"
	"github.com/playforge/arcadia/pkg/syncer"
)

func TestDefaultBindersCoverBuiltinKinds(t *testing.T) {
	binders := defaultBinders()

	byKind := make(map[mongo.Kind]syncer.Binder, len(binders))
	for _, b := range binders {
		byKind[b.Kind] = b
	}

	require.Contains(t, byKind, mongo.KindPlayer)
	require.Contains(t, byKind, mongo.KindRoom)
	require.Contains(t, byKind, mongo.KindGameRecord)
	require.Contains(t, byKind, mongo.KindGeneric)

	// Game records must not be deferred: they are the system of record.
	assert.Equal(t, syncer.WriteThrough, byKind[mongo.KindGameRecord].Strategy)
	// Generic scratch state never reaches the document store on its own.
	assert.Equal(t, syncer.CacheAside, byKind[mongo.KindGeneric].Strategy)
}

func TestVerifierFromConfig(t *testing.T) {
	verify := verifierFromConfig(config.AuthConfig{
		Secret: "test-secret",
		Issuer: "login.example",
	})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"player_id": "alice",
		"iss":       "login.example",
		"exp":       time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	playerID, err := verify.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", playerID)

	// Wrong issuer is rejected.
	badIss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"player_id": "alice",
		"iss":       "other.example",
		"exp":       time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = verify.Verify(badIss)
	assert.Error(t, err)
}
