package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDAO(t *testing.T) DAO {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	dao, err := New(WithDatabaseFile(dbFile))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dao.Close() })
	return dao
}

func TestCreateAndGetGateway(t *testing.T) {
	dao := newTestDAO(t)
	ctx := context.Background()
	team := "team-eng"

	err := dao.CreateGateway(ctx, Gateway{
		ID:         "gw-1",
		URL:        "https://upstream.example.com/mcp",
		Transport:  "streamable_http",
		TeamID:     &team,
		Visibility: "team",
		Enabled:    true,
	})
	require.NoError(t, err)

	got, err := dao.GetGateway(ctx, "gw-1")
	require.NoError(t, err)
	assert.Equal(t, "https://upstream.example.com/mcp", got.URL)
	assert.True(t, got.Enabled)
	assert.False(t, got.Reachable)
}

func TestEntityUpsertIsIdempotentOnConflict(t *testing.T) {
	dao := newTestDAO(t)
	ctx := context.Background()
	team := "team-eng"
	require.NoError(t, dao.CreateGateway(ctx, Gateway{ID: "gw-1", URL: "https://u", Transport: "sse", TeamID: &team, Visibility: "team", Enabled: true}))

	entity := Entity{ID: "ent-1", GatewayID: "gw-1", Kind: "tool", Name: "search", IntegrationType: "mcp", Visibility: "team", TeamID: &team, Tags: StringList{"read"}}
	require.NoError(t, dao.UpsertEntity(ctx, entity))

	entity.Tags = StringList{"read", "v2"}
	require.NoError(t, dao.UpsertEntity(ctx, entity))

	got, err := dao.GetEntity(ctx, "gw-1", "tool", "search")
	require.NoError(t, err)
	assert.Equal(t, StringList{"read", "v2"}, got.Tags)
}

func TestDeleteEntitiesForGatewayCascadesAcrossKinds(t *testing.T) {
	dao := newTestDAO(t)
	ctx := context.Background()
	team := "team-eng"
	require.NoError(t, dao.CreateGateway(ctx, Gateway{ID: "gw-1", URL: "https://u", Transport: "sse", TeamID: &team, Visibility: "team", Enabled: true}))
	require.NoError(t, dao.UpsertEntity(ctx, Entity{ID: "ent-1", GatewayID: "gw-1", Kind: "tool", Name: "search", TeamID: &team, Visibility: "team"}))
	require.NoError(t, dao.UpsertEntity(ctx, Entity{ID: "ent-2", GatewayID: "gw-1", Kind: "resource", Name: "docs", TeamID: &team, Visibility: "team"}))

	require.NoError(t, dao.DeleteEntitiesForGateway(ctx, "gw-1"))

	_, err := dao.GetEntity(ctx, "gw-1", "tool", "search")
	assert.Error(t, err)
	_, err = dao.GetEntity(ctx, "gw-1", "resource", "docs")
	assert.Error(t, err)
}

func TestAuditRecordAndList(t *testing.T) {
	dao := newTestDAO(t)
	ctx := context.Background()
	team := "team-eng"

	require.NoError(t, dao.RecordAudit(ctx, AuditEntry{TeamID: &team, Hook: "tool_pre_invoke", Outcome: "violation", Detail: JSONMap{"reason": "denied"}}))
	entries, err := dao.ListAudit(ctx, team, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tool_pre_invoke", entries[0].Hook)
}
