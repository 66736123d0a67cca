package virtualserver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpfed/gateway/pkg/db"
)

func newTestDAO(t *testing.T) db.DAO {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	dao, err := db.New(db.WithDatabaseFile(dbFile))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dao.Close() })
	return dao
}

func TestValidateRejectsBadVisibility(t *testing.T) {
	vs := VirtualServer{Version: 1, ID: "vs-1", Name: "support-bundle", Visibility: "nope"}
	assert.Error(t, vs.Validate())
}

func TestCreateGetAndSetEntities(t *testing.T) {
	dao := newTestDAO(t)
	ctx := context.Background()

	vs := VirtualServer{ID: "vs-1", Name: "support-bundle", Visibility: "team", TeamID: "team-eng", EntityIDs: []string{"ent-1"}}
	require.NoError(t, Create(ctx, dao, vs))

	got, err := Get(ctx, dao, "vs-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ent-1"}, got.EntityIDs)
	assert.Equal(t, "team-eng", got.TeamID)

	require.NoError(t, SetEntities(ctx, dao, "vs-1", []string{"ent-1", "ent-2"}))
	got, err = Get(ctx, dao, "vs-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ent-1", "ent-2"}, got.EntityIDs)
}

func TestListFiltersByTeamAndPublicVisibility(t *testing.T) {
	dao := newTestDAO(t)
	ctx := context.Background()
	require.NoError(t, Create(ctx, dao, VirtualServer{ID: "vs-team", Name: "a", Visibility: "team", TeamID: "team-eng"}))
	require.NoError(t, Create(ctx, dao, VirtualServer{ID: "vs-public", Name: "b", Visibility: "public"}))
	require.NoError(t, Create(ctx, dao, VirtualServer{ID: "vs-other", Name: "c", Visibility: "team", TeamID: "team-other"}))

	list, err := List(ctx, dao, "team-eng")
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, vs := range list {
		ids = append(ids, vs.ID)
	}
	assert.ElementsMatch(t, []string{"vs-team", "vs-public"}, ids)
}
