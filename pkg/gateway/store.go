package gateway

import (
	"context"

	"github.com/mcpfed/gateway/pkg/db"
	"github.com/mcpfed/gateway/pkg/federation"
)

// dbStore adapts pkg/db's DAO to federation.Store. federation.Store's
// methods predate a context parameter (they serve the in-request
// read path, which never needs to be long-running or cancellable mid-call
// the way a dispatch is); context.Background() is used for the underlying
// DAO calls here since a SQLite read is always fast.
type dbStore struct {
	dao db.DAO
}

func newDBStore(dao db.DAO) *dbStore { return &dbStore{dao: dao} }

func entityFromDB(e db.Entity) federation.Entity {
	fe := federation.Entity{
		ID:              e.ID,
		GatewayID:       e.GatewayID,
		Name:            e.Name,
		IntegrationType: federation.IntegrationType(e.IntegrationType),
		Tags:            []string(e.Tags),
		Visibility:      federation.Visibility(e.Visibility),
		Enabled:         true,
	}
	if e.TeamID != nil {
		fe.TeamID = *e.TeamID
	}
	if schema, ok := e.Spec["schema"].(map[string]any); ok {
		fe.Schema = schema
	}
	if remote, ok := e.Spec["remote_name"].(string); ok {
		fe.RemoteName = remote
	}
	if enabled, ok := e.Spec["enabled"].(bool); ok {
		fe.Enabled = enabled
	}
	return fe
}

func (s *dbStore) listByKind(kind, teamID string) ([]federation.Entity, error) {
	rows, err := s.dao.ListEntities(context.Background(), kind, teamID)
	if err != nil {
		return nil, err
	}
	out := make([]federation.Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, entityFromDB(r))
	}
	return out, nil
}

func (s *dbStore) ListTools(teamID string) ([]federation.Entity, error) {
	return s.listByKind("tool", teamID)
}

func (s *dbStore) ListResources(teamID string) ([]federation.Entity, error) {
	return s.listByKind("resource", teamID)
}

func (s *dbStore) ListPrompts(teamID string) ([]federation.Entity, error) {
	return s.listByKind("prompt", teamID)
}

func (s *dbStore) FindTool(name, teamID string) (*federation.Entity, bool, error) {
	tools, err := s.ListTools(teamID)
	if err != nil {
		return nil, false, err
	}
	for i := range tools {
		if tools[i].Name == name {
			return &tools[i], true, nil
		}
	}
	return nil, false, nil
}

// FindResource looks up a resource by URI — resources are stored with
// their URI as the entity name, since spec.md §3 addresses resources by
// URI rather than a separate human name.
func (s *dbStore) FindResource(uri, teamID string) (*federation.Entity, bool, error) {
	resources, err := s.ListResources(teamID)
	if err != nil {
		return nil, false, err
	}
	for i := range resources {
		if resources[i].Name == uri {
			return &resources[i], true, nil
		}
	}
	return nil, false, nil
}

func (s *dbStore) FindPrompt(name, teamID string) (*federation.Entity, bool, error) {
	prompts, err := s.ListPrompts(teamID)
	if err != nil {
		return nil, false, err
	}
	for i := range prompts {
		if prompts[i].Name == name {
			return &prompts[i], true, nil
		}
	}
	return nil, false, nil
}

func (s *dbStore) GetGateway(id string) (*federation.Gateway, bool, error) {
	gw, err := s.dao.GetGateway(context.Background(), id)
	if err != nil {
		// sql.ErrNoRows is the DAO's not-found signal; federation.Store's
		// contract is a bool, not an error, for the not-found case.
		return nil, false, nil
	}
	fg := &federation.Gateway{
		ID:         gw.ID,
		URL:        gw.URL,
		Transport:  federation.TransportType(gw.Transport),
		TeamID:     "",
		Visibility: federation.Visibility(gw.Visibility),
		Enabled:    gw.Enabled,
		Reachable:  gw.Reachable,
	}
	if gw.TeamID != nil {
		fg.TeamID = *gw.TeamID
	}
	if gw.LastSeen != nil {
		fg.LastSeen = *gw.LastSeen
	}
	if authType, ok := gw.AuthConfig["type"].(string); ok {
		fg.Auth.Type = authType
	}
	if token, ok := gw.AuthConfig["token"].(string); ok {
		fg.Auth.Token = token
	}
	if enabled, ok := gw.IdentityPropagation["enabled"].(bool); ok {
		fg.IdentityPropagation.Enabled = enabled
	}
	if mode, ok := gw.IdentityPropagation["mode"].(string); ok {
		fg.IdentityPropagation.Mode = mode
	}
	return fg, true, nil
}
