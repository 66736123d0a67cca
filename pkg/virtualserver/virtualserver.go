// Package virtualserver implements the VirtualServer entity (spec.md §3): a
// named, team-scoped subset of federated tools/resources/prompts presented
// to a client as a single logical MCP server.
//
// Grounded on the teacher's pkg/workingset.WorkingSet — a named, validated
// collection of server configs with version/id/name fields and a DB
// round-trip — generalized from "a set of upstream servers a user pulls
// and runs locally" to "a named subset of already-federated entities",
// with the OCI push/pull/export/import surface dropped (spec.md's
// Non-goals exclude packaging/distribution of server images; a virtual
// server never carries its own image).
package virtualserver

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mcpfed/gateway/pkg/db"
	"github.com/mcpfed/gateway/pkg/gwerrors"
)

const CurrentVersion = 1

// VirtualServer is the in-memory, validated representation; ToDB/FromDB
// round-trip it through the db.VirtualServer row shape.
type VirtualServer struct {
	Version    int      `yaml:"version" json:"version" validate:"required,min=1,max=1"`
	ID         string   `yaml:"id" json:"id" validate:"required"`
	Name       string   `yaml:"name" json:"name" validate:"required,min=1"`
	TeamID     string   `yaml:"team_id,omitempty" json:"team_id,omitempty"`
	Visibility string   `yaml:"visibility" json:"visibility" validate:"required,oneof=public team private"`
	EntityIDs  []string `yaml:"entity_ids" json:"entity_ids"`
}

var validate = validator.New()

func (vs VirtualServer) Validate() error {
	if err := validate.Struct(vs); err != nil {
		return gwerrors.Wrap(gwerrors.Internal, err, "invalid virtual server")
	}
	return nil
}

func (vs VirtualServer) ToDB() db.VirtualServer {
	var teamID *string
	if vs.TeamID != "" {
		teamID = &vs.TeamID
	}
	return db.VirtualServer{
		ID:         vs.ID,
		Name:       vs.Name,
		TeamID:     teamID,
		Visibility: vs.Visibility,
		EntityIDs:  vs.EntityIDs,
	}
}

func FromDB(row *db.VirtualServer) VirtualServer {
	vs := VirtualServer{
		Version:    CurrentVersion,
		ID:         row.ID,
		Name:       row.Name,
		Visibility: row.Visibility,
		EntityIDs:  []string(row.EntityIDs),
	}
	if row.TeamID != nil {
		vs.TeamID = *row.TeamID
	}
	return vs
}

// Create validates and persists a new virtual server.
func Create(ctx context.Context, dao db.DAO, vs VirtualServer) error {
	vs.Version = CurrentVersion
	if err := vs.Validate(); err != nil {
		return err
	}
	if err := dao.CreateVirtualServer(ctx, vs.ToDB()); err != nil {
		return fmt.Errorf("create virtual server: %w", err)
	}
	return nil
}

// Get loads and validates a stored virtual server.
func Get(ctx context.Context, dao db.DAO, id string) (*VirtualServer, error) {
	row, err := dao.GetVirtualServer(ctx, id)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.NotFound, err, "virtual server not found")
	}
	vs := FromDB(row)
	return &vs, nil
}

// SetEntities replaces the member entity ID list.
func SetEntities(ctx context.Context, dao db.DAO, id string, entityIDs []string) error {
	return dao.UpdateVirtualServerEntities(ctx, id, entityIDs)
}

// List returns every virtual server visible to teamID (its own team plus
// public ones), mirroring the visibility rule federation.visible uses for
// tools/resources/prompts.
func List(ctx context.Context, dao db.DAO, teamID string) ([]VirtualServer, error) {
	rows, err := dao.ListVirtualServers(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("list virtual servers: %w", err)
	}
	out := make([]VirtualServer, 0, len(rows))
	for i := range rows {
		out = append(out, FromDB(&rows[i]))
	}
	return out, nil
}

func Delete(ctx context.Context, dao db.DAO, id string) error {
	return dao.DeleteVirtualServer(ctx, id)
}
