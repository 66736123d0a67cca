package db

import (
	"context"
	"time"
)

// VirtualServerDAO persists the VirtualServer entity (spec.md §3): a named,
// team-scoped subset of entities presented to clients as a single server.
type VirtualServerDAO interface {
	GetVirtualServer(ctx context.Context, id string) (*VirtualServer, error)
	ListVirtualServers(ctx context.Context, teamID string) ([]VirtualServer, error)
	CreateVirtualServer(ctx context.Context, vs VirtualServer) error
	UpdateVirtualServerEntities(ctx context.Context, id string, entityIDs []string) error
	DeleteVirtualServer(ctx context.Context, id string) error
}

type VirtualServer struct {
	ID         string     `db:"id"`
	Name       string     `db:"name"`
	TeamID     *string    `db:"team_id"`
	Visibility string     `db:"visibility"`
	EntityIDs  StringList `db:"entity_ids"`
	CreatedAt  time.Time  `db:"created_at"`
}

func (d *dao) GetVirtualServer(ctx context.Context, id string) (*VirtualServer, error) {
	const query = `SELECT id, name, team_id, visibility, entity_ids, created_at FROM virtual_server WHERE id = $1`
	var vs VirtualServer
	if err := d.db.GetContext(ctx, &vs, query, id); err != nil {
		return nil, err
	}
	return &vs, nil
}

func (d *dao) ListVirtualServers(ctx context.Context, teamID string) ([]VirtualServer, error) {
	const query = `SELECT id, name, team_id, visibility, entity_ids, created_at
		FROM virtual_server WHERE team_id = $1 OR visibility = 'public' ORDER BY name`
	var servers []VirtualServer
	if err := d.db.SelectContext(ctx, &servers, query, teamID); err != nil {
		return nil, err
	}
	return servers, nil
}

func (d *dao) CreateVirtualServer(ctx context.Context, vs VirtualServer) error {
	const query = `INSERT INTO virtual_server (id, name, team_id, visibility, entity_ids)
		VALUES (:id, :name, :team_id, :visibility, :entity_ids)`
	_, err := d.db.NamedExecContext(ctx, query, vs)
	return err
}

func (d *dao) UpdateVirtualServerEntities(ctx context.Context, id string, entityIDs []string) error {
	const query = `UPDATE virtual_server SET entity_ids = $1 WHERE id = $2`
	_, err := d.db.ExecContext(ctx, query, StringList(entityIDs), id)
	return err
}

func (d *dao) DeleteVirtualServer(ctx context.Context, id string) error {
	const query = `DELETE FROM virtual_server WHERE id = $1`
	_, err := d.db.ExecContext(ctx, query, id)
	return err
}
