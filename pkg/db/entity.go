package db

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// EntityDAO persists Tool/Resource/Prompt rows, keyed by (gateway_id, kind,
// name) per spec.md §3's "deleting cascades into Tool, Resource, Prompt
// linked via gateway_id" invariant (enforced here via ON DELETE CASCADE).
type EntityDAO interface {
	GetEntity(ctx context.Context, gatewayID, kind, name string) (*Entity, error)
	ListEntities(ctx context.Context, kind, teamID string) ([]Entity, error)
	UpsertEntity(ctx context.Context, e Entity) error
	DeleteEntitiesForGateway(ctx context.Context, gatewayID string) error
}

// StringList round-trips a []string through a JSON TEXT column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value any) error {
	str, ok := value.(string)
	if !ok {
		return errors.New("failed to scan StringList")
	}
	if str == "" {
		*l = nil
		return nil
	}
	return json.Unmarshal([]byte(str), l)
}

type Entity struct {
	ID              string     `db:"id"`
	GatewayID       string     `db:"gateway_id"`
	Kind            string     `db:"kind"` // tool | resource | prompt
	Name            string     `db:"name"`
	IntegrationType string     `db:"integration_type"`
	Visibility      string     `db:"visibility"`
	TeamID          *string    `db:"team_id"`
	Spec            JSONMap    `db:"spec"`
	Tags            StringList `db:"tags"`
	CreatedAt       time.Time  `db:"created_at"`
}

func (d *dao) GetEntity(ctx context.Context, gatewayID, kind, name string) (*Entity, error) {
	const query = `SELECT id, gateway_id, kind, name, integration_type, visibility, team_id, spec, tags, created_at
		FROM entity WHERE gateway_id = $1 AND kind = $2 AND name = $3`
	var e Entity
	if err := d.db.GetContext(ctx, &e, query, gatewayID, kind, name); err != nil {
		return nil, err
	}
	return &e, nil
}

func (d *dao) ListEntities(ctx context.Context, kind, teamID string) ([]Entity, error) {
	const query = `SELECT id, gateway_id, kind, name, integration_type, visibility, team_id, spec, tags, created_at
		FROM entity WHERE kind = $1 AND (team_id = $2 OR visibility = 'public') ORDER BY team_id, name`
	var entities []Entity
	if err := d.db.SelectContext(ctx, &entities, query, kind, teamID); err != nil {
		return nil, err
	}
	return entities, nil
}

func (d *dao) UpsertEntity(ctx context.Context, e Entity) error {
	const query = `INSERT INTO entity (id, gateway_id, kind, name, integration_type, visibility, team_id, spec, tags)
		VALUES (:id, :gateway_id, :kind, :name, :integration_type, :visibility, :team_id, :spec, :tags)
		ON CONFLICT (gateway_id, kind, name) DO UPDATE SET
			integration_type = excluded.integration_type,
			visibility = excluded.visibility,
			team_id = excluded.team_id,
			spec = excluded.spec,
			tags = excluded.tags`
	_, err := d.db.NamedExecContext(ctx, query, e)
	return err
}

func (d *dao) DeleteEntitiesForGateway(ctx context.Context, gatewayID string) error {
	const query = `DELETE FROM entity WHERE gateway_id = $1`
	_, err := d.db.ExecContext(ctx, query, gatewayID)
	return err
}
