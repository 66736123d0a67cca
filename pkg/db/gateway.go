package db

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// GatewayDAO persists the Gateway entity from spec.md §3: a federated
// upstream MCP server registration.
type GatewayDAO interface {
	GetGateway(ctx context.Context, id string) (*Gateway, error)
	ListGateways(ctx context.Context, teamID string) ([]Gateway, error)
	CreateGateway(ctx context.Context, g Gateway) error
	UpdateGatewayReachability(ctx context.Context, id string, reachable bool, lastSeen time.Time) error
	DeleteGateway(ctx context.Context, id string) error
}

// JSONMap round-trips an arbitrary JSON object through a TEXT column, the
// same pattern the teacher's ServerSnapshot.Value/Scan use.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value any) error {
	str, ok := value.(string)
	if !ok {
		return errors.New("failed to scan JSONMap")
	}
	if str == "" {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal([]byte(str), m)
}

type Gateway struct {
	ID                   string     `db:"id"`
	URL                  string     `db:"url"`
	Transport            string     `db:"transport"`
	AuthConfig           JSONMap    `db:"auth_config"`
	IdentityPropagation  JSONMap    `db:"identity_propagation"`
	TeamID               *string    `db:"team_id"`
	Visibility           string     `db:"visibility"`
	Enabled              bool       `db:"enabled"`
	Reachable            bool       `db:"reachable"`
	LastSeen             *time.Time `db:"last_seen"`
	CreatedAt            time.Time  `db:"created_at"`
}

func (d *dao) GetGateway(ctx context.Context, id string) (*Gateway, error) {
	const query = `SELECT id, url, transport, auth_config, identity_propagation, team_id, visibility, enabled, reachable, last_seen, created_at FROM gateway WHERE id = $1`
	var g Gateway
	if err := d.db.GetContext(ctx, &g, query, id); err != nil {
		return nil, err
	}
	return &g, nil
}

func (d *dao) ListGateways(ctx context.Context, teamID string) ([]Gateway, error) {
	const query = `SELECT id, url, transport, auth_config, identity_propagation, team_id, visibility, enabled, reachable, last_seen, created_at
		FROM gateway WHERE team_id = $1 OR visibility = 'public' ORDER BY id`
	var gateways []Gateway
	if err := d.db.SelectContext(ctx, &gateways, query, teamID); err != nil {
		return nil, err
	}
	return gateways, nil
}

func (d *dao) CreateGateway(ctx context.Context, g Gateway) error {
	const query = `INSERT INTO gateway (id, url, transport, auth_config, identity_propagation, team_id, visibility, enabled, reachable)
		VALUES (:id, :url, :transport, :auth_config, :identity_propagation, :team_id, :visibility, :enabled, :reachable)`
	_, err := d.db.NamedExecContext(ctx, query, g)
	return err
}

func (d *dao) UpdateGatewayReachability(ctx context.Context, id string, reachable bool, lastSeen time.Time) error {
	const query = `UPDATE gateway SET reachable = $1, last_seen = $2 WHERE id = $3`
	_, err := d.db.ExecContext(ctx, query, reachable, lastSeen, id)
	return err
}

func (d *dao) DeleteGateway(ctx context.Context, id string) error {
	const query = `DELETE FROM gateway WHERE id = $1`
	_, err := d.db.ExecContext(ctx, query, id)
	return err
}
