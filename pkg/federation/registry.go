package federation

import (
	"sort"

	"github.com/mcpfed/gateway/pkg/gwerrors"
	"github.com/mcpfed/gateway/pkg/identity"
)

// Store is the read path over the persisted entity tables (backed by
// pkg/db in production, or an in-memory fake in tests).
type Store interface {
	ListTools(teamID string) ([]Entity, error)
	ListResources(teamID string) ([]Entity, error)
	ListPrompts(teamID string) ([]Entity, error)
	FindTool(name, teamID string) (*Entity, bool, error)
	FindResource(uri, teamID string) (*Entity, bool, error)
	FindPrompt(name, teamID string) (*Entity, bool, error)
	GetGateway(id string) (*Gateway, bool, error)
}

// visible reports whether e is visible to a caller in teamID: public
// entities are visible to everyone, team entities only to members of the
// owning team, private entities only within the exact same team scope they
// were created in (modeled here as team-scoped too, since there is no
// owning-user concept on Entity).
func visible(e Entity, teamID string) bool {
	if !e.Enabled {
		return false
	}
	switch e.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityTeam, VisibilityPrivate:
		return e.TeamID == teamID
	default:
		return false
	}
}

// Page applies spec.md §4.6's stable (team_id, name) ordering and
// (page, per_page) pagination to a caller-visible entity list.
func Page(entities []Entity, uc *identity.UserContext, page, perPage int) []Entity {
	visibleSet := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if visible(e, uc.TeamID) {
			visibleSet = append(visibleSet, e)
		}
	}
	sort.Slice(visibleSet, func(i, j int) bool {
		if visibleSet[i].TeamID != visibleSet[j].TeamID {
			return visibleSet[i].TeamID < visibleSet[j].TeamID
		}
		return visibleSet[i].Name < visibleSet[j].Name
	})
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = len(visibleSet)
		if perPage == 0 {
			return visibleSet
		}
	}
	start := (page - 1) * perPage
	if start >= len(visibleSet) {
		return nil
	}
	end := start + perPage
	if end > len(visibleSet) {
		end = len(visibleSet)
	}
	return visibleSet[start:end]
}

// ResolveTool implements the "resolve name to exactly one entity" half of
// invoke_tool's step 1.
func ResolveTool(store Store, name string, uc *identity.UserContext) (*Entity, error) {
	e, ok, err := store.FindTool(name, uc.TeamID)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "resolve tool")
	}
	if !ok || !visible(*e, uc.TeamID) {
		return nil, gwerrors.New(gwerrors.NotFound, "tool not found or not visible: "+name)
	}
	return e, nil
}

// ResolveResource is ResolveTool's analogue for resources.
func ResolveResource(store Store, uri string, uc *identity.UserContext) (*Entity, error) {
	e, ok, err := store.FindResource(uri, uc.TeamID)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "resolve resource")
	}
	if !ok || !visible(*e, uc.TeamID) {
		return nil, gwerrors.New(gwerrors.NotFound, "resource not found or not visible: "+uri)
	}
	return e, nil
}

// ResolvePrompt is ResolveTool's analogue for prompts.
func ResolvePrompt(store Store, name string, uc *identity.UserContext) (*Entity, error) {
	e, ok, err := store.FindPrompt(name, uc.TeamID)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "resolve prompt")
	}
	if !ok || !visible(*e, uc.TeamID) {
		return nil, gwerrors.New(gwerrors.NotFound, "prompt not found or not visible: "+name)
	}
	return e, nil
}
