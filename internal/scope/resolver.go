// Package scope computes the effective scope of one verified identity:
// the highest-wins role over an injected privilege ordering plus the
// resolved team/coordination/division boundary.
package scope

import (
	"context"
	"errors"
	"fmt"

	"github.com/djtdigital/jornada/internal/models"
	"github.com/djtdigital/jornada/internal/repository"
	"github.com/djtdigital/jornada/internal/roles"
	"go.uber.org/zap"
)

// ErrUnauthorized means the identity could not be verified (no profile
// exists for the id the authentication layer handed us).
var ErrUnauthorized = errors.New("unauthorized")

// Store is the slice of the repository the resolver reads from.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GetRoleLabels(ctx context.Context, userID string) ([]string, error)
	GetTeam(ctx context.Context, teamID string) (*models.Team, error)
	GetCoordination(ctx context.Context, coordID string) (*models.Coordination, error)
}

type Resolver struct {
	store     Store
	hierarchy roles.Hierarchy
	logger    *zap.Logger
}

// NewResolver builds a resolver over the given privilege ordering. The
// ordering is injected so tests can exercise alternate hierarchies.
func NewResolver(store Store, hierarchy roles.Hierarchy, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:     store,
		hierarchy: hierarchy,
		logger:    logger,
	}
}

// Resolve computes the caller's effective scope. It fails only when the
// identity is unverifiable; a verified identity with no roles resolves
// to the lowest tier. The result is computed fresh on every call so
// live role and profile edits take effect immediately.
func (r *Resolver) Resolve(ctx context.Context, userID string) (models.EffectiveScope, error) {
	profile, err := r.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.EffectiveScope{}, ErrUnauthorized
		}
		return models.EffectiveScope{}, fmt.Errorf("failed to load profile: %w", err)
	}

	labels, err := r.store.GetRoleLabels(ctx, userID)
	if err != nil {
		return models.EffectiveScope{}, fmt.Errorf("failed to load role labels: %w", err)
	}

	held := make(map[string]bool, len(labels))
	hasGrant := false
	hasCuration := false
	for _, label := range labels {
		canonical := roles.Normalize(label)
		if roles.IsGrant(canonical) {
			hasGrant = true
			if canonical == roles.CuradorConteudo {
				hasCuration = true
			}
			continue
		}
		held[canonical] = true
	}

	effectiveRole, ok := r.hierarchy.Highest(held)
	if !ok {
		effectiveRole = r.hierarchy.Lowest()
	}
	// A curation-only identity presents as the curation role instead of
	// the bottom tier, keeping downstream UX consistent.
	if effectiveRole == r.hierarchy.Lowest() && hasCuration {
		effectiveRole = roles.CuradorConteudo
	}

	s := models.EffectiveScope{
		EffectiveRole: effectiveRole,
		IsLeader:      profile.IsLeader || roles.Privileged(effectiveRole),
		StudioAccess:  profile.StudioAccess || roles.Privileged(effectiveRole) || hasGrant,
	}
	r.resolveUnits(ctx, profile, &s)
	return s, nil
}

// resolveUnits fills the team/coordination/division boundary. An
// explicit profile field always wins over the value derived from the
// team's parent chain; a disagreement between the two is logged. A
// broken hierarchy link degrades to an empty field rather than failing
// the request.
func (r *Resolver) resolveUnits(ctx context.Context, profile *models.Profile, s *models.EffectiveScope) {
	if profile.TeamID != nil {
		s.TeamID = *profile.TeamID
	}

	var derivedCoord, derivedDivision string
	if s.TeamID != "" {
		team, err := r.store.GetTeam(ctx, s.TeamID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			r.logger.Warn("profile references unknown team",
				zap.String("user_id", profile.UserID),
				zap.String("team_id", s.TeamID))
		case err != nil:
			r.logger.Warn("failed to walk team link",
				zap.String("user_id", profile.UserID), zap.Error(err))
		default:
			derivedCoord = team.CoordinationID
		}
	}
	if derivedCoord != "" {
		coord, err := r.store.GetCoordination(ctx, derivedCoord)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			r.logger.Warn("team references unknown coordination",
				zap.String("user_id", profile.UserID),
				zap.String("coord_id", derivedCoord))
		case err != nil:
			r.logger.Warn("failed to walk coordination link",
				zap.String("user_id", profile.UserID), zap.Error(err))
		default:
			derivedDivision = coord.DivisionID
		}
	}

	s.CoordID = derivedCoord
	if profile.CoordID != nil {
		if derivedCoord != "" && *profile.CoordID != derivedCoord {
			r.logger.Warn("coordination override diverges from hierarchy",
				zap.String("user_id", profile.UserID),
				zap.String("override", *profile.CoordID),
				zap.String("derived", derivedCoord))
		}
		s.CoordID = *profile.CoordID
	}

	s.DivisionID = derivedDivision
	if profile.DivisionID != nil {
		if derivedDivision != "" && *profile.DivisionID != derivedDivision {
			r.logger.Warn("division override diverges from hierarchy",
				zap.String("user_id", profile.UserID),
				zap.String("override", *profile.DivisionID),
				zap.String("derived", derivedDivision))
		}
		s.DivisionID = *profile.DivisionID
	}
}
