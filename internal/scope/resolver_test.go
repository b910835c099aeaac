package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/djtdigital/jornada/internal/models"
	"github.com/djtdigital/jornada/internal/repository"
	"github.com/djtdigital/jornada/internal/roles"
)

type fakeStore struct {
	profiles      map[string]*models.Profile
	labels        map[string][]string
	teams         map[string]*models.Team
	coordinations map[string]*models.Coordination
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:      map[string]*models.Profile{},
		labels:        map[string][]string{},
		teams:         map[string]*models.Team{},
		coordinations: map[string]*models.Coordination{},
	}
}

func (f *fakeStore) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetRoleLabels(_ context.Context, userID string) ([]string, error) {
	return f.labels[userID], nil
}

func (f *fakeStore) GetTeam(_ context.Context, teamID string) (*models.Team, error) {
	t, ok := f.teams[teamID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) GetCoordination(_ context.Context, coordID string) (*models.Coordination, error) {
	c, ok := f.coordinations[coordID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func strptr(s string) *string { return &s }

// seedHierarchy wires team DJTB-CUB -> coordination DJTB-STO -> division DJTB.
func (f *fakeStore) seedHierarchy() {
	f.teams["DJTB-CUB"] = &models.Team{ID: "DJTB-CUB", Name: "Equipe Cubo", CoordinationID: "DJTB-STO"}
	f.coordinations["DJTB-STO"] = &models.Coordination{ID: "DJTB-STO", Name: "Coordenação Santos", DivisionID: "DJTB"}
}

func newTestResolver(store Store) *Resolver {
	return NewResolver(store, roles.DefaultHierarchy(), zap.NewNop())
}

func TestResolveUnknownIdentity(t *testing.T) {
	r := newTestResolver(newFakeStore())
	_, err := r.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestResolveNoRolesDefaultsToLowestTier(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = &models.Profile{UserID: "u1"}

	s, err := newTestResolver(store).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, roles.Invited, s.EffectiveRole)
	assert.False(t, s.IsLeader)
	assert.False(t, s.StudioAccess)
}

func TestResolveHighestWinsRegardlessOfStoredOrder(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = &models.Profile{UserID: "u1"}
	store.profiles["u2"] = &models.Profile{UserID: "u2"}
	store.labels["u1"] = []string{roles.Colaborador, roles.Coordenador}
	store.labels["u2"] = []string{roles.Coordenador, roles.Colaborador}

	r := newTestResolver(store)
	s1, err := r.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	s2, err := r.Resolve(context.Background(), "u2")
	require.NoError(t, err)

	assert.Equal(t, roles.Coordenador, s1.EffectiveRole)
	assert.Equal(t, s1.EffectiveRole, s2.EffectiveRole)
}

func TestResolveNormalizesLegacyLabels(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = &models.Profile{UserID: "u1"}
	store.labels["u1"] = []string{"lider_divisao"}

	s, err := newTestResolver(store).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, roles.GerenteDivisao, s.EffectiveRole)
	assert.True(t, s.IsLeader)
	assert.True(t, s.StudioAccess)
}

func TestResolveWalksHierarchy(t *testing.T) {
	store := newFakeStore()
	store.seedHierarchy()
	store.profiles["u1"] = &models.Profile{UserID: "u1", TeamID: strptr("DJTB-CUB")}
	store.labels["u1"] = []string{roles.LiderEquipe}

	s, err := newTestResolver(store).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "DJTB-CUB", s.TeamID)
	assert.Equal(t, "DJTB-STO", s.CoordID)
	assert.Equal(t, "DJTB", s.DivisionID)
}

func TestResolveProfileOverrideWinsAndLogsDivergence(t *testing.T) {
	store := newFakeStore()
	store.seedHierarchy()
	// Temporary reassignment: profile says DJTV, chain says DJTB.
	store.profiles["u1"] = &models.Profile{
		UserID:     "u1",
		TeamID:     strptr("DJTB-CUB"),
		DivisionID: strptr("DJTV"),
	}
	store.labels["u1"] = []string{roles.Coordenador}

	core, logs := observer.New(zap.WarnLevel)
	r := NewResolver(store, roles.DefaultHierarchy(), zap.New(core))

	s, err := r.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "DJTV", s.DivisionID, "explicit profile field must win")
	assert.Equal(t, "DJTB-STO", s.CoordID, "underived fields still come from the walk")

	require.Equal(t, 1, logs.FilterMessage("division override diverges from hierarchy").Len())
}

func TestResolveBrokenHierarchyLinkDegrades(t *testing.T) {
	store := newFakeStore()
	// Team exists but its coordination is missing.
	store.teams["DJTB-CUB"] = &models.Team{ID: "DJTB-CUB", CoordinationID: "GONE"}
	store.profiles["u1"] = &models.Profile{UserID: "u1", TeamID: strptr("DJTB-CUB")}
	store.labels["u1"] = []string{roles.LiderEquipe}

	s, err := newTestResolver(store).Resolve(context.Background(), "u1")
	require.NoError(t, err, "a broken link must not fail the request")
	assert.Equal(t, "DJTB-CUB", s.TeamID)
	assert.Equal(t, "GONE", s.CoordID)
	assert.Empty(t, s.DivisionID)
}

func TestResolveGrantsAreAdditive(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = &models.Profile{UserID: "u1"}
	store.labels["u1"] = []string{roles.Colaborador, roles.AnalistaFinanceiro}

	s, err := newTestResolver(store).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	// The grant never outranks a hierarchy role...
	assert.Equal(t, roles.Colaborador, s.EffectiveRole)
	// ...but its capability is OR'd in.
	assert.True(t, s.StudioAccess)
	assert.False(t, s.IsLeader)
}

func TestResolveCurationOnlyIdentityPresentsAsCurator(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = &models.Profile{UserID: "u1"}
	store.labels["u1"] = []string{roles.Invited, roles.CuradorConteudo}

	s, err := newTestResolver(store).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, roles.CuradorConteudo, s.EffectiveRole)
	assert.True(t, s.StudioAccess)
}

func TestResolveProfileFlagsRespected(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = &models.Profile{UserID: "u1", IsLeader: true, StudioAccess: true}
	store.labels["u1"] = []string{roles.Colaborador}

	s, err := newTestResolver(store).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, roles.Colaborador, s.EffectiveRole)
	assert.True(t, s.IsLeader)
	assert.True(t, s.StudioAccess)
}
