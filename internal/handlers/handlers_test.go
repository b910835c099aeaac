package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/djtdigital/jornada/internal/auth"
	"github.com/djtdigital/jornada/internal/authz"
	"github.com/djtdigital/jornada/internal/models"
	"github.com/djtdigital/jornada/internal/repository"
	"github.com/djtdigital/jornada/internal/roles"
	"github.com/djtdigital/jornada/internal/scope"
)

type fakeRepo struct {
	registrations map[string]*models.Registration
	events        []models.Event
}

func (f *fakeRepo) ListPendingRegistrations(_ context.Context, filter authz.FilterExpression) ([]models.Registration, error) {
	var out []models.Registration
	for _, reg := range f.registrations {
		if reg.Status == models.RegistrationPending && filter.Matches(reg.OrgTag) {
			out = append(out, *reg)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetRegistration(_ context.Context, id string) (*models.Registration, error) {
	reg, ok := f.registrations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return reg, nil
}

func (f *fakeRepo) ReviewRegistration(_ context.Context, id, reviewerID string, approved bool) (*models.Registration, error) {
	reg, ok := f.registrations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if reg.Status != models.RegistrationPending {
		return nil, repository.ErrAlreadyProcessed
	}
	if approved {
		reg.Status = models.RegistrationApproved
	} else {
		reg.Status = models.RegistrationRejected
	}
	reg.ReviewedBy = &reviewerID
	return reg, nil
}

func (f *fakeRepo) CreateEvent(_ context.Context, title, submitterID string) (*models.Event, error) {
	event := models.Event{
		ID:          "E1",
		Title:       title,
		SubmitterID: submitterID,
		TeamID:      "DJTB-CUB",
		CoordID:     "DJTB-STO",
		DivisionID:  "DJTB",
		Status:      models.EventStatusSubmitted,
	}
	f.events = append(f.events, event)
	return &event, nil
}

type fakeResolver struct {
	scopes map[string]models.EffectiveScope
}

func (f *fakeResolver) Resolve(_ context.Context, userID string) (models.EffectiveScope, error) {
	s, ok := f.scopes[userID]
	if !ok {
		return models.EffectiveScope{}, scope.ErrUnauthorized
	}
	return s, nil
}

type fakeAssigner struct {
	result models.AssignmentResult
	calls  int
}

func (f *fakeAssigner) AssignPending(context.Context) (models.AssignmentResult, error) {
	f.calls++
	return f.result, nil
}

type testEnv struct {
	e        *echo.Echo
	verifier *auth.Verifier
	repo     *fakeRepo
	assigner *fakeAssigner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := &fakeRepo{registrations: map[string]*models.Registration{
		"r-cub": {ID: "r-cub", Name: "Ana", OrgTag: "DJTB-CUB", Status: models.RegistrationPending},
		"r-div": {ID: "r-div", Name: "Bru", OrgTag: "DJTV-AAA", Status: models.RegistrationPending},
		"r-gst": {ID: "r-gst", Name: "Cai", OrgTag: authz.GuestTag, Status: models.RegistrationPending},
		"r-old": {ID: "r-old", Name: "Dee", OrgTag: "DJTB-CUB", Status: models.RegistrationApproved},
	}}
	resolver := &fakeResolver{scopes: map[string]models.EffectiveScope{
		"admin": {EffectiveRole: roles.Admin, IsLeader: true, StudioAccess: true},
		"lider": {EffectiveRole: roles.LiderEquipe, TeamID: "DJTB-CUB", CoordID: "DJTB-STO", DivisionID: "DJTB", IsLeader: true},
		"colab": {EffectiveRole: roles.Colaborador, TeamID: "DJTB-CUB"},
	}}
	assigner := &fakeAssigner{result: models.AssignmentResult{
		Considered: 1,
		Assigned:   1,
		Pairs:      []models.AssignmentPair{{EventID: "E1", EvaluatorID: "U1"}},
	}}

	verifier := auth.NewVerifier("test-secret")
	handler := New(repo, resolver, assigner, zap.NewNop())

	e := echo.New()
	handler.RegisterRoutes(e, verifier.Middleware())

	return &testEnv{e: e, verifier: verifier, repo: repo, assigner: assigner}
}

func (env *testEnv) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		token, err := env.verifier.GenerateToken(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func TestMissingTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/scope/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownIdentityRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/scope/me", "ghost", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetMyScope(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/scope/me", "lider", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Scope models.EffectiveScope `json:"scope"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, roles.LiderEquipe, resp.Scope.EffectiveRole)
	assert.Equal(t, "DJTB-CUB", resp.Scope.TeamID)
}

func listIDs(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var resp struct {
		Registrations []models.Registration `json:"registrations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	ids := make([]string, 0, len(resp.Registrations))
	for _, reg := range resp.Registrations {
		ids = append(ids, reg.ID)
	}
	return ids
}

func TestListPendingScopedByRole(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/registrations/pending", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"r-cub", "r-div", "r-gst"}, listIDs(t, rec))

	rec = env.do(t, http.MethodGet, "/registrations/pending", "lider", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"r-cub", "r-gst"}, listIDs(t, rec))
}

func TestListPendingUnprivilegedGetsEmptySet(t *testing.T) {
	env := newTestEnv(t)
	// Lists filter rather than fail: no visible items is a valid outcome.
	rec := env.do(t, http.MethodGet, "/registrations/pending", "colab", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, listIDs(t, rec))
}

func TestApproveInScope(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/registrations/r-cub/approve", "lider", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RegistrationApproved, env.repo.registrations["r-cub"].Status)
	require.NotNil(t, env.repo.registrations["r-cub"].ReviewedBy)
	assert.Equal(t, "lider", *env.repo.registrations["r-cub"].ReviewedBy)
}

func TestRejectInScope(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/registrations/r-gst/reject", "lider", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RegistrationRejected, env.repo.registrations["r-gst"].Status)
}

// An out-of-scope target and a nonexistent target must be
// indistinguishable: same status, same body.
func TestDenialShapeMatchesNotFound(t *testing.T) {
	env := newTestEnv(t)

	forbidden := env.do(t, http.MethodPost, "/registrations/r-div/approve", "lider", "")
	missing := env.do(t, http.MethodPost, "/registrations/nope/approve", "lider", "")

	assert.Equal(t, http.StatusNotFound, forbidden.Code)
	assert.Equal(t, missing.Code, forbidden.Code)
	assert.Equal(t, missing.Body.String(), forbidden.Body.String())

	// And the out-of-scope record stays untouched.
	assert.Equal(t, models.RegistrationPending, env.repo.registrations["r-div"].Status)
}

func TestAlreadyReviewedConflict(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/registrations/r-old/approve", "lider", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ErrCodeAlreadyReviewed, resp.Error.Code)
}

func TestSubmitEvent(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/events/submit", "colab", `{"title":"Visita técnica"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, env.repo.events, 1)
	assert.Equal(t, "colab", env.repo.events[0].SubmitterID)
}

func TestSubmitEventRequiresTitle(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/events/submit", "colab", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunAssignmentsRequiresTopTier(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/assignments/run", "lider", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, env.assigner.calls)
}

func TestRunAssignments(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/assignments/run", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.assigner.calls)

	var result models.AssignmentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Assigned)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, "E1", result.Pairs[0].EventID)
}
