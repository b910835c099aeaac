package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/djtdigital/jornada/internal/auth"
	"github.com/djtdigital/jornada/internal/authz"
	"github.com/djtdigital/jornada/internal/models"
	"github.com/djtdigital/jornada/internal/repository"
	"github.com/djtdigital/jornada/internal/roles"
	"github.com/djtdigital/jornada/internal/scope"
)

// API error codes.
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAlreadyReviewed = "ALREADY_REVIEWED"
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeInternal        = "INTERNAL"
)

// Repository is the storage surface the handlers need.
type Repository interface {
	ListPendingRegistrations(ctx context.Context, filter authz.FilterExpression) ([]models.Registration, error)
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
	ReviewRegistration(ctx context.Context, id, reviewerID string, approved bool) (*models.Registration, error)
	CreateEvent(ctx context.Context, title, submitterID string) (*models.Event, error)
}

// ScopeResolver computes the caller's effective scope.
type ScopeResolver interface {
	Resolve(ctx context.Context, userID string) (models.EffectiveScope, error)
}

// Assigner runs one evaluator-assignment batch pass.
type Assigner interface {
	AssignPending(ctx context.Context) (models.AssignmentResult, error)
}

type Handler struct {
	repo     Repository
	resolver ScopeResolver
	assigner Assigner
	logger   *zap.Logger
}

// New creates the handler set.
func New(repo Repository, resolver ScopeResolver, assigner Assigner, logger *zap.Logger) *Handler {
	return &Handler{
		repo:     repo,
		resolver: resolver,
		assigner: assigner,
		logger:   logger,
	}
}

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newErrorResponse creates a standard error body.
func newErrorResponse(code, message string) ErrorResponse {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	return resp
}

// notFoundResponse is the single denial shape for single-record
// operations. Forbidden and nonexistent targets answer identically so
// the response never leaks whether an out-of-scope record exists.
func notFoundResponse(c echo.Context) error {
	return c.JSON(http.StatusNotFound, newErrorResponse(ErrCodeNotFound, "registration not found"))
}

// resolveScope runs scope resolution for the verified caller. Scope is
// always computed fresh, before any side effect.
func (h *Handler) resolveScope(c echo.Context) (models.EffectiveScope, error) {
	return h.resolver.Resolve(c.Request().Context(), auth.UserID(c))
}

// scopeError maps a scope-resolution failure to the API contract:
// 401 on an unverifiable identity.
func (h *Handler) scopeError(c echo.Context, err error) error {
	userID := auth.UserID(c)
	if errors.Is(err, scope.ErrUnauthorized) {
		h.logger.Warn("scope resolution rejected identity", zap.String("user_id", userID))
		return c.JSON(http.StatusUnauthorized, newErrorResponse(ErrCodeUnauthorized, "identity could not be verified"))
	}
	h.logger.Error("scope resolution failed", zap.Error(err), zap.String("user_id", userID))
	return c.JSON(http.StatusInternalServerError, newErrorResponse(ErrCodeInternal, "failed to resolve scope"))
}

// GetMyScope returns the caller's effective scope.
func (h *Handler) GetMyScope(c echo.Context) error {
	s, err := h.resolveScope(c)
	if err != nil {
		return h.scopeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"scope": s})
}

// ListPendingRegistrations returns the pending registrations visible to
// the caller. An out-of-scope caller gets an empty list, never an
// error: "no visible items" is a valid outcome for list operations.
func (h *Handler) ListPendingRegistrations(c echo.Context) error {
	s, err := h.resolveScope(c)
	if err != nil {
		return h.scopeError(c, err)
	}

	filter := authz.ToQueryFilter(s)
	if filter.DenyAll {
		return c.JSON(http.StatusOK, map[string]interface{}{"registrations": []models.Registration{}})
	}

	regs, err := h.repo.ListPendingRegistrations(c.Request().Context(), filter)
	if err != nil {
		h.logger.Error("ListPendingRegistrations: query failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, newErrorResponse(ErrCodeInternal, "failed to list registrations"))
	}
	if regs == nil {
		regs = []models.Registration{}
	}

	h.logger.Info("ListPendingRegistrations: listed",
		zap.String("effective_role", s.EffectiveRole),
		zap.Int("count", len(regs)))
	return c.JSON(http.StatusOK, map[string]interface{}{"registrations": regs})
}

// ApproveRegistration approves one pending registration in scope.
func (h *Handler) ApproveRegistration(c echo.Context) error {
	return h.reviewRegistration(c, true)
}

// RejectRegistration rejects one pending registration in scope.
func (h *Handler) RejectRegistration(c echo.Context) error {
	return h.reviewRegistration(c, false)
}

func (h *Handler) reviewRegistration(c echo.Context, approved bool) error {
	s, err := h.resolveScope(c)
	if err != nil {
		return h.scopeError(c, err)
	}
	regID := c.Param("id")
	userID := auth.UserID(c)

	reg, err := h.repo.GetRegistration(c.Request().Context(), regID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundResponse(c)
		}
		h.logger.Error("reviewRegistration: lookup failed", zap.Error(err), zap.String("registration_id", regID))
		return c.JSON(http.StatusInternalServerError, newErrorResponse(ErrCodeInternal, "failed to load registration"))
	}

	if !authz.InScope(reg.OrgTag, s) {
		// Same body and status as a genuine miss.
		h.logger.Warn("reviewRegistration: target out of scope",
			zap.String("registration_id", regID),
			zap.String("org_tag", reg.OrgTag),
			zap.String("effective_role", s.EffectiveRole))
		return notFoundResponse(c)
	}

	updated, err := h.repo.ReviewRegistration(c.Request().Context(), regID, userID, approved)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyProcessed) {
			return c.JSON(http.StatusConflict, newErrorResponse(ErrCodeAlreadyReviewed, "registration already reviewed"))
		}
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundResponse(c)
		}
		h.logger.Error("reviewRegistration: update failed", zap.Error(err), zap.String("registration_id", regID))
		return c.JSON(http.StatusInternalServerError, newErrorResponse(ErrCodeInternal, "failed to review registration"))
	}

	h.logger.Info("reviewRegistration: reviewed",
		zap.String("registration_id", regID),
		zap.String("reviewer_id", userID),
		zap.Bool("approved", approved))
	return c.JSON(http.StatusOK, map[string]interface{}{"registration": updated})
}

// SubmitEvent records a field action for the verified caller. The
// origin area is resolved from the submitter at submission time.
func (h *Handler) SubmitEvent(c echo.Context) error {
	if _, err := h.resolveScope(c); err != nil {
		return h.scopeError(c, err)
	}
	userID := auth.UserID(c)

	var req struct {
		Title string `json:"title"`
	}
	if err := c.Bind(&req); err != nil || req.Title == "" {
		return c.JSON(http.StatusBadRequest, newErrorResponse(ErrCodeInvalidInput, "title is required"))
	}

	event, err := h.repo.CreateEvent(c.Request().Context(), req.Title, userID)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			return c.JSON(http.StatusBadRequest, newErrorResponse(ErrCodeInvalidInput, "submitter has no resolvable organizational unit"))
		}
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, newErrorResponse(ErrCodeUnauthorized, "identity could not be verified"))
		}
		h.logger.Error("SubmitEvent: create failed", zap.Error(err), zap.String("submitter_id", userID))
		return c.JSON(http.StatusInternalServerError, newErrorResponse(ErrCodeInternal, "failed to submit event"))
	}

	h.logger.Info("SubmitEvent: event submitted",
		zap.String("event_id", event.ID),
		zap.String("submitter_id", userID),
		zap.String("team_id", event.TeamID))
	return c.JSON(http.StatusCreated, map[string]interface{}{"event": event})
}

// RunAssignments triggers one evaluator-assignment batch pass. Only the
// top tiers may trigger it; this is an operation, not a record, so the
// denial is a plain 403.
func (h *Handler) RunAssignments(c echo.Context) error {
	s, err := h.resolveScope(c)
	if err != nil {
		return h.scopeError(c, err)
	}
	if s.EffectiveRole != roles.Admin && s.EffectiveRole != roles.GerenteDJT {
		h.logger.Warn("RunAssignments: caller not allowed",
			zap.String("effective_role", s.EffectiveRole))
		return c.JSON(http.StatusForbidden, newErrorResponse(ErrCodeForbidden, "not allowed to trigger assignments"))
	}

	result, err := h.assigner.AssignPending(c.Request().Context())
	if err != nil {
		h.logger.Error("RunAssignments: batch failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, newErrorResponse(ErrCodeInternal, "assignment batch failed"))
	}

	if result.Pairs == nil {
		result.Pairs = []models.AssignmentPair{}
	}
	return c.JSON(http.StatusOK, result)
}

// RegisterRoutes registers all API routes behind the identity
// middleware.
func (h *Handler) RegisterRoutes(e *echo.Echo, identity echo.MiddlewareFunc) {
	g := e.Group("", identity)

	// Scope
	g.GET("/scope/me", h.GetMyScope)

	// Registrations
	g.GET("/registrations/pending", h.ListPendingRegistrations)
	g.POST("/registrations/:id/approve", h.ApproveRegistration)
	g.POST("/registrations/:id/reject", h.RejectRegistration)

	// Events
	g.POST("/events/submit", h.SubmitEvent)

	// Assignment batch
	g.POST("/assignments/run", h.RunAssignments)
}
