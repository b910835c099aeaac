// repository/repository.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/djtdigital/jornada/internal/authz"
	"github.com/djtdigital/jornada/internal/models"
	"github.com/djtdigital/jornada/internal/roles"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrInvalidInput     = errors.New("invalid input")
)

// assignBatchLockID keys the advisory lock that serializes assignment
// batch runs. Must stay stable across deployments.
const assignBatchLockID = 740031102

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetDepartment returns one department by code.
func (r *Repository) GetDepartment(ctx context.Context, id string) (*models.Department, error) {
	var d models.Department
	query := `SELECT id, name FROM departments WHERE id = $1`
	err := r.pool.QueryRow(ctx, query, id).Scan(&d.ID, &d.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	return &d, nil
}

// GetDivision returns one division by code.
func (r *Repository) GetDivision(ctx context.Context, id string) (*models.Division, error) {
	var d models.Division
	query := `SELECT id, name, department_id FROM divisions WHERE id = $1`
	err := r.pool.QueryRow(ctx, query, id).Scan(&d.ID, &d.Name, &d.DepartmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get division: %w", err)
	}
	return &d, nil
}

// GetCoordination returns one coordination by code.
func (r *Repository) GetCoordination(ctx context.Context, id string) (*models.Coordination, error) {
	var c models.Coordination
	query := `SELECT id, name, division_id FROM coordinations WHERE id = $1`
	err := r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.DivisionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coordination: %w", err)
	}
	return &c, nil
}

// GetTeam returns one team by code.
func (r *Repository) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	var t models.Team
	query := `SELECT id, name, coordination_id FROM teams WHERE id = $1`
	err := r.pool.QueryRow(ctx, query, id).Scan(&t.ID, &t.Name, &t.CoordinationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return &t, nil
}

// GetProfile returns one user profile.
func (r *Repository) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	query := `
        SELECT user_id, name, team_id, coord_id, division_id, is_leader, studio_access
        FROM profiles
        WHERE user_id = $1
    `
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.Name, &p.TeamID, &p.CoordID, &p.DivisionID, &p.IsLeader, &p.StudioAccess,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// GetRoleLabels returns all role labels held by the user, in stored
// order. Labels are returned raw; normalization happens in the caller.
func (r *Repository) GetRoleLabels(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT label FROM role_assignments WHERE user_id = $1 ORDER BY label`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan role label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// ListPendingRegistrations returns pending registrations visible to the
// given filter, oldest first. The filter fragment is the SQL rendering
// of the caller's scope.
func (r *Repository) ListPendingRegistrations(ctx context.Context, filter authz.FilterExpression) ([]models.Registration, error) {
	frag, args := filter.ToSQL("org_tag", 1)
	query := fmt.Sprintf(`
        SELECT id, name, email, org_tag, status, reviewed_by, created_at, reviewed_at
        FROM registrations
        WHERE status = $1 AND %s
        ORDER BY created_at, id
    `, frag)

	rows, err := r.pool.Query(ctx, query, append([]any{models.RegistrationPending}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending registrations: %w", err)
	}
	defer rows.Close()

	var regs []models.Registration
	for rows.Next() {
		var reg models.Registration
		if err := rows.Scan(
			&reg.ID, &reg.Name, &reg.Email, &reg.OrgTag, &reg.Status,
			&reg.ReviewedBy, &reg.CreatedAt, &reg.ReviewedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// GetRegistration returns one registration by id.
func (r *Repository) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	var reg models.Registration
	query := `
        SELECT id, name, email, org_tag, status, reviewed_by, created_at, reviewed_at
        FROM registrations
        WHERE id = $1
    `
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&reg.ID, &reg.Name, &reg.Email, &reg.OrgTag, &reg.Status,
		&reg.ReviewedBy, &reg.CreatedAt, &reg.ReviewedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	return &reg, nil
}

// ReviewRegistration transitions a pending registration to approved or
// rejected. The status guard makes the transition terminal: a second
// review attempt returns ErrAlreadyProcessed.
func (r *Repository) ReviewRegistration(ctx context.Context, id, reviewerID string, approved bool) (*models.Registration, error) {
	status := models.RegistrationRejected
	if approved {
		status = models.RegistrationApproved
	}

	var reg models.Registration
	query := `
        UPDATE registrations
        SET status = $1, reviewed_by = $2, reviewed_at = NOW()
        WHERE id = $3 AND status = $4
        RETURNING id, name, email, org_tag, status, reviewed_by, created_at, reviewed_at
    `
	err := r.pool.QueryRow(ctx, query, status, reviewerID, id, models.RegistrationPending).Scan(
		&reg.ID, &reg.Name, &reg.Email, &reg.OrgTag, &reg.Status,
		&reg.ReviewedBy, &reg.CreatedAt, &reg.ReviewedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing registration from one already reviewed.
		if _, getErr := r.GetRegistration(ctx, id); getErr != nil {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyProcessed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to review registration: %w", err)
	}
	return &reg, nil
}

// CreateEvent records a submitted field action. The origin area is
// denormalized onto the event row at submission time, following the
// same override-then-walk precedence the scope resolver applies:
// explicit profile fields win over the team's parent chain.
func (r *Repository) CreateEvent(ctx context.Context, title, submitterID string) (*models.Event, error) {
	var (
		teamID     *string
		coordID    *string
		divisionID *string
	)
	originQuery := `
        SELECT p.team_id,
               COALESCE(p.coord_id, t.coordination_id),
               COALESCE(p.division_id, c.division_id)
        FROM profiles p
        LEFT JOIN teams t ON t.id = p.team_id
        LEFT JOIN coordinations c ON c.id = COALESCE(p.coord_id, t.coordination_id)
        WHERE p.user_id = $1
    `
	err := r.pool.QueryRow(ctx, originQuery, submitterID).Scan(&teamID, &coordID, &divisionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve event origin: %w", err)
	}
	if teamID == nil || coordID == nil || divisionID == nil {
		// An event without a resolvable origin area could never satisfy
		// the cross-area constraint.
		return nil, ErrInvalidInput
	}

	var event models.Event
	insertQuery := `
        INSERT INTO events (title, submitter_id, team_id, coord_id, division_id, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, title, submitter_id, team_id, coord_id, division_id, status, assigned_evaluator_id, submitted_at
    `
	err = r.pool.QueryRow(ctx, insertQuery,
		title, submitterID, *teamID, *coordID, *divisionID, models.EventStatusSubmitted,
	).Scan(
		&event.ID, &event.Title, &event.SubmitterID, &event.TeamID, &event.CoordID,
		&event.DivisionID, &event.Status, &event.AssignedEvaluatorID, &event.SubmittedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return &event, nil
}

// PendingEvents returns submitted, unassigned events oldest first.
func (r *Repository) PendingEvents(ctx context.Context) ([]models.Event, error) {
	query := `
        SELECT id, title, submitter_id, team_id, coord_id, division_id, status, assigned_evaluator_id, submitted_at
        FROM events
        WHERE status = $1 AND assigned_evaluator_id IS NULL
        ORDER BY submitted_at, id
    `
	rows, err := r.pool.Query(ctx, query, models.EventStatusSubmitted)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var event models.Event
		if err := rows.Scan(
			&event.ID, &event.Title, &event.SubmitterID, &event.TeamID, &event.CoordID,
			&event.DivisionID, &event.Status, &event.AssignedEvaluatorID, &event.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// EvaluatorPool returns every evaluator-role holder with a resolved
// home area and live workload (outstanding queue entries), in stable
// user-id order.
func (r *Repository) EvaluatorPool(ctx context.Context) ([]models.Evaluator, error) {
	query := `
        SELECT p.user_id,
               COALESCE(p.coord_id, t.coordination_id, '') AS coord_id,
               COALESCE(p.division_id, c.division_id, '') AS division_id,
               COUNT(q.id) FILTER (WHERE q.completed_at IS NULL) AS workload
        FROM profiles p
        LEFT JOIN teams t ON t.id = p.team_id
        LEFT JOIN coordinations c ON c.id = COALESCE(p.coord_id, t.coordination_id)
        LEFT JOIN evaluation_queue q ON q.evaluator_id = p.user_id
        WHERE EXISTS (
            SELECT 1 FROM role_assignments ra
            WHERE ra.user_id = p.user_id AND ra.label = ANY($1)
        )
        GROUP BY p.user_id, p.coord_id, p.division_id, t.coordination_id, c.division_id
        ORDER BY p.user_id
    `
	rows, err := r.pool.Query(ctx, query, roles.EvaluatorLabels())
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluator pool: %w", err)
	}
	defer rows.Close()

	var pool []models.Evaluator
	for rows.Next() {
		var e models.Evaluator
		if err := rows.Scan(&e.UserID, &e.CoordID, &e.DivisionID, &e.Workload); err != nil {
			return nil, fmt.Errorf("failed to scan evaluator: %w", err)
		}
		pool = append(pool, e)
	}
	return pool, rows.Err()
}

// AssignEvaluator persists one assignment: the event is claimed with a
// status guard and one queue entry is inserted, in one transaction. An
// event that is no longer pending returns ErrAlreadyProcessed, which
// makes batch re-runs idempotent.
func (r *Repository) AssignEvaluator(ctx context.Context, eventID, evaluatorID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	claimQuery := `
        UPDATE events
        SET assigned_evaluator_id = $1, status = $2
        WHERE id = $3 AND status = $4 AND assigned_evaluator_id IS NULL
    `
	tag, err := tx.Exec(ctx, claimQuery, evaluatorID, models.EventStatusAssigned, eventID, models.EventStatusSubmitted)
	if err != nil {
		return fmt.Errorf("failed to claim event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO evaluation_queue (event_id, evaluator_id) VALUES ($1, $2)`,
		eventID, evaluatorID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue entry: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit assignment: %w", err)
	}
	return nil
}

// TryBatchLock takes the advisory lock that serializes assignment
// batches. Advisory locks are connection-scoped, so the lock pins one
// pool connection until release is called. When another run holds the
// lock, acquired is false and there is nothing to release.
func (r *Repository) TryBatchLock(ctx context.Context) (release func(), acquired bool, err error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection: %w", err)
	}

	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, assignBatchLockID).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("failed to take batch lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		// Unlock on the same connection that holds the lock; release
		// the connection regardless of the unlock outcome.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, assignBatchLockID)
		conn.Release()
	}
	return release, true, nil
}
