// models/models.go
package models

import "time"

// Department is the top level of the organizational hierarchy.
type Department struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Division belongs to a department.
type Division struct {
	ID           string `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	DepartmentID string `json:"department_id" db:"department_id"`
}

// Coordination belongs to a division.
type Coordination struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	DivisionID string `json:"division_id" db:"division_id"`
}

// Team is the leaf of the hierarchy; its chain up to the department
// must resolve in at most 4 hops.
type Team struct {
	ID             string `json:"id" db:"id"`
	Name           string `json:"name" db:"name"`
	CoordinationID string `json:"coordination_id" db:"coordination_id"`
}

// Profile is a user record. TeamID/CoordID/DivisionID are optional
// scope overrides: when set they take precedence over the values
// derived from the team's parent chain (temporary reassignments).
type Profile struct {
	UserID       string  `json:"user_id" db:"user_id"`
	Name         string  `json:"name" db:"name"`
	TeamID       *string `json:"team_id,omitempty" db:"team_id"`
	CoordID      *string `json:"coord_id,omitempty" db:"coord_id"`
	DivisionID   *string `json:"division_id,omitempty" db:"division_id"`
	IsLeader     bool    `json:"is_leader" db:"is_leader"`
	StudioAccess bool    `json:"studio_access" db:"studio_access"`
}

// RoleAssignment links a user to one role label. A user may hold any
// number of labels, including deprecated legacy aliases.
type RoleAssignment struct {
	UserID string `json:"user_id" db:"user_id"`
	Label  string `json:"label" db:"label"`
}

// EffectiveScope is the resolved role and organizational boundary used
// to gate one request. It is computed fresh per request and never
// persisted or cached.
type EffectiveScope struct {
	EffectiveRole string `json:"effective_role"`
	TeamID        string `json:"team_id,omitempty"`
	CoordID       string `json:"coord_id,omitempty"`
	DivisionID    string `json:"division_id,omitempty"`
	IsLeader      bool   `json:"is_leader"`
	StudioAccess  bool   `json:"studio_access"`
}

// Event statuses.
const (
	EventStatusSubmitted = "SUBMITTED"
	EventStatusAssigned  = "ASSIGNED"
)

// Event is a submitted field action awaiting evaluation.
type Event struct {
	ID                  string    `json:"event_id" db:"id"`
	Title               string    `json:"title" db:"title"`
	SubmitterID         string    `json:"submitter_id" db:"submitter_id"`
	TeamID              string    `json:"team_id" db:"team_id"`
	CoordID             string    `json:"coord_id" db:"coord_id"`
	DivisionID          string    `json:"division_id" db:"division_id"`
	Status              string    `json:"status" db:"status"`
	AssignedEvaluatorID *string   `json:"assigned_evaluator_id,omitempty" db:"assigned_evaluator_id"`
	SubmittedAt         time.Time `json:"submitted_at" db:"submitted_at"`
}

// EvaluationQueueEntry links one event to its assigned evaluator.
// Entries with a null CompletedAt are the evaluator's live workload.
type EvaluationQueueEntry struct {
	ID          int64      `json:"id" db:"id"`
	EventID     string     `json:"event_id" db:"event_id"`
	EvaluatorID string     `json:"evaluator_id" db:"evaluator_id"`
	AssignedAt  time.Time  `json:"assigned_at" db:"assigned_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Evaluator is one member of the assignment pool: an evaluator-role
// holder annotated with home area and current outstanding workload.
type Evaluator struct {
	UserID     string `json:"user_id" db:"user_id"`
	CoordID    string `json:"coord_id" db:"coord_id"`
	DivisionID string `json:"division_id" db:"division_id"`
	Workload   int    `json:"workload" db:"workload"`
}

// Registration statuses.
const (
	RegistrationPending  = "PENDING"
	RegistrationApproved = "APPROVED"
	RegistrationRejected = "REJECTED"
)

// Registration is a sign-up awaiting review by someone whose scope
// covers its organizational tag. Guest registrations carry the guest
// sentinel tag and have no home unit.
type Registration struct {
	ID         string     `json:"registration_id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Email      string     `json:"email" db:"email"`
	OrgTag     string     `json:"org_tag" db:"org_tag"`
	Status     string     `json:"status" db:"status"`
	ReviewedBy *string    `json:"reviewed_by,omitempty" db:"reviewed_by"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
}

// AssignmentPair is one (event, evaluator) assignment made by a batch run.
type AssignmentPair struct {
	EventID     string `json:"event_id"`
	EvaluatorID string `json:"evaluator_id"`
}

// AssignmentResult summarizes one batch pass of the assignment engine.
type AssignmentResult struct {
	Considered int              `json:"considered"`
	Assigned   int              `json:"assigned"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Pairs      []AssignmentPair `json:"assignments"`
}
