// Package domain defines the persistent scheduling entities, value types, and
// rule evaluation primitives used by bayplanner.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityBay identifies a physical production bay.
	EntityBay EntityType = "bay"
	// EntityScheduleRow identifies one phase assignment of a project to a bay.
	EntityScheduleRow EntityType = "schedule_row"
	// EntityProject identifies a consumed project record.
	EntityProject EntityType = "project"
	// EntityTeam identifies a derived team view; teams are never stored directly.
	EntityTeam EntityType = "team"
)

// Phase tags one named stage of a project's manufacturing timeline.
type Phase string

// Canonical phases in timeline order.
const (
	PhaseFab             Phase = "FAB"
	PhasePaint           Phase = "PAINT"
	PhaseProduction      Phase = "PRODUCTION"
	PhaseIT              Phase = "IT"
	PhaseNTC             Phase = "NTC"
	PhaseQC              Phase = "QC"
	PhaseExecutiveReview Phase = "EXECUTIVE_REVIEW"
	PhaseShip            Phase = "SHIP"
)

var phaseOrder = map[Phase]int{
	PhaseFab:             0,
	PhasePaint:           1,
	PhaseProduction:      2,
	PhaseIT:              3,
	PhaseNTC:             4,
	PhaseQC:              5,
	PhaseExecutiveReview: 6,
	PhaseShip:            7,
}

// Phases returns the canonical phases in timeline order.
func Phases() []Phase {
	return []Phase{PhaseFab, PhasePaint, PhaseProduction, PhaseIT, PhaseNTC, PhaseQC, PhaseExecutiveReview, PhaseShip}
}

// Order returns the position of the phase in the manufacturing timeline, or -1
// when the phase is unknown.
func (p Phase) Order() int {
	if idx, ok := phaseOrder[p]; ok {
		return idx
	}
	return -1
}

// Valid reports whether p is a canonical phase.
func (p Phase) Valid() bool { return p.Order() >= 0 }

// ParsePhase normalises user supplied phase labels. ASSEMBLY is accepted as an
// alias of PRODUCTION and "EXEC REVIEW" of EXECUTIVE_REVIEW.
func ParsePhase(raw string) (Phase, error) {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "ASSEMBLY":
		return PhaseProduction, nil
	case "EXEC_REVIEW":
		return PhaseExecutiveReview, nil
	}
	p := Phase(norm)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", raw)
	}
	return p, nil
}

// ScheduleStatus enumerates the lifecycle of a schedule row.
type ScheduleStatus string

// Canonical schedule row statuses.
const (
	ScheduleStatusScheduled   ScheduleStatus = "scheduled"
	ScheduleStatusInProgress  ScheduleStatus = "in_progress"
	ScheduleStatusComplete    ScheduleStatus = "complete"
	ScheduleStatusMaintenance ScheduleStatus = "maintenance"
)

// Valid reports whether s is a canonical schedule status.
func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleStatusScheduled, ScheduleStatusInProgress, ScheduleStatusComplete, ScheduleStatusMaintenance:
		return true
	}
	return false
}

// Productive reports whether rows with this status count as bay occupancy.
func (s ScheduleStatus) Productive() bool {
	return s == ScheduleStatusScheduled || s == ScheduleStatusInProgress
}

// ProjectStatus enumerates externally managed project states.
type ProjectStatus string

// Known project statuses. Unknown values are tolerated and treated as open.
const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusDelayed   ProjectStatus = "delayed"
	ProjectStatusCritical  ProjectStatus = "critical"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusDelivered ProjectStatus = "delivered"
	ProjectStatusArchived  ProjectStatus = "archived"
)

// Terminal reports whether the project is finished regardless of schedule rows.
func (s ProjectStatus) Terminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusDelivered
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Bay is a physical production slot scheduled over time. Staffing fields are
// replicated across every bay of the same team.
type Bay struct {
	Base                  `yaml:",inline"`
	Name                  string `json:"name" yaml:"name"`
	Number                int    `json:"number" yaml:"number"`
	Team                  string `json:"team,omitempty" yaml:"team"`
	Active                bool   `json:"active" yaml:"active"`
	SharedFloor           bool   `json:"shared_floor,omitempty" yaml:"shared_floor"`
	AssemblyStaffCount    int    `json:"assembly_staff_count" yaml:"assembly_staff_count"`
	ElectricalStaffCount  int    `json:"electrical_staff_count" yaml:"electrical_staff_count"`
	HoursPerPersonPerWeek *int   `json:"hours_per_person_per_week,omitempty" yaml:"hours_per_person_per_week"`
	Status                string `json:"status,omitempty" yaml:"status"`
	Description           string `json:"description,omitempty" yaml:"description"`
	Location              string `json:"location,omitempty" yaml:"location"`
}

// Staffing returns the bay's team staffing configuration.
func (b Bay) Staffing() Staffing {
	return Staffing{
		AssemblyStaffCount:    b.AssemblyStaffCount,
		ElectricalStaffCount:  b.ElectricalStaffCount,
		HoursPerPersonPerWeek: b.HoursPerPersonPerWeek,
	}
}

// ApplyStaffing copies a staffing configuration onto the bay.
func (b *Bay) ApplyStaffing(s Staffing) {
	b.AssemblyStaffCount = s.AssemblyStaffCount
	b.ElectricalStaffCount = s.ElectricalStaffCount
	if s.HoursPerPersonPerWeek == nil {
		b.HoursPerPersonPerWeek = nil
		return
	}
	hours := *s.HoursPerPersonPerWeek
	b.HoursPerPersonPerWeek = &hours
}

// ScheduleRow is one phase assignment of a project to a bay. Start and End are
// inclusive calendar dates normalised to UTC midnight.
type ScheduleRow struct {
	Base           `yaml:",inline"`
	ProjectID      string         `json:"project_id" yaml:"project_id"`
	BayID          string         `json:"bay_id" yaml:"bay_id"`
	Phase          Phase          `json:"phase" yaml:"phase"`
	Start          time.Time      `json:"start" yaml:"start"`
	End            time.Time      `json:"end" yaml:"end"`
	Status         ScheduleStatus `json:"status" yaml:"status"`
	ChainedAfterID *string        `json:"chained_after_id,omitempty" yaml:"chained_after_id"`
	ChainGapDays   int            `json:"chain_gap_days,omitempty" yaml:"chain_gap_days"`
	Notes          string         `json:"notes,omitempty" yaml:"notes"`
}

// Overlaps reports whether the inclusive intervals of r and other share a day.
func (r ScheduleRow) Overlaps(other ScheduleRow) bool {
	return IntervalsOverlap(r.Start, r.End, other.Start, other.End)
}

// Project is consumed read-mostly context supplied by the surrounding application.
type Project struct {
	Base            `yaml:",inline"`
	Name            string        `json:"name" yaml:"name"`
	ContractDate    *time.Time    `json:"contract_date,omitempty" yaml:"contract_date"`
	ShipDate        *time.Time    `json:"ship_date,omitempty" yaml:"ship_date"`
	PercentComplete float64       `json:"percent_complete" yaml:"percent_complete"`
	Status          ProjectStatus `json:"status" yaml:"status"`
	Team            string        `json:"team,omitempty" yaml:"team"`
}

// Team is a derived view over bays sharing a team name.
type Team struct {
	Name     string   `json:"name"`
	BayIDs   []string `json:"bay_ids"`
	Staffing Staffing `json:"staffing"`
	// Uniform is false when member bays disagree on staffing.
	Uniform bool `json:"uniform"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Blocking returns only the blocking violations.
func (r Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	blocking := e.Result.Blocking()
	if len(blocking) == 0 {
		return "transaction blocked by rules"
	}
	return fmt.Sprintf("transaction blocked by rules: %s", blocking[0].Message)
}
