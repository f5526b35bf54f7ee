package domain

import (
	"fmt"
	"math"
	"time"
)

// DefaultHoursPerPersonPerWeek applies only when a team record omits the field.
const DefaultHoursPerPersonPerWeek = 29

// Staffing is the headcount configuration shared by every bay of a team.
// A nil HoursPerPersonPerWeek means the value was omitted; an explicit zero is
// kept as zero.
type Staffing struct {
	AssemblyStaffCount    int  `json:"assembly_staff_count" yaml:"assembly_staff_count"`
	ElectricalStaffCount  int  `json:"electrical_staff_count" yaml:"electrical_staff_count"`
	HoursPerPersonPerWeek *int `json:"hours_per_person_per_week,omitempty" yaml:"hours_per_person_per_week"`
}

// Hours returns the effective hours per person per week.
func (s Staffing) Hours() int {
	if s.HoursPerPersonPerWeek == nil {
		return DefaultHoursPerPersonPerWeek
	}
	return *s.HoursPerPersonPerWeek
}

// Headcount returns assembly plus electrical staff.
func (s Staffing) Headcount() int {
	return s.AssemblyStaffCount + s.ElectricalStaffCount
}

// Validate rejects negative staffing values.
func (s Staffing) Validate() error {
	if s.AssemblyStaffCount < 0 || s.ElectricalStaffCount < 0 {
		return fmt.Errorf("staff counts must be non-negative: %w", ErrInvalidCapacity)
	}
	if s.HoursPerPersonPerWeek != nil && *s.HoursPerPersonPerWeek < 0 {
		return fmt.Errorf("hours per person per week must be non-negative: %w", ErrInvalidCapacity)
	}
	return nil
}

// Equal compares effective staffing values: omitted hours equal an explicit
// DefaultHoursPerPersonPerWeek.
func (s Staffing) Equal(other Staffing) bool {
	return s.AssemblyStaffCount == other.AssemblyStaffCount &&
		s.ElectricalStaffCount == other.ElectricalStaffCount &&
		s.Hours() == other.Hours()
}

// WeeklyCapacityHours returns the team's weekly throughput in hours.
func WeeklyCapacityHours(s Staffing) int {
	return s.Headcount() * s.Hours()
}

// PhaseDurationDays converts an hour budget into elapsed calendar days for a
// team. It fails with ErrInvalidCapacity when the team has no weekly capacity.
func PhaseDurationDays(requiredHours float64, s Staffing) (int, error) {
	weekly := WeeklyCapacityHours(s)
	if weekly <= 0 {
		return 0, fmt.Errorf("weekly capacity %d hours: %w", weekly, ErrInvalidCapacity)
	}
	if requiredHours <= 0 {
		return 0, nil
	}
	days := math.Ceil(requiredHours / float64(weekly) * 7)
	return int(days), nil
}

// EstimatePhaseEnd returns the inclusive end date of a phase starting on start
// that must absorb requiredHours of work. A zero-length estimate still occupies
// the start day.
func EstimatePhaseEnd(start time.Time, requiredHours float64, s Staffing) (time.Time, error) {
	days, err := PhaseDurationDays(requiredHours, s)
	if err != nil {
		return time.Time{}, err
	}
	if days < 1 {
		days = 1
	}
	return AddDays(TruncateDay(start), days-1), nil
}
