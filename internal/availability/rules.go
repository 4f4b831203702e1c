package availability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/instrumentation"
	"github.com/teemow/callslot/internal/logging"
	"github.com/teemow/callslot/internal/timeunit"
)

// Interval is one enabled day as submitted by a client.
type Interval struct {
	Weekday     int
	StartMinute int
	EndMinute   int
}

// RuleStore is the part of storage the RuleService needs.
type RuleStore interface {
	ReplaceWeekdayRules(ctx context.Context, userID string, rules []domain.WeekdayRule) error
	ListWeekdayRules(ctx context.Context, userID string) ([]domain.WeekdayRule, error)
}

// RuleService reads and replaces weekly availability.
type RuleService struct {
	store  RuleStore
	logger *slog.Logger
	audit  *instrumentation.AuditLogger
}

// NewRuleService creates a RuleService. audit may be nil.
func NewRuleService(store RuleStore, logger *slog.Logger, audit *instrumentation.AuditLogger) *RuleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleService{store: store, logger: logger, audit: audit}
}

// SetWeeklyAvailability replaces the user's weekly rules. Only enabled days
// are persisted. Invalid rule sets return a *domain.ValidationError and
// nothing is written.
func (s *RuleService) SetWeeklyAvailability(ctx context.Context, userID string, rules [domain.DaysPerWeek]domain.WeekdayRule) error {
	activity := instrumentation.NewActivity(instrumentation.ActionAvailabilitySet).WithOwner(userID, "").WithSpanContext(ctx)

	if err := Validate(rules); err != nil {
		s.audit.Log(activity.Complete(err))
		return err
	}

	enabled := make([]domain.WeekdayRule, 0, domain.DaysPerWeek)
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}

	if err := s.store.ReplaceWeekdayRules(ctx, userID, enabled); err != nil {
		err = fmt.Errorf("failed to store availability: %w", err)
		s.audit.Log(activity.Complete(err))
		return err
	}

	s.audit.Log(activity.Complete(nil))
	logging.WithOperation(s.logger, "availability.set").Info("weekly availability replaced",
		logging.UserID(userID), slog.Int("enabled_days", len(enabled)))
	return nil
}

// GetWeeklyAvailability returns seven rules in weekday order. Days without a
// stored rule are returned disabled.
func (s *RuleService) GetWeeklyAvailability(ctx context.Context, userID string) ([domain.DaysPerWeek]domain.WeekdayRule, error) {
	var week [domain.DaysPerWeek]domain.WeekdayRule
	for i := range week {
		week[i].Weekday = i
	}

	stored, err := s.store.ListWeekdayRules(ctx, userID)
	if err != nil {
		return week, fmt.Errorf("failed to load availability: %w", err)
	}
	for _, r := range stored {
		if r.Weekday < 0 || r.Weekday >= domain.DaysPerWeek {
			continue
		}
		r.Enabled = true
		week[r.Weekday] = r
	}
	return week, nil
}

// FromIntervals expands the enabled intervals a client submits into the
// seven-day form. Every day not listed is disabled.
func FromIntervals(intervals []Interval) ([domain.DaysPerWeek]domain.WeekdayRule, error) {
	var week [domain.DaysPerWeek]domain.WeekdayRule
	for i := range week {
		week[i].Weekday = i
	}

	verr := domain.NewValidationError()
	for i, in := range intervals {
		field := fmt.Sprintf("intervals[%d].weekDay", i)
		if in.Weekday < 0 || in.Weekday >= domain.DaysPerWeek {
			verr.Add(field, "must be between 0 and 6")
			continue
		}
		if week[in.Weekday].Enabled {
			verr.Add(field, "duplicate week day")
			continue
		}
		week[in.Weekday] = domain.WeekdayRule{
			Weekday:     in.Weekday,
			Enabled:     true,
			StartMinute: in.StartMinute,
			EndMinute:   in.EndMinute,
		}
	}
	if err := verr.OrNil(); err != nil {
		return week, err
	}
	return week, nil
}

// Validate checks a full weekly rule set: one rule per weekday in order, at
// least one enabled day, and every enabled window inside the day and at
// least one hour long.
func Validate(rules [domain.DaysPerWeek]domain.WeekdayRule) error {
	verr := domain.NewValidationError()
	anyEnabled := false

	for i, r := range rules {
		if r.Weekday != i {
			verr.Add(fmt.Sprintf("intervals[%d].weekDay", i), "rules must be ordered by week day")
			continue
		}
		if !r.Enabled {
			continue
		}
		anyEnabled = true

		day := fmt.Sprintf("intervals[%d]", i)
		switch {
		case r.StartMinute < 0 || r.StartMinute > timeunit.MinutesPerDay:
			verr.Add(day+".startTimeInMinutes", "must be within the day")
		case r.EndMinute < 0 || r.EndMinute > timeunit.MinutesPerDay:
			verr.Add(day+".endTimeInMinutes", "must be within the day")
		case r.EndMinute-r.StartMinute < domain.MinSlotMinutes:
			verr.Add(day+".endTimeInMinutes", "end time must be at least 1h after start time")
		}
	}

	if !anyEnabled {
		verr.Add("intervals", "select at least one week day")
	}
	return verr.OrNil()
}
