package domain

import (
	"math"
	"sort"
	"time"
)

// FrequencyPattern names a dosing cadence.
type FrequencyPattern string

// Known cadences. PatternCustom uses SpecificDays and is exempt from the
// 7-day consistency check.
const (
	PatternDaily            FrequencyPattern = "daily"
	PatternEveryOtherDay    FrequencyPattern = "every_other_day"
	PatternThreeTimesWeekly FrequencyPattern = "three_times_weekly"
	PatternTwiceWeekly      FrequencyPattern = "twice_weekly"
	PatternWeekly           FrequencyPattern = "weekly"
	PatternEveryTwoWeeks    FrequencyPattern = "every_two_weeks"
	PatternMonthly          FrequencyPattern = "monthly"
	PatternCustom           FrequencyPattern = "custom"
)

// DaysPerWeek anchors the schedule consistency invariant.
const DaysPerWeek = 7.0

const scheduleTolerance = 1e-6

// FrequencySchedule describes how often a dose is injected.
type FrequencySchedule struct {
	IntervalDays      float64          `json:"interval_days"`
	InjectionsPerWeek float64          `json:"injections_per_week"`
	Pattern           FrequencyPattern `json:"pattern"`
	SpecificDays      []time.Weekday   `json:"specific_days,omitempty"`
}

var presetSchedules = map[FrequencyPattern]FrequencySchedule{
	PatternDaily:            {IntervalDays: 1, InjectionsPerWeek: 7, Pattern: PatternDaily},
	PatternEveryOtherDay:    {IntervalDays: 2, InjectionsPerWeek: 3.5, Pattern: PatternEveryOtherDay},
	PatternThreeTimesWeekly: {IntervalDays: DaysPerWeek / 3, InjectionsPerWeek: 3, Pattern: PatternThreeTimesWeekly},
	PatternTwiceWeekly:      {IntervalDays: 3.5, InjectionsPerWeek: 2, Pattern: PatternTwiceWeekly},
	PatternWeekly:           {IntervalDays: 7, InjectionsPerWeek: 1, Pattern: PatternWeekly},
	PatternEveryTwoWeeks:    {IntervalDays: 14, InjectionsPerWeek: 0.5, Pattern: PatternEveryTwoWeeks},
	PatternMonthly:          {IntervalDays: 28, InjectionsPerWeek: 0.25, Pattern: PatternMonthly},
}

// FrequencyFor returns the preset schedule for a non-custom pattern.
func FrequencyFor(pattern FrequencyPattern) (FrequencySchedule, bool) {
	s, ok := presetSchedules[pattern]
	return s, ok
}

// Weekly is the preset once-a-week schedule.
func Weekly() FrequencySchedule {
	return presetSchedules[PatternWeekly]
}

// Daily is the preset once-a-day schedule.
func Daily() FrequencySchedule {
	return presetSchedules[PatternDaily]
}

// CustomSchedule builds a schedule injecting on the given weekdays.
// Duplicate days are collapsed.
func CustomSchedule(days ...time.Weekday) FrequencySchedule {
	seen := make(map[time.Weekday]struct{}, len(days))
	uniq := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		uniq = append(uniq, d)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })
	s := FrequencySchedule{Pattern: PatternCustom, SpecificDays: uniq, InjectionsPerWeek: float64(len(uniq))}
	if len(uniq) > 0 {
		s.IntervalDays = DaysPerWeek / float64(len(uniq))
	}
	return s
}

// IsCustom reports whether the schedule is day-of-week based.
func (s FrequencySchedule) IsCustom() bool {
	return s.Pattern == PatternCustom
}

// Consistent reports whether InjectionsPerWeek and IntervalDays describe the
// same 7-day cadence. Custom schedules are always consistent when their day
// list matches InjectionsPerWeek.
func (s FrequencySchedule) Consistent() bool {
	if !PositiveFinite(s.IntervalDays) || !PositiveFinite(s.InjectionsPerWeek) {
		return false
	}
	if s.IsCustom() {
		if len(s.SpecificDays) == 0 {
			return true
		}
		return math.Abs(float64(len(s.SpecificDays))-s.InjectionsPerWeek) < scheduleTolerance
	}
	return math.Abs(s.InjectionsPerWeek*s.IntervalDays-DaysPerWeek) < scheduleTolerance*DaysPerWeek
}

// PositiveFinite reports whether v is a usable magnitude: greater than zero
// and neither NaN nor infinite.
func PositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// Clone returns a copy that does not share the SpecificDays backing array.
func (s FrequencySchedule) Clone() FrequencySchedule {
	out := s
	if s.SpecificDays != nil {
		out.SpecificDays = append([]time.Weekday(nil), s.SpecificDays...)
	}
	return out
}
