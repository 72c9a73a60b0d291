package rule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule gates rule eligibility by time. It is used by the
// scheduler, never by the evaluator. A nil or disabled schedule means
// "always eligible".
type Schedule struct {
	Cron      string   `json:"cron,omitempty" yaml:"cron,omitempty"`
	Timezone  string   `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Days      []string `json:"days,omitempty" yaml:"days,omitempty"` // mon..sun; empty = all days
	StartTime string   `json:"start_time,omitempty" yaml:"start_time,omitempty"` // "09:00"
	EndTime   string   `json:"end_time,omitempty" yaml:"end_time,omitempty"`     // "17:30"
	Enabled   bool     `json:"enabled" yaml:"enabled"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// cronParser accepts the standard five-field spec plus descriptors
// like @hourly.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports every problem in the schedule definition. A rule
// with an invalid schedule is rejected at save time.
func (s *Schedule) Validate() []string {
	if s == nil {
		return nil
	}
	var errs []string
	if s.Cron != "" {
		if _, err := cronParser.Parse(s.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("invalid cron expression %q: %v", s.Cron, err))
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("unknown timezone %q", s.Timezone))
		}
	}
	for _, d := range s.Days {
		if _, ok := weekdayNames[strings.ToLower(d)]; !ok {
			errs = append(errs, fmt.Sprintf("unknown day %q (want mon..sun)", d))
		}
	}
	for _, tod := range []string{s.StartTime, s.EndTime} {
		if tod == "" {
			continue
		}
		if _, err := time.Parse("15:04", tod); err != nil {
			errs = append(errs, fmt.Sprintf("invalid time of day %q (want HH:MM)", tod))
		}
	}
	if (s.StartTime == "") != (s.EndTime == "") {
		errs = append(errs, "start_time and end_time must be set together")
	}
	return errs
}

// Eligible reports whether now falls inside the schedule window. The
// check is timezone-adjusted; validation errors caught at save time
// cannot occur here, so parse failures simply fail open per field.
func (s *Schedule) Eligible(now time.Time) bool {
	if s == nil || !s.Enabled {
		return true
	}
	loc := now.Location()
	if s.Timezone != "" {
		if l, err := time.LoadLocation(s.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	if len(s.Days) > 0 {
		ok := false
		for _, d := range s.Days {
			if wd, found := weekdayNames[strings.ToLower(d)]; found && wd == local.Weekday() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if s.StartTime != "" && s.EndTime != "" {
		start, err1 := time.Parse("15:04", s.StartTime)
		end, err2 := time.Parse("15:04", s.EndTime)
		if err1 == nil && err2 == nil {
			mins := local.Hour()*60 + local.Minute()
			startM := start.Hour()*60 + start.Minute()
			endM := end.Hour()*60 + end.Minute()
			if startM <= endM {
				if mins < startM || mins > endM {
					return false
				}
			} else {
				// Overnight window, e.g. 22:00-06:00.
				if mins < startM && mins > endM {
					return false
				}
			}
		}
	}

	if s.Cron != "" {
		sched, err := cronParser.Parse(s.Cron)
		if err != nil {
			return true
		}
		// The cron spec matches if the current minute is a fire time.
		minute := local.Truncate(time.Minute)
		if !sched.Next(minute.Add(-time.Second)).Equal(minute) {
			return false
		}
	}
	return true
}
