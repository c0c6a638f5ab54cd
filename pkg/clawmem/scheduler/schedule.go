package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reEveryInterval = regexp.MustCompile(`^every\s+(\d+)\s+(second|minute|hour|day|sec|min)s?$`)
	reEverySingular = regexp.MustCompile(`^every\s+(second|minute|hour|day)$`)
	reDailyAt       = regexp.MustCompile(`^daily\s+at\s+(.+)$`)
	reWeeklyOn      = regexp.MustCompile(`^weekly\s+on\s+(\w+)(?:\s+at\s+(.+))?$`)
)

// NormalizeSchedule turns a schedule into a cron spec. Plain phrases are
// accepted alongside cron expressions and descriptors:
//
//	every 30 minutes      -> @every 30m
//	every day             -> @every 24h
//	hourly                -> @hourly
//	daily [at 3:30am]     -> 30 3 * * *
//	weekly on mon [at 9]  -> 0 9 * * 1
//
// Anything else must parse as cron.
func NormalizeSchedule(input string) (string, error) {
	spec, ok := parsePhrase(input)
	if !ok {
		spec = strings.TrimSpace(input)
	}
	if spec == "" {
		return "", fmt.Errorf("empty schedule")
	}
	if err := ValidateSchedule(spec); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", input, err)
	}
	return spec, nil
}

func parsePhrase(input string) (string, bool) {
	s := strings.Join(strings.Fields(strings.ToLower(input)), " ")

	switch s {
	case "":
		return "", false
	case "hourly":
		return "@hourly", true
	case "daily":
		return "0 0 * * *", true
	}

	if m := reEveryInterval.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		unit := durationUnit(m[2])
		if n <= 0 || unit == "" {
			return "", false
		}
		if unit == "d" {
			n, unit = n*24, "h"
		}
		return fmt.Sprintf("@every %d%s", n, unit), true
	}

	if m := reEverySingular.FindStringSubmatch(s); m != nil {
		switch durationUnit(m[1]) {
		case "s":
			return "@every 1s", true
		case "m":
			return "@every 1m", true
		case "h":
			return "@every 1h", true
		case "d":
			return "@every 24h", true
		}
	}

	if m := reDailyAt.FindStringSubmatch(s); m != nil {
		hour, minute, ok := clockTime(m[1])
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%d %d * * *", minute, hour), true
	}

	if m := reWeeklyOn.FindStringSubmatch(s); m != nil {
		dow := weekday(m[1])
		if dow < 0 {
			return "", false
		}
		hour, minute := 0, 0
		if m[2] != "" {
			var ok bool
			if hour, minute, ok = clockTime(m[2]); !ok {
				return "", false
			}
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, dow), true
	}

	return "", false
}

// durationUnit maps a unit word to its Go duration suffix, "d" for days.
func durationUnit(unit string) string {
	switch strings.TrimSuffix(unit, "s") {
	case "second", "sec":
		return "s"
	case "minute", "min":
		return "m"
	case "hour":
		return "h"
	case "day":
		return "d"
	}
	return ""
}

// clockTime parses "9", "9:00", "14:30", "9am" or "3:30pm".
func clockTime(s string) (hour, minute int, ok bool) {
	s = strings.TrimSpace(s)
	pm := strings.HasSuffix(s, "pm")
	am := strings.HasSuffix(s, "am")
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(s, "pm"), "am"))

	h, m, hasMinute := strings.Cut(s, ":")
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	if hasMinute {
		minute, err = strconv.Atoi(m)
		if err != nil || minute < 0 || minute > 59 {
			return 0, 0, false
		}
	}
	if (am || pm) && hour > 12 {
		return 0, 0, false
	}
	if pm && hour < 12 {
		hour += 12
	}
	if am && hour == 12 {
		hour = 0
	}
	return hour, minute, true
}

// weekday converts a day name to the cron day-of-week (0 = Sunday).
func weekday(day string) int {
	for i, names := range [][2]string{
		{"sunday", "sun"}, {"monday", "mon"}, {"tuesday", "tue"}, {"wednesday", "wed"},
		{"thursday", "thu"}, {"friday", "fri"}, {"saturday", "sat"},
	} {
		if day == names[0] || day == names[1] {
			return i
		}
	}
	return -1
}
