// Package slots turns a provider's weekly availability rules and existing
// bookings into the ordered list of bookable start times for one civil day.
//
// All arithmetic is done in minutes since local midnight of the target day.
// Bookings on neighbouring days map to negative minutes or minutes past 1440,
// which lets a buffer that crosses midnight still block the right candidates.
// Every function here is pure.
package slots

import (
	"fmt"
	"medislot/pkg/model"
	"sort"
	"time"
)

const MinutesPerDay = 24 * 60

// Day is a calendar day in the provider's time zone.
type Day struct {
	Year     int
	Month    time.Month
	Date     int
	Location *time.Location
}

func NewDay(year int, month time.Month, date int, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	// Normalize out-of-range input such as the 32nd of a month.
	t := time.Date(year, month, date, 12, 0, 0, 0, loc)
	return Day{Year: t.Year(), Month: t.Month(), Date: t.Day(), Location: loc}
}

// DayOf returns the civil day t falls on in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return Day{Year: local.Year(), Month: local.Month(), Date: local.Day(), Location: loc}
}

// ParseDay parses a YYYY-MM-DD date in loc.
func ParseDay(value string, loc *time.Location) (Day, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return DayOf(t, loc), nil
}

func (d Day) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Date, 12, 0, 0, 0, time.UTC).Weekday()
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Date)
}

// At returns the instant of the given minute after local midnight.
func (d Day) At(minute int) time.Time {
	return time.Date(d.Year, d.Month, d.Date, 0, minute, 0, 0, d.Location)
}

// Exists reports whether the wall-clock minute occurs on this day. Minutes
// skipped by a forward clock change do not.
func (d Day) Exists(minute int) bool {
	return d.MinuteOf(d.At(minute)) == minute
}

// MinuteOf expresses t as wall-clock minutes relative to this day's local midnight.
func (d Day) MinuteOf(t time.Time) int {
	local := t.In(d.Location)
	days := civilDaysBetween(d.Year, d.Month, d.Date, local.Year(), local.Month(), local.Day())
	return days*MinutesPerDay + local.Hour()*60 + local.Minute()
}

// Window is the read range for existing bookings: the day itself plus 24 hours on each side.
func (d Day) Window() (from, to time.Time) {
	return d.At(-MinutesPerDay), d.At(2 * MinutesPerDay)
}

func civilDaysBetween(y1 int, m1 time.Month, d1 int, y2 int, m2 time.Month, d2 int) int {
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// Interval is a half-open range of minutes [Start, End).
type Interval struct {
	Start int
	End   int
}

func (a Interval) Overlaps(b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// Booked is an existing non-cancelled appointment of the same provider.
type Booked struct {
	Start           time.Time
	DurationMinutes int
}

func BookedFrom(appointments []*model.Appointment) []Booked {
	out := make([]Booked, 0, len(appointments))
	for _, a := range appointments {
		if a == nil || a.Status == model.StatusCancelled {
			continue
		}
		out = append(out, Booked{Start: a.ScheduledAt, DurationMinutes: a.DurationMinutes})
	}
	return out
}

// Slot is a bookable start time.
type Slot struct {
	Minute int       `json:"-"`
	Start  string    `json:"start"`
	At     time.Time `json:"at"`
}

// ParseClock converts "HH:MM" (24h) to minutes since midnight.
func ParseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", value, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func FormatClock(minute int) string {
	m := ((minute % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// OpenIntervals returns the union of the day's active rules, sorted. Touching or
// overlapping rules are merged so their minutes are never counted twice.
// Rules with an unparsable or empty range are ignored.
func OpenIntervals(day Day, rules []model.AvailabilityRule) []Interval {
	weekday := int(day.Weekday())

	var raw []Interval
	for _, r := range rules {
		if !r.Active || r.DayOfWeek != weekday {
			continue
		}
		start, err := ParseClock(r.StartTime)
		if err != nil {
			continue
		}
		end, err := ParseClock(r.EndTime)
		if err != nil || end <= start {
			continue
		}
		raw = append(raw, Interval{Start: start, End: end})
	}
	if len(raw) == 0 {
		return nil
	}

	sort.Slice(raw, func(i, j int) bool {
		if raw[i].Start != raw[j].Start {
			return raw[i].Start < raw[j].Start
		}
		return raw[i].End < raw[j].End
	})

	merged := []Interval{raw[0]}
	for _, iv := range raw[1:] {
		last := &merged[len(merged)-1]
		if iv.Start <= last.End {
			last.End = max(last.End, iv.End)
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// Candidates walks every open interval from its start in steps of durationMinutes and
// returns each start whose session still ends inside the interval. Starts that
// fall in a daylight saving gap are dropped. Sorted, unique.
func Candidates(day Day, rules []model.AvailabilityRule, durationMinutes int) []int {
	if durationMinutes <= 0 {
		return nil
	}

	var out []int
	for _, iv := range OpenIntervals(day, rules) {
		for start := iv.Start; start+durationMinutes <= iv.End; start += durationMinutes {
			if !day.Exists(start) {
				continue
			}
			out = append(out, start)
		}
	}
	return uniqueSorted(out)
}

// Offers reports whether minute is one of the day's candidate start times.
func Offers(day Day, rules []model.AvailabilityRule, durationMinutes, minute int) bool {
	for _, c := range Candidates(day, rules, durationMinutes) {
		if c == minute {
			return true
		}
		if c > minute {
			return false
		}
	}
	return false
}

// Blocked reports whether a session starting at minute, padded by the buffer,
// intersects any existing booking padded the same way.
func Blocked(day Day, minute, durationMinutes, bufferMinutes int, existing []Booked) bool {
	candidate := Interval{Start: minute, End: minute + durationMinutes + bufferMinutes}
	for _, b := range existing {
		start := day.MinuteOf(b.Start)
		if candidate.Overlaps(Interval{Start: start, End: start + b.DurationMinutes + bufferMinutes}) {
			return true
		}
	}
	return false
}

// Compute returns the bookable start times of day, ascending and deduplicated.
// No matching active rule yields an empty result.
func Compute(day Day, rules []model.AvailabilityRule, durationMinutes, bufferMinutes int, existing []Booked) []Slot {
	candidates := Candidates(day, rules, durationMinutes)

	out := make([]Slot, 0, len(candidates))
	for _, minute := range candidates {
		if Blocked(day, minute, durationMinutes, bufferMinutes, existing) {
			continue
		}
		out = append(out, Slot{
			Minute: minute,
			Start:  FormatClock(minute),
			At:     day.At(minute).UTC(),
		})
	}
	return out
}

func uniqueSorted(values []int) []int {
	if len(values) == 0 {
		return values
	}
	sort.Ints(values)
	out := values[:1]
	for _, v := range values[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
