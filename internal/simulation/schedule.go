package simulation

import "time"

// Schedule number of people home at t
type Schedule interface {
	Occupants(t time.Time) int
}

// ScheduleFunc adapts a function to Schedule
type ScheduleFunc func(t time.Time) int

func (f ScheduleFunc) Occupants(t time.Time) int { return f(t) }

// Block [From, To) in minutes after midnight
type Block struct {
	From   int
	To     int
	People int
}

// WeeklySchedule separate block lists for weekdays and weekends; uncovered minutes are empty
type WeeklySchedule struct {
	Weekday []Block
	Weekend []Block
}

// DefaultSchedule two commuters, out 08:00-17:30 on weekdays and 10:00-13:00
// on weekends, with guests on weekend evenings
func DefaultSchedule() WeeklySchedule {
	return WeeklySchedule{
		Weekday: []Block{
			{From: 0, To: 8 * 60, People: 2},
			{From: 17*60 + 30, To: 24 * 60, People: 2},
		},
		Weekend: []Block{
			{From: 0, To: 10 * 60, People: 2},
			{From: 13 * 60, To: 19 * 60, People: 2},
			{From: 19 * 60, To: 22 * 60, People: 4},
			{From: 22 * 60, To: 24 * 60, People: 2},
		},
	}
}

func (s WeeklySchedule) Occupants(t time.Time) int {
	blocks := s.Weekday
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		blocks = s.Weekend
	}
	m := t.Hour()*60 + t.Minute()
	for _, b := range blocks {
		if m >= b.From && m < b.To {
			return b.People
		}
	}
	return 0
}
