package bot

import (
	"fmt"
	"strings"
	"time"

	"wisefido-ventilation/internal/commands"
	"wisefido-ventilation/internal/models"
	"wisefido-ventilation/internal/occupancy"
	"wisefido-ventilation/internal/sleep"
)

const timeLayout = "Mon 15:04"

func formatStatus(rep commands.StatusReport) string {
	st := rep.Controller
	r := st.Reading

	var sb strings.Builder
	sb.WriteString("Air quality\n")
	if r.CO2 != nil {
		fmt.Fprintf(&sb, "  CO2: %d ppm\n", *r.CO2)
	} else {
		sb.WriteString("  CO2: no data\n")
	}
	if r.Temperature != nil {
		fmt.Fprintf(&sb, "  Temperature: %.1f °C\n", *r.Temperature)
	}
	if r.Humidity != nil {
		fmt.Fprintf(&sb, "  Humidity: %.0f %%\n", *r.Humidity)
	}
	fmt.Fprintf(&sb, "  Occupants: %d\n", r.OccupantCount)

	sb.WriteString("Ventilation\n")
	fmt.Fprintf(&sb, "  Fan: %s\n", r.VentilationSpeed)
	fmt.Fprintf(&sb, "  Auto mode: %s\n", onOff(st.AutoMode))
	fmt.Fprintf(&sb, "  Night mode: %s (%02d:00-%02d:00", onOff(st.Night.Enabled), st.Night.StartHour, st.Night.EndHour)
	if st.NightActive {
		sb.WriteString(", active")
	}
	sb.WriteString(")\n")
	if st.Emergency {
		sb.WriteString("  Emergency ventilation in progress\n")
	}
	if st.LastDecision.Reason != "" {
		fmt.Fprintf(&sb, "  Last decision: %s (%s)\n", st.LastDecision.Action, st.LastDecision.Reason)
	}
	if st.State != "" {
		fmt.Fprintf(&sb, "  State: %s, %d states learned, exploration %.3f\n", st.State, st.StatesLearned, st.ExplorationRate)
	}

	if cp := rep.Compromise; cp != nil && cp.UserCount > 0 {
		sb.WriteString("Household comfort\n")
		fmt.Fprintf(&sb, "  Temperature %.1f-%.1f °C, CO2 below %.0f ppm, humidity %.0f-%.0f %%\n",
			cp.TempMin, cp.TempMax, cp.CO2Threshold, cp.HumidityMin, cp.HumidityMax)
		fmt.Fprintf(&sb, "  %d users, effectiveness %.0f %%\n", cp.UserCount, cp.Effectiveness*100)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatPreference(p models.UserPreference) string {
	return fmt.Sprintf("Temperature %.1f-%.1f °C\nCO2 threshold %.0f ppm\nHumidity %.0f-%.0f %%\nSensitivity temp %.1f, co2 %.1f, humidity %.1f",
		p.TempMin, p.TempMax, p.CO2Threshold, p.HumidityMin, p.HumidityMax,
		p.SensitivityTemp, p.SensitivityCO2, p.SensitivityHumidity)
}

func formatOccupancy(sum occupancy.PatternSummary) string {
	if sum.Slots == 0 {
		return "No occupancy patterns learned yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Occupancy patterns (%d hourly slots)\n", sum.Slots)
	for _, d := range sum.Days {
		if len(d.EmptyHours) == 0 {
			fmt.Fprintf(&sb, "  %s: usually occupied\n", d.Day)
			continue
		}
		fmt.Fprintf(&sb, "  %s: empty %s\n", d.Day, hourRanges(d.EmptyHours))
	}
	p := sum.CurrentPeriod
	fmt.Fprintf(&sb, "Now: %s since %s (confidence %.0f %%)", p.Status, p.Start.Format(timeLayout), p.Confidence*100)
	if p.End != nil {
		fmt.Fprintf(&sb, " until %s", p.End.Format(timeLayout))
	}
	sb.WriteString("\n")
	if ev := sum.NextEvent; ev != nil {
		fmt.Fprintf(&sb, "Next: %s at %s (confidence %.0f %%)\n", eventLabel(ev.Kind), ev.Time.Format(timeLayout), ev.Confidence*100)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func eventLabel(k occupancy.EventKind) string {
	if k == occupancy.ExpectedArrival {
		return "arrival"
	}
	return "departure"
}

func formatSleep(sum sleep.Summary) string {
	var sb strings.Builder
	if sum.Sleeping {
		sb.WriteString("The household is asleep.\n")
	}
	fmt.Fprintf(&sb, "Night window %02d:00-%02d:00, %d events recorded\n", sum.NightStart, sum.NightEnd, sum.Events)
	learned := false
	for _, d := range sum.Days {
		if d.Sleep == nil && d.Wake == nil {
			continue
		}
		learned = true
		fmt.Fprintf(&sb, "  %s: sleep %s, wake %s\n", d.Day, predictionText(d.Sleep), predictionText(d.Wake))
	}
	if !learned {
		sb.WriteString("No sleep patterns learned yet.\n")
	}
	if ev := sum.RecentEvent; ev != nil {
		fmt.Fprintf(&sb, "Last event: %s at %s\n", ev.Kind, ev.Time.Format(timeLayout))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func predictionText(p *sleep.Prediction) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%.0f %%)", p.Time, p.Confidence*100)
}

func formatDevices(rep commands.DevicesReport) string {
	var sb strings.Builder
	if len(rep.Trusted) == 0 {
		sb.WriteString("No trusted devices.\n")
	} else {
		sb.WriteString("Trusted devices\n")
		for _, d := range rep.Trusted {
			state := "away"
			if d.Present {
				state = "home"
			}
			seen := "never"
			if !d.LastSeen.IsZero() {
				seen = d.LastSeen.Format(time.DateTime)
			}
			fmt.Fprintf(&sb, "  %s (%s): %s, last seen %s\n", d.Owner, d.MAC, state, seen)
		}
	}
	if len(rep.Unknown) > 0 {
		fmt.Fprintf(&sb, "Unknown devices: %s\n", strings.Join(rep.Unknown, ", "))
	}
	if rep.Enrolling != "" {
		fmt.Fprintf(&sb, "Waiting for a new device for %s\n", rep.Enrolling)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// hourRanges renders sorted hours as "01-05, 13"
func hourRanges(hours []int) string {
	var parts []string
	for i := 0; i < len(hours); {
		j := i
		for j+1 < len(hours) && hours[j+1] == hours[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, fmt.Sprintf("%02d", hours[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%02d-%02d", hours[i], hours[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ", ")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
