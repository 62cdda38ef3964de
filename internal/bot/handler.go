package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"wisefido-ventilation/internal/commands"
	"wisefido-ventilation/internal/presence"
)

const helpText = `Commands:
/status - current air quality and controller state
/set <field> <value> - change a comfort preference
/feedback <comfortable|too_hot|too_cold|stuffy|too_dry|too_humid>
/home, /away - confirm whether anyone is home
/auto on|off - automatic ventilation
/night on|off, /night <start> <end>, /night start|end - night mode
/cancel - abort a pending question
/patterns - learned occupancy patterns
/sleep - learned sleep patterns
/enroll <name> - trust the next new device for <name>
/devices - trusted and unknown devices`

// Handle returns the plain-text reply for one incoming message
func (b *TelegramBot) Handle(ctx context.Context, chatID int64, userID, name, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if !strings.HasPrefix(text, "/") {
		return b.handleAnswer(ctx, chatID, text)
	}

	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "start", "help":
		return helpText
	case "status":
		return formatStatus(b.cmds.Status())
	case "set":
		return b.handleSet(ctx, userID, name, args)
	case "feedback":
		if len(args) != 1 {
			return "Usage: /feedback <kind>"
		}
		p, err := b.cmds.Feedback(ctx, userID, name, args[0])
		if err != nil {
			return errorText(err)
		}
		return "Thanks, noted.\n" + formatPreference(p)
	case "home", "away":
		if err := b.cmds.ConfirmOccupancy(ctx, cmd == "home"); err != nil {
			return errorText(err)
		}
		return "Occupancy confirmation recorded."
	case "auto":
		return b.handleAuto(args)
	case "night":
		return b.handleNight(ctx, chatID, args)
	case "cancel":
		cancelled := b.cmds.CancelNightPrompt(chatID)
		if b.cmds.CancelEnrollment() {
			cancelled = true
		}
		if cancelled {
			return "Cancelled."
		}
		return "Nothing to cancel."
	case "patterns":
		sum, err := b.cmds.OccupancyPatterns()
		if err != nil {
			return errorText(err)
		}
		return formatOccupancy(sum)
	case "sleep":
		sum, err := b.cmds.SleepPatterns()
		if err != nil {
			return errorText(err)
		}
		return formatSleep(sum)
	case "enroll":
		if err := b.cmds.BeginEnrollment(strings.Join(args, " ")); err != nil {
			return errorText(err)
		}
		return "Enrollment started. Connect the new device to the network now."
	case "devices":
		rep, err := b.cmds.Devices()
		if err != nil {
			return errorText(err)
		}
		return formatDevices(rep)
	default:
		return "Unknown command. Send /help for the list."
	}
}

// handleAnswer treats a plain message as the answer to a pending night-hour prompt
func (b *TelegramBot) handleAnswer(ctx context.Context, chatID int64, text string) string {
	field, ok := b.cmds.PendingNightPrompt(chatID)
	if !ok {
		return "Send /help for the list of commands."
	}
	hour, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Sprintf("Please send the night %s hour as a number 0-23, or /cancel.", field)
	}
	nm, err := b.cmds.CompleteNightPrompt(ctx, chatID, hour)
	if err != nil {
		return errorText(err) + " Try again or /cancel."
	}
	return fmt.Sprintf("Night mode window set to %02d:00-%02d:00.", nm.StartHour, nm.EndHour)
}

func (b *TelegramBot) handleSet(ctx context.Context, userID, name string, args []string) string {
	if len(args) != 2 {
		return "Usage: /set <field> <value>\nFields: " + strings.Join(commands.PreferenceFields, ", ")
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return "Value must be a number."
	}
	p, err := b.cmds.SetPreference(ctx, userID, name, args[0], v)
	if err != nil {
		return errorText(err)
	}
	return "Preference saved.\n" + formatPreference(p)
}

func (b *TelegramBot) handleAuto(args []string) string {
	if len(args) != 1 {
		return "Usage: /auto on|off"
	}
	switch strings.ToLower(args[0]) {
	case "on":
		b.cmds.SetAutoMode(true)
		return "Automatic ventilation enabled."
	case "off":
		b.cmds.SetAutoMode(false)
		return "Automatic ventilation disabled."
	}
	return "Usage: /auto on|off"
}

func (b *TelegramBot) handleNight(ctx context.Context, chatID int64, args []string) string {
	switch len(args) {
	case 1:
		switch strings.ToLower(args[0]) {
		case "on", "off":
			nm, err := b.cmds.SetNightEnabled(ctx, strings.EqualFold(args[0], "on"))
			if err != nil {
				return errorText(err)
			}
			return "Night mode " + onOff(nm.Enabled) + "."
		case "start":
			b.cmds.BeginNightPrompt(chatID, commands.NightStart)
			return "At which hour (0-23) should night mode start?"
		case "end":
			b.cmds.BeginNightPrompt(chatID, commands.NightEnd)
			return "At which hour (0-23) should night mode end?"
		}
	case 2:
		start, err1 := strconv.Atoi(args[0])
		end, err2 := strconv.Atoi(args[1])
		if err1 != nil || err2 != nil {
			break
		}
		nm, err := b.cmds.SetNightHours(ctx, start, end)
		if err != nil {
			return errorText(err)
		}
		return fmt.Sprintf("Night mode window set to %02d:00-%02d:00.", nm.StartHour, nm.EndHour)
	}
	return "Usage: /night on|off, /night <start> <end>, /night start|end"
}

func errorText(err error) string {
	switch {
	case errors.Is(err, commands.ErrUnavailable):
		return "That feature is not available right now."
	case errors.Is(err, commands.ErrUnknownField):
		return "Unknown field. Fields: " + strings.Join(commands.PreferenceFields, ", ")
	case errors.Is(err, commands.ErrUnknownFeedback):
		return "Unknown feedback. Use comfortable, too_hot, too_cold, stuffy, too_dry or too_humid."
	case errors.Is(err, commands.ErrInvalidValue):
		return "Invalid value."
	case errors.Is(err, commands.ErrNoPrompt):
		return "No question is pending."
	case errors.Is(err, presence.ErrEnrollmentActive):
		return "Another enrollment is already running. Send /cancel first."
	}
	return "Something went wrong: " + err.Error()
}
