package ajax

import "strings"

// EventCategory classifies a cloud event code.
type EventCategory string

// EventCategory constants.
const (
	CategoryAlarm   EventCategory = "alarm"
	CategoryMode    EventCategory = "mode"
	CategoryTrouble EventCategory = "trouble"
	CategoryUnknown EventCategory = "unknown"
)

// Transition indicates whether a coded event reports a condition starting
// or clearing.
type Transition string

// Transition constants.
const (
	TransitionTriggered Transition = "triggered"
	TransitionRestored  Transition = "restored"
)

// CodeInfo is the parsed form of a cloud event code.
type CodeInfo struct {
	Category   EventCategory
	Transition Transition
}

// ParseEventCode parses a cloud event code of the form "L_NN_MM" where L is
// a category letter, NN the event number, and MM the transition qualifier
// (00 = condition raised, 01 = condition restored). Codes that do not fit
// the scheme classify as unknown/triggered; callers fall back to the event
// tag for routing, so a lax parse here only affects severity.
func ParseEventCode(code string) CodeInfo {
	info := CodeInfo{Category: CategoryUnknown, Transition: TransitionTriggered}

	parts := strings.Split(code, "_")
	if len(parts) != 3 || len(parts[0]) != 1 {
		return info
	}

	switch parts[0] {
	case "A":
		info.Category = CategoryAlarm
	case "M":
		info.Category = CategoryMode
	case "T":
		info.Category = CategoryTrouble
	}

	if parts[2] == "01" {
		info.Transition = TransitionRestored
	}

	return info
}

// Severity maps the parsed category to a listener-facing severity. Restored
// conditions never escalate past info.
func (c CodeInfo) Severity() Severity {
	if c.Transition == TransitionRestored {
		return SeverityInfo
	}
	switch c.Category {
	case CategoryAlarm:
		return SeverityAlarm
	case CategoryTrouble:
		return SeverityWarning
	case CategoryMode, CategoryUnknown:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}
