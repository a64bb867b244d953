package workflow

import "strings"

// Trigger represents an event that can cause a state transition
type Trigger string

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// DisplayName renders the trigger for humans, e.g. "middle_to_end" becomes "Middle to end"
func (t Trigger) DisplayName() string {
	name := strings.TrimSpace(strings.ReplaceAll(string(t), "_", " "))
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
