package realtime

import (
	"fmt"
	"slices"
	"strings"
)

type NotificationKind int

const (
	NotifyStatus NotificationKind = iota
	NotifyReady
	NotifyInterim
	NotifyFinal
	NotifyFunctionCall
	NotifyError
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyStatus:
		return "status"
	case NotifyReady:
		return "ready"
	case NotifyInterim:
		return "interim"
	case NotifyFinal:
		return "final"
	case NotifyFunctionCall:
		return "function-call"
	case NotifyError:
		return "error"
	}
	return "unknown"
}

type Speaker string

const (
	SpeakerUser      Speaker = "User"
	SpeakerAssistant Speaker = "Assistant"
)

type FunctionCallSummary struct {
	Name    string
	Args    map[string]any
	Summary string
}

// Notification is one update for the view layer. An interim notification
// with empty Text clears the interim line.
type Notification struct {
	Kind    NotificationKind
	Speaker Speaker
	Text    string
	Call    *FunctionCallSummary
}

// Line renders the notification the way a transcript shows it.
func (n Notification) Line() string {
	switch n.Kind {
	case NotifyFinal:
		return fmt.Sprintf("%s: %s", n.Speaker, n.Text)
	case NotifyInterim:
		if n.Text == "" {
			return ""
		}
		return fmt.Sprintf("%s (%s)", n.Speaker, n.Text)
	case NotifyError:
		return "Error: " + n.Text
	case NotifyFunctionCall:
		if n.Call == nil {
			return "Function call"
		}
		return fmt.Sprintf("Function call: %s(%s) -> %s", n.Call.Name, formatArgs(n.Call.Args), n.Call.Summary)
	}
	return n.Text
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, ", ")
}

// Notifier receives view notifications. Implementations must not call back
// into the engine.
type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
