// Package activity maps free-text activity descriptions onto the closed
// tag set the collector aggregates by.
package activity

import "strings"

const (
	KindCoding        = "coding"
	KindBrowsing      = "browsing"
	KindMeeting       = "meeting"
	KindTerminal      = "terminal"
	KindDocumentation = "documentation"
	KindIdle          = "idle"
	KindOther         = "other"
)

var kindKeywords = []struct {
	kind     string
	keywords []string
}{
	{KindCoding, []string{"code", "programming", "ide", "editor", "visual studio", "vscode", "cursor", "intellij"}},
	{KindBrowsing, []string{"browser", "chrome", "firefox", "edge", "safari"}},
	{KindMeeting, []string{"meeting", "zoom", "teams", "slack", "discord"}},
	{KindTerminal, []string{"terminal", "command", "powershell", "cmd", "bash", "shell"}},
	{KindDocumentation, []string{"documentation", "reading", "docs", "wiki"}},
	{KindIdle, []string{"idle", "desktop", "lock screen"}},
}

// Detect classifies a description. Earlier tag matches win; anything
// unrecognized is "other".
func Detect(description string) string {
	lower := strings.ToLower(description)
	for _, entry := range kindKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.kind
			}
		}
	}
	return KindOther
}

// Known reports whether kind is one of the closed tag set.
func Known(kind string) bool {
	switch kind {
	case KindCoding, KindBrowsing, KindMeeting, KindTerminal, KindDocumentation, KindIdle, KindOther:
		return true
	}
	return false
}
