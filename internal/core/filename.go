package core

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// MessageExt marks a file in an inbox as a message.
	MessageExt = ".md"

	// ArrivalLayout is the time layout of the arrival token at the start of
	// a message filename. It is fixed width so names sort chronologically.
	ArrivalLayout = "20060102-150405"
)

var messageNameRe = regexp.MustCompile(`^(\d{8}-\d{6})-(.+)\.md$`)

// MessageName is the metadata encoded in an inbox filename.
type MessageName struct {
	ArrivalToken string
	Sender       string
	// Fallback is set when the filename did not follow the convention and
	// the sender was taken from the base name.
	Fallback bool
}

// ParseMessageName extracts arrival token and sender from a message filename.
// Names that do not match "<YYYYMMDD>-<HHMMSS>-<sender>.md" fall back to the
// base name without extension as the sender. It never fails.
func ParseMessageName(filename string) MessageName {
	base := filepath.Base(filename)
	if match := messageNameRe.FindStringSubmatch(base); match != nil {
		return MessageName{ArrivalToken: match[1], Sender: match[2]}
	}
	return MessageName{Sender: strings.TrimSuffix(base, filepath.Ext(base)), Fallback: true}
}

// ArrivalTime parses the arrival token as UTC. ok is false for fallback names.
func (n MessageName) ArrivalTime() (time.Time, bool) {
	if n.ArrivalToken == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(ArrivalLayout, n.ArrivalToken, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatMessageName builds the inbox filename for a message sent at t.
func FormatMessageName(t time.Time, sender string) string {
	return fmt.Sprintf("%s-%s%s", t.UTC().Format(ArrivalLayout), sender, MessageExt)
}

// IsMessageFile reports whether an inbox entry should be consolidated.
func IsMessageFile(name string) bool {
	return strings.HasSuffix(name, MessageExt) && !strings.HasPrefix(name, ".")
}
