package marlin

import (
	"fmt"
	"regexp"
	"strings"
)

// ResponseType is the category of a line received from the firmware.
type ResponseType int

const (
	// Informational text (eg: memory reports) that is shown verbatim.
	ResponseTypeOther ResponseType = iota
	// Command acknowledgment.
	ResponseTypeOk
	// Position / state report, either polled (M114 style) or live (<<...>>).
	ResponseTypeStatusReport
	// Firmware is busy waiting for the user to resume (eg: after M0).
	ResponseTypePausedForUser
	// Firmware is busy processing a long running command.
	ResponseTypeBusy
	// Any other echo message.
	ResponseTypeEcho
)

var responseTypeStringsMap = map[ResponseType]string{
	ResponseTypeOther:         "Other",
	ResponseTypeOk:            "Ok",
	ResponseTypeStatusReport:  "Status Report",
	ResponseTypePausedForUser: "Paused For User",
	ResponseTypeBusy:          "Busy",
	ResponseTypeEcho:          "Echo",
}

func (t ResponseType) String() string {
	if str, ok := responseTypeStringsMap[t]; ok {
		return str
	}
	return fmt.Sprintf("Unknown (%d)", int(t))
}

var responseOk = "ok"
var responseEchoPrefix = "echo:"
var responseBusyPrefix = "echo:busy:"
var responsePausedForUser = "paused for user"

// Matches status report tokens such as "X:10.00" or "S_XYZ:3". The value stops at whitespace or
// at the closing ">>" of live reports.
var statusReportTokenRegexp = regexp.MustCompile(`(?:^|[^A-Za-z0-9_])([XYZSF][XYZSF_]*):([^\s>]+)`)

// ClassifyResponse returns the type of the given response line. The first matching rule wins:
// ok, status report, paused for user, busy, echo, other.
func ClassifyResponse(response string) ResponseType {
	response = strings.TrimSpace(response)

	if strings.EqualFold(response, responseOk) {
		return ResponseTypeOk
	}

	if statusReportTokenRegexp.MatchString(response) {
		return ResponseTypeStatusReport
	}

	if strings.HasPrefix(response, responseBusyPrefix) {
		rest := strings.TrimLeft(response[len(responseBusyPrefix):], " \t")
		if strings.HasPrefix(rest, responsePausedForUser) {
			return ResponseTypePausedForUser
		}
		return ResponseTypeBusy
	}

	if strings.HasPrefix(response, responseEchoPrefix) {
		return ResponseTypeEcho
	}

	return ResponseTypeOther
}
