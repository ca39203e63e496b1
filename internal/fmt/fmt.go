package fmt

import (
	"fmt"
	"strings"
)

// SprintFloat formats value with at most decimal digits, dropping trailing zeros and a dangling
// decimal point.
func SprintFloat(value float64, decimal uint) string {
	var floatStr string
	if decimal > 0 {
		floatFormat := fmt.Sprintf("%%.%df", decimal)
		floatStr = fmt.Sprintf(floatFormat, value)
		floatStr = strings.TrimRight(strings.TrimRight(floatStr, "0"), ".")
	} else {
		floatStr = fmt.Sprintf("%.0f", value)
	}
	if floatStr == "-0" {
		floatStr = "0"
	}
	return floatStr
}

// SprintCoordinate formats a coordinate the way it is sent to the firmware.
func SprintCoordinate(value float64) string {
	return SprintFloat(value, 4)
}
