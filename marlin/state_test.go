package marlin

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirmwareStateApply(t *testing.T) {
	previousStates := []State{StateUnknown, StateIdle, StateRun, StateHold}

	for _, code := range []FirmwareState{0, 1, 4, 7, 8, 12, 99, -1} {
		for _, previous := range previousStates {
			t.Run(fmt.Sprintf("%d keeps %s", code, previous), func(t *testing.T) {
				require.Equal(t, previous, code.Apply(previous))
			})
		}
	}

	mapped := map[FirmwareState]State{
		2:  StateAlarm,
		3:  StateIdle,
		5:  StateRun,
		6:  StateHold,
		9:  StateHome,
		10: StateJog,
		11: StateAlarm,
	}
	for code, expected := range mapped {
		for _, previous := range previousStates {
			t.Run(fmt.Sprintf("%d maps to %s", code, expected), func(t *testing.T) {
				require.Equal(t, expected, code.Apply(previous))
			})
		}
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "Disconnected", StateDisconnected.String())
	require.Equal(t, "Homing", FirmwareStateHoming.String())
	text, err := StateJog.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "Jog", string(text))

	var state State
	require.NoError(t, state.UnmarshalText([]byte("Hold")))
	require.Equal(t, StateHold, state)
	require.Error(t, state.UnmarshalText([]byte("Flying")))
}
