package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fornellas/mgs/gcode"
	"github.com/fornellas/mgs/marlin"
)

type testController struct {
	*Controller
	transport *fakeTransport
	engine    *fakeEngine
	console   *fakeConsole
}

func newTestController(t *testing.T) *testController {
	transport := &fakeTransport{}
	engine := &fakeEngine{}
	console := &fakeConsole{}
	c := NewController(transport, engine, Options{
		PollInterval: time.Hour,
		Console:      console,
	})
	return &testController{
		Controller: c,
		transport:  transport,
		engine:     engine,
		console:    console,
	}
}

func openTestController(t *testing.T) *testController {
	ctx := testContext(t)
	c := newTestController(t)
	require.NoError(t, c.Open(ctx))
	t.Cleanup(func() { require.NoError(t, c.Close(ctx)) })
	return c
}

func (c *testController) setIdleAt(t *testing.T, z float64) {
	c.HandleResponse(testContext(t), "<<X:1.00 Y:2.00 Z:"+marlinFloat(z)+" E:0.00 F:100.00 S_XYZ:3>>")
	require.Equal(t, marlin.StateIdle, c.Status().State)
	c.engine.ClearSent()
}

func marlinFloat(v float64) string {
	return gcode.NewWord('Z', v).String()[1:]
}

func TestControllerOpenClose(t *testing.T) {
	ctx := testContext(t)
	c := newTestController(t)

	require.False(t, c.IsOpen())
	require.Nil(t, c.Done())
	require.NoError(t, c.Close(ctx))

	require.NoError(t, c.Open(ctx))
	require.True(t, c.IsOpen())
	require.Equal(t, 1, c.engine.resets)
	require.Equal(t, marlin.StateDisconnected, c.Status().State)
	require.ErrorIs(t, c.Open(ctx), ErrConnection)

	ch := c.Subscribe("test", 10)
	doneCh := c.Done()
	require.NoError(t, c.Close(ctx))
	<-doneCh
	require.False(t, c.IsOpen())
	require.Equal(t, marlin.StateDisconnected, c.Status().State)
	select {
	case snapshot := <-ch:
		t.Fatalf("unexpected snapshot: %#v", snapshot)
	default:
	}

	// reopen
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Close(ctx))
}

func TestControllerConnectionLost(t *testing.T) {
	ctx := testContext(t)
	c := newTestController(t)
	require.NoError(t, c.Open(ctx))

	c.mu.Lock()
	poller := c.poller
	c.mu.Unlock()
	require.True(t, poller.Running())

	c.transport.Lose()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
	require.False(t, poller.Running())
	require.False(t, c.IsOpen())

	require.NoError(t, c.Close(ctx))
	require.Equal(t, marlin.StateDisconnected, c.Status().State)
}

func TestControllerOpenError(t *testing.T) {
	ctx := testContext(t)
	c := newTestController(t)
	c.transport.connectErr = errors.New("no such port")
	err := c.Open(ctx)
	require.ErrorIs(t, err, ErrConnection)
	require.ErrorContains(t, err, "no such port")
	require.False(t, c.IsOpen())
}

func TestControllerResponsesFromTransport(t *testing.T) {
	c := openTestController(t)
	ch := c.Subscribe("test", 10)

	c.transport.Send("<<X:1.00 Y:2.00 Z:3.00 E:0.00 F:100.00 S_XYZ:5>>")
	select {
	case snapshot := <-ch:
		require.Equal(t, marlin.StateRun, snapshot.State)
		require.Equal(t, 3.0, snapshot.WorkCoord.Z)
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestControllerStatusReport(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)
	ch := c.Subscribe("test", 10)

	c.poller.Tick(ctx)
	c.poller.Tick(ctx)
	require.Equal(t, 2, c.poller.OutstandingPolls())
	require.Equal(t, []sentCommand{{Channel: marlin.DispatchChannelImmediate, Text: "?"}}, c.engine.Sent())

	c.HandleResponse(ctx, "X:1.00 Y:2.00 Z:3.00 E:0.00 Count X:100 Y:200 Z:300")
	require.Equal(t, 0, c.poller.OutstandingPolls())
	snapshot := <-ch
	require.Same(t, c.Status(), snapshot)
	require.Equal(t, marlin.Coordinates{X: 1, Y: 2, Z: 3, Units: gcode.UnitsMillimeters}, snapshot.WorkCoord)
	require.Equal(t, []consoleMessage{{
		Level: "verbose",
		Msg:   "X:1.00 Y:2.00 Z:3.00 E:0.00 Count X:100 Y:200 Z:300",
	}}, c.console.Messages())
}

func TestControllerStatusReportUnparsed(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)
	ch := c.Subscribe("test", 10)
	previous := c.Status()

	c.poller.Tick(ctx)
	c.HandleResponse(ctx, "X:abc")
	require.Same(t, previous, c.Status())
	require.Equal(t, 1, c.poller.OutstandingPolls())
	require.Empty(t, ch)
	require.Equal(t, []consoleMessage{{Level: "verbose", Msg: "X:abc"}}, c.console.Messages())
}

func TestControllerStreamFinished(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)
	c.engine.mu.Lock()
	c.engine.streaming = true
	c.engine.mu.Unlock()

	c.HandleResponse(ctx, "<<X:0 Y:0 Z:0 S_XYZ:3>>")
	require.False(t, c.engine.IsStreaming())
	require.Contains(t, c.console.Messages(), consoleMessage{Level: "info", Msg: "Stream finished"})
}

func TestControllerOk(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)

	require.NoError(t, c.SendCommand(ctx, "G20"))
	require.NoError(t, c.engine.SetBusy(true))

	c.HandleResponse(ctx, "ok")
	require.False(t, c.engine.IsBusy())
	require.Equal(t, 0, c.engine.ActiveCommandCount())
	require.Equal(t, gcode.UnitsInches, c.ModalState().Units)

	// no active command: not an error
	c.HandleResponse(ctx, "ok")
	for _, message := range c.console.Messages() {
		require.NotEqual(t, "error", message.Level, message.Msg)
	}
}

func TestControllerBusyDoesNotHoldStream(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)

	c.HandleResponse(ctx, "echo:busy: processing")
	require.Equal(t, marlin.StateRun, c.Status().State)
	require.False(t, c.engine.IsBusy())
	require.False(t, c.engine.IsPaused())
}

func TestControllerEchoAndOther(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)
	c.HandleResponse(ctx, "echo:hello")
	c.HandleResponse(ctx, "start")
	require.Equal(t, []consoleMessage{
		{Level: "info", Msg: "echo:hello"},
		{Level: "info", Msg: "start"},
	}, c.console.Messages())
	require.Equal(t, marlin.StateDisconnected, c.Status().State)
}

func TestControllerDispatchError(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)
	c.Controller.engine = panickingEngine{fakeEngine: c.engine}

	c.HandleResponse(ctx, "ok")
	messages := c.console.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "error", messages[1].Level)
	require.Contains(t, messages[1].Msg, "Error while processing response <ok>: panic: boom")

	// still usable
	c.Controller.engine = c.engine
	c.HandleResponse(ctx, "<<X:0 Y:0 Z:0 S_XYZ:3>>")
	require.Equal(t, marlin.StateIdle, c.Status().State)
}

type panickingEngine struct {
	*fakeEngine
}

func (panickingEngine) CommandComplete(string) (*marlin.Command, error) {
	panic("boom")
}

func TestControllerPauseResume(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)

	require.NoError(t, c.Pause(ctx))
	require.Equal(t, []sentCommand{{Channel: marlin.DispatchChannelImmediate, Text: "M0"}}, c.engine.Sent())
	require.False(t, c.engine.IsPaused())

	c.HandleResponse(ctx, "echo:busy: paused for user")
	require.True(t, c.engine.IsPaused())
	require.Equal(t, marlin.StateHold, c.Status().State)
	require.Equal(t, ControlStateSendingPaused, c.ControlState())

	c.engine.ClearSent()
	require.NoError(t, c.Resume(ctx))
	require.Equal(t, []sentCommand{{Channel: marlin.DispatchChannelRealtime, Text: "M108"}}, c.engine.Sent())
	require.True(t, c.pauseResume.Resuming())
	require.False(t, c.engine.IsPaused())

	// stale pause while resuming
	c.HandleResponse(ctx, "echo:busy: paused for user")
	require.False(t, c.engine.IsPaused())
	require.True(t, c.pauseResume.Resuming())

	c.HandleResponse(ctx, "ok")
	require.False(t, c.pauseResume.Resuming())

	c.HandleResponse(ctx, "echo:busy: paused for user")
	require.True(t, c.engine.IsPaused())
}

func TestControllerJog(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)

	x := 10.0
	distance := marlin.NewPartialPosition(&x, nil, nil, gcode.UnitsInches)
	require.NoError(t, c.Jog(ctx, distance, 300))
	require.Equal(t, []sentCommand{
		{Channel: marlin.DispatchChannelImmediate, Text: "G91", Transient: true},
		{Channel: marlin.DispatchChannelImmediate, Text: "G20", Transient: true},
		{Channel: marlin.DispatchChannelImmediate, Text: "G1 X10 F300", Transient: true},
	}, c.engine.Sent())

	for range 3 {
		c.HandleResponse(ctx, "ok")
	}
	require.Equal(t, *gcode.NewModalState(), c.ModalState())
}

func TestControllerJogError(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)
	sendErr := errors.New("write failed")
	c.engine.sendErr = sendErr
	x := 1.0
	require.ErrorIs(t, c.Jog(ctx, marlin.NewPartialPosition(&x, nil, nil, gcode.UnitsMillimeters), 100), sendErr)
}

func TestControllerReturnToHome(t *testing.T) {
	for _, tc := range []struct {
		name         string
		z            float64
		safetyHeight float64
		expected     []string
	}{
		{
			name:         "below safety height",
			z:            -5,
			safetyHeight: 10,
			expected:     []string{"G90", "G0 Z10", "G90", "G0 X0 Y0", "G90", "G0 Z0"},
		},
		{
			name:         "above safety height",
			z:            20,
			safetyHeight: 10,
			expected:     []string{"G90", "G0 X0 Y0", "G90", "G0 Z0"},
		},
		{
			name:         "negative safety height raises to zero",
			z:            -5,
			safetyHeight: -2,
			expected:     []string{"G90", "G0 Z0", "G90", "G0 X0 Y0", "G90", "G0 Z0"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testContext(t)
			c := openTestController(t)
			c.setIdleAt(t, tc.z)
			require.NoError(t, c.ReturnToHome(ctx, tc.safetyHeight))
			require.Equal(t, tc.expected, c.engine.SentTexts())
			for _, sent := range c.engine.Sent() {
				require.Equal(t, marlin.DispatchChannelImmediate, sent.Channel)
			}
		})
	}
}

func TestControllerReturnToHomeInches(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)
	require.NoError(t, c.SendCommand(ctx, "G20"))
	c.HandleResponse(ctx, "ok")
	// 12.7mm
	c.setIdleAt(t, 12.7)
	require.NoError(t, c.ReturnToHome(ctx, 25.4))
	require.Equal(t, []string{"G90", "G0 Z1", "G90", "G0 X0 Y0", "G90", "G0 Z0"}, c.engine.SentTexts())
}

func TestControllerReturnToHomeNotIdle(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)
	c.HandleResponse(ctx, "<<X:0 Y:0 Z:-5 S_XYZ:5>>")
	c.engine.ClearSent()
	require.NoError(t, c.ReturnToHome(ctx, 10))
	require.Empty(t, c.engine.Sent())
}

func TestControllerSetWorkPosition(t *testing.T) {
	ctx := testContext(t)
	c := newTestController(t)

	x, z := 0.0, 1.5
	offsets := marlin.NewPartialPosition(&x, nil, &z, gcode.UnitsMillimeters)
	require.ErrorIs(t, c.SetWorkPosition(ctx, offsets), ErrNotConnected)
	require.Empty(t, c.engine.Sent())

	require.NoError(t, c.Open(ctx))
	defer func() { require.NoError(t, c.Close(ctx)) }()

	require.NoError(t, c.SetWorkPosition(ctx, marlin.NewPartialPosition(nil, nil, nil, gcode.UnitsMillimeters)))
	require.Empty(t, c.engine.Sent())

	require.NoError(t, c.SetWorkPosition(ctx, offsets))
	require.Equal(t, []sentCommand{{Channel: marlin.DispatchChannelImmediate, Text: "G92 X0 Z1.5"}}, c.engine.Sent())
}

func TestControllerControlState(t *testing.T) {
	ctx := testContext(t)
	c := openTestController(t)
	require.Equal(t, ControlStateIdle, c.ControlState())

	c.HandleResponse(ctx, "<<X:0 Y:0 Z:0 S_XYZ:5>>")
	require.Equal(t, ControlStateSending, c.ControlState())

	c.HandleResponse(ctx, "<<X:0 Y:0 Z:0 S_XYZ:3>>")
	require.Equal(t, ControlStateIdle, c.ControlState())

	c.engine.mu.Lock()
	c.engine.streaming = true
	c.engine.active = []*marlin.Command{{Text: "G0 X1"}}
	c.engine.mu.Unlock()
	require.Equal(t, ControlStateSendingPaused, c.ControlState())

	c.HandleResponse(ctx, "<<X:0 Y:0 Z:0 S_XYZ:2>>")
	require.Equal(t, ControlStateIdle, c.ControlState())
	require.Equal(t, "Sending Paused", ControlStateSendingPaused.String())
}
