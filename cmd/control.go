package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/fornellas/mgs/controller"
	"github.com/fornellas/mgs/gcode"
	"github.com/fornellas/mgs/marlin"
)

var safetyHeight float64
var defaultSafetyHeight = 5.0

var errQuit = errors.New("quit")

// parseJog parses "X10 Y-5 F300 [mm|inch]".
func parseJog(args []string) (marlin.PartialPosition, float64, error) {
	units := gcode.UnitsMillimeters
	if len(args) > 0 {
		if u, err := gcode.ParseUnits(args[len(args)-1]); err == nil {
			units = u
			args = args[:len(args)-1]
		}
	}
	block, err := gcode.ParseBlock(strings.Join(args, " "))
	if err != nil {
		return marlin.PartialPosition{}, 0, err
	}
	if len(block.Commands()) > 0 {
		return marlin.PartialPosition{}, 0, fmt.Errorf("unexpected command: %s", block)
	}
	position := marlin.PartialPosition{Units: units}
	var feedRate float64
	for _, word := range block.Arguments() {
		value := word.Number()
		switch word.Letter() {
		case 'X':
			position.X = &value
		case 'Y':
			position.Y = &value
		case 'Z':
			position.Z = &value
		case 'F':
			feedRate = value
		default:
			return marlin.PartialPosition{}, 0, fmt.Errorf("unexpected word: %s", word)
		}
	}
	if position.FormattedGcode() == "" {
		return marlin.PartialPosition{}, 0, errors.New("no axis given")
	}
	if feedRate <= 0 {
		return marlin.PartialPosition{}, 0, errors.New("feed rate F must be given")
	}
	return position, feedRate, nil
}

// parseWorkPosition parses "X0 Y0 [Z0]".
func parseWorkPosition(args []string) (marlin.PartialPosition, error) {
	block, err := gcode.ParseBlock(strings.Join(args, " "))
	if err != nil {
		return marlin.PartialPosition{}, err
	}
	position := marlin.PartialPosition{Units: gcode.UnitsMillimeters}
	for _, letter := range []rune{'X', 'Y', 'Z'} {
		number, err := block.GetArgumentNumber(letter)
		if err != nil {
			return marlin.PartialPosition{}, err
		}
		switch letter {
		case 'X':
			position.X = number
		case 'Y':
			position.Y = number
		case 'Z':
			position.Z = number
		}
	}
	if len(block.Commands())+len(block.Arguments()) != len(position.Words()) {
		return marlin.PartialPosition{}, fmt.Errorf("unexpected words: %s", block)
	}
	return position, nil
}

// runControlCommand runs a single interactive command line.
func runControlCommand(ctx context.Context, ctrl *controller.Controller, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]
	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return errQuit
	case "jog":
		distance, feedRate, err := parseJog(args)
		if err != nil {
			return fmt.Errorf("jog: %w", err)
		}
		return ctrl.Jog(ctx, distance, feedRate)
	case "home":
		height := safetyHeight
		if len(args) > 0 {
			var err error
			height, err = strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("home: invalid safety height: %w", err)
			}
		}
		return ctrl.ReturnToHome(ctx, height)
	case "wpos":
		offsets, err := parseWorkPosition(args)
		if err != nil {
			return fmt.Errorf("wpos: %w", err)
		}
		return ctrl.SetWorkPosition(ctx, offsets)
	case "pause":
		return ctrl.Pause(ctx)
	case "resume":
		return ctrl.Resume(ctx)
	case "status":
		return ctrl.RequestStatus(ctx)
	default:
		return ctrl.SendCommand(ctx, line)
	}
}

func controlLoop(ctx context.Context, ctrl *controller.Controller, lineCh <-chan string) error {
	logger := log.MustLogger(ctx)
	for {
		select {
		case line, ok := <-lineCh:
			if !ok {
				return nil
			}
			if err := runControlCommand(ctx, ctrl, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				logger.Error("Command failed", "line", line, "err", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var ControlCmd = &cobra.Command{
	Use:   "control",
	Short: "Open Marlin serial connection and read control commands from stdin.",
	Long: `Open Marlin serial connection and read control commands from stdin, one per line:

  jog X<distance> [Y<distance>] [Z<distance>] F<feed rate> [mm|inch]
  home [safety height mm]
  wpos [X<value>] [Y<value>] [Z<value>]
  pause
  resume
  status
  quit

Any other line is sent to the firmware as is.`,
	Args: cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		ctx, _ := log.MustWithAttrs(
			cmd.Context(),
			"port-name", portName,
			"address", address,
		)
		cmd.SetContext(ctx)

		return RunController(ctx, func(ctx context.Context, _ *marlin.Communicator, ctrl *controller.Controller) error {
			return controlLoop(ctx, ctrl, readLines(ctx, os.Stdin))
		})
	}),
}

func init() {
	AddControllerFlags(ControlCmd)

	ControlCmd.Flags().Float64Var(
		&safetyHeight,
		"safety-height",
		defaultSafetyHeight,
		"Z height in millimeters to raise to before returning home",
	)

	RootCmd.AddCommand(ControlCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		safetyHeight = defaultSafetyHeight
	})
}
