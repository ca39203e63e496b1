package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/fornellas/mgs/controller"
	"github.com/fornellas/mgs/marlin"
)

var StreamCmd = &cobra.Command{
	Use:   "stream [path]",
	Short: "Stream a G-Code program to Marlin.",
	Long:  "Stream a G-Code program to Marlin, one command at a time. Type pause or resume on stdin to pause and resume the program.",
	Args:  cobra.ExactArgs(1),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		path := args[0]
		ctx, logger := log.MustWithAttrs(
			cmd.Context(),
			"port-name", portName,
			"address", address,
			"path", path,
		)
		cmd.SetContext(ctx)

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, file.Close()) }()

		return RunController(ctx, func(ctx context.Context, communicator *marlin.Communicator, ctrl *controller.Controller) error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			lineCh := readLines(ctx, os.Stdin)
			go func() {
				for line := range lineCh {
					var err error
					switch strings.ToLower(strings.TrimSpace(line)) {
					case "pause":
						err = ctrl.Pause(ctx)
					case "resume":
						err = ctrl.Resume(ctx)
					case "":
					default:
						err = fmt.Errorf("unknown command: %#v", line)
					}
					if err != nil {
						logger.Error("Command failed", "err", err)
					}
				}
			}()

			return communicator.StreamProgram(ctx, marlin.NewCommandCreator().CreateCommand, file)
		})
	}),
}

func init() {
	AddControllerFlags(StreamCmd)

	RootCmd.AddCommand(StreamCmd)
}
