package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fornellas/mgs/marlin"
)

type OutputValue struct {
	path string
}

func NewOutputValue() *OutputValue {
	return &OutputValue{}
}

func (o *OutputValue) String() string {
	if len(o.path) > 0 {
		return o.path
	}
	return "(STDOUT)"
}

func (o *OutputValue) Set(value string) error {
	o.path = value
	return nil
}

func (o *OutputValue) Reset() {
	o.path = ""
}

func (o *OutputValue) Type() string {
	return "[path]"
}

func (o *OutputValue) WriterCloser() (io.WriteCloser, error) {
	if len(o.path) > 0 {
		return os.OpenFile(o.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(0644))
	}
	return nopCloser{os.Stdout}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

var outputValue = NewOutputValue()

func AddOutputFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().VarP(outputValue, "output", "o", "Path to write status snapshots to as JSON lines, default is to stdout")
}

type statusSource interface {
	Subscribe(name string, size int) <-chan *marlin.StatusSnapshot
	Unsubscribe(name string)
}

// writeStatus writes every snapshot from source as a JSON line until ctx is done.
func writeStatus(ctx context.Context, source statusSource) (err error) {
	w, err := outputValue.WriterCloser()
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, w.Close()) }()

	name := "output-" + uuid.NewString()
	ch := source.Subscribe(name, 1)
	defer source.Unsubscribe(name)

	encoder := json.NewEncoder(w)
	for {
		select {
		case snapshot, ok := <-ch:
			if !ok {
				return nil
			}
			if err := encoder.Encode(snapshot); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func init() {
	resetFlagsFns = append(resetFlagsFns, func() {
		outputValue.Reset()
	})
}
