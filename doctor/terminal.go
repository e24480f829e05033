package doctor

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"agribot/shutdown"
)

// guardTerminal snapshots the stdin terminal mode and, until stop is
// called, answers a termination signal by restoring it and exiting.
// The device picker and the TUI both switch the terminal to raw mode.
func guardTerminal(out io.Writer) (stop func()) {
	fd := int(os.Stdin.Fd())
	var restore func()
	if term.IsTerminal(fd) {
		if state, err := term.GetState(fd); err == nil {
			restore = func() { term.Restore(fd, state) }
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	shutdown.OnSignal(ctx, interruptHandler(restore, out, os.Exit))
	return cancel
}

func interruptHandler(restore func(), out io.Writer, exit func(int)) func(os.Signal) {
	return func(sig os.Signal) {
		if restore != nil {
			restore()
		}
		fmt.Fprintf(out, "\nInterrupted (%v)\n", sig)
		exit(1)
	}
}
