// internal/terminal/attach.go
//go:build !windows

package terminal

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mobyterm "github.com/moby/term"
	"golang.org/x/term"

	"fleetcfg/internal/conn"
)

// AttachStdio runs an interactive shell on the session over the local
// terminal: raw mode on stdin, window-size propagation on SIGWINCH, and
// terminal-state restoration when the shell exits.
func AttachStdio(sess *conn.Session, termType string) error {
	if termType == "" {
		termType = os.Getenv("TERM")
	}

	width, height := localSize()
	bridge, err := Open(sess, Options{
		Term:   termType,
		Width:  width,
		Height: height,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	if err != nil {
		return err
	}
	defer bridge.Close()

	rawState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to set raw terminal: %v", err)
	}
	defer func() {
		if err := term.Restore(int(os.Stdin.Fd()), rawState); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to restore terminal state: %v\n", err)
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	go watchResize(bridge, stop)

	return bridge.Wait()
}

// localSize reads the controlling terminal's size, falling back to the
// classic 80x24.
func localSize() (width, height int) {
	ws, err := mobyterm.GetWinsize(os.Stdout.Fd())
	if err != nil || ws.Width == 0 || ws.Height == 0 {
		return 80, 24
	}
	return int(ws.Width), int(ws.Height)
}

func watchResize(bridge *Bridge, stop chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGWINCH)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-sigChan:
			width, height := localSize()
			if err := bridge.Resize(width, height); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
