// internal/terminal/attach_windows.go
//go:build windows

package terminal

import (
	"fmt"
	"os"
	"time"

	mobyterm "github.com/moby/term"
	"golang.org/x/term"

	"fleetcfg/internal/conn"
)

// AttachStdio runs an interactive shell on the session over the local
// terminal. Windows has no SIGWINCH, so the window size is polled.
func AttachStdio(sess *conn.Session, termType string) error {
	if termType == "" {
		termType = "xterm-256color"
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
	go pollResize(bridge, stop)

	return bridge.Wait()
}

func localSize() (width, height int) {
	ws, err := mobyterm.GetWinsize(os.Stdout.Fd())
	if err != nil || ws.Width == 0 || ws.Height == 0 {
		return 80, 24
	}
	return int(ws.Width), int(ws.Height)
}

func pollResize(bridge *Bridge, stop chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			width, height := localSize()
			if err := bridge.Resize(width, height); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
