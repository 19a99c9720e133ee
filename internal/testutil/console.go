//go:build !windows

// Package testutil drives interactive prompts through a virtual terminal.
package testutil

import (
	"testing"
	"time"

	"github.com/AlecAivazis/survey/v2/terminal"
	expect "github.com/Netflix/go-expect"
	pseudotty "github.com/creack/pty"
	"github.com/hinshun/vt10x"
)

// Terminal key sequences.
const (
	KeyDown  = "\x1b[B"
	KeyUp    = "\x1b[A"
	KeyEnter = "\r"
)

// Console is the user side of a virtual terminal.
type Console interface {
	ExpectString(string)
	ExpectEOF()
	SendLine(string)
	Send(string)
}

type console struct {
	c *expect.Console
	t *testing.T
}

func (w *console) ExpectString(s string) {
	w.t.Helper()
	if _, err := w.c.ExpectString(s); err != nil {
		w.t.Errorf("expected %q on the console: %v", s, err)
	}
}

func (w *console) ExpectEOF() {
	w.t.Helper()
	if _, err := w.c.ExpectEOF(); err != nil {
		w.t.Logf("ExpectEOF: %v", err)
	}
}

func (w *console) SendLine(s string) {
	w.t.Helper()
	if _, err := w.c.SendLine(s); err != nil {
		w.t.Errorf("SendLine(%q): %v", s, err)
	}
}

func (w *console) Send(s string) {
	w.t.Helper()
	if _, err := w.c.Send(s); err != nil {
		w.t.Errorf("Send(%q): %v", s, err)
	}
}

// RunPromptTest runs program against a pty rendered by vt10x while script
// plays the user. It returns program's error.
func RunPromptTest(t *testing.T, script func(Console), program func(terminal.Stdio) error) error {
	t.Helper()

	ptm, pts, err := pseudotty.Open()
	if err != nil {
		t.Fatalf("opening pty: %v", err)
	}

	term := vt10x.New(vt10x.WithWriter(pts))
	c, err := expect.NewConsole(
		expect.WithStdin(ptm),
		expect.WithStdout(term),
		expect.WithCloser(ptm, pts),
		expect.WithDefaultTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("creating console: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		script(&console{c: c, t: t})
	}()

	err = program(terminal.Stdio{In: c.Tty(), Out: c.Tty(), Err: c.Tty()})

	// Closing the tty lets the script see EOF.
	c.Tty().Close()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the console script")
	}
	return err
}
