package ui

import (
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/muesli/ansi"
)

func TestListNavigation(t *testing.T) {
	s := spinner.New()
	l := NewList(&s)
	if l.Selected() != nil {
		t.Fatal("empty list has a selection")
	}

	l.Add(&Item{Key: "run:a"})
	l.Add(&Item{Key: "run:b"})
	if again := l.Add(&Item{Key: "run:a", Command: "other"}); again.Command != "" {
		t.Error("Add replaced an existing item")
	}
	if l.NumItems() != 2 {
		t.Fatalf("NumItems = %d, want 2", l.NumItems())
	}

	l.Up()
	if l.Selected().Key != "run:a" {
		t.Errorf("Up at the top moved the selection to %s", l.Selected().Key)
	}
	l.Down()
	l.Down()
	if l.Selected().Key != "run:b" {
		t.Errorf("selection = %s, want run:b", l.Selected().Key)
	}
	if l.Find("run:c") != nil {
		t.Error("Find returned an unknown key")
	}
}

func TestListRendersState(t *testing.T) {
	s := spinner.New()
	l := NewList(&s)
	l.SetSize(40, 20)
	l.Add(&Item{Key: "run:build", Command: "make", State: Failed, ExitCode: 2})

	out := strip(l.String())
	for _, want := range []string{"Processes", "run:build", failedIcon, "exit 2: make"} {
		if !strings.Contains(out, strings.TrimSpace(want)) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestErrBoxFitsWidth(t *testing.T) {
	e := NewErrBox()
	e.SetSize(20, 1)
	e.SetError(errors.New(strings.Repeat("boom ", 20)))
	if w := ansi.PrintableRuneWidth(e.String()); w > 20 {
		t.Errorf("error line is %d wide, want at most 20", w)
	}

	e.SetInfo("saved")
	if !strings.Contains(e.String(), "saved") {
		t.Error("info message not shown")
	}
	e.Clear()
	if strings.TrimSpace(strip(e.String())) != "" {
		t.Error("cleared box is not empty")
	}
}
