package host

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type startCall struct {
	name string
	args []string
}

func recordingLauncher(stripExe bool, err error) (*ExecLauncher, *[]startCall) {
	var calls []startCall
	l := NewExecLauncher(stripExe)
	l.Start = func(name string, args ...string) error {
		calls = append(calls, startCall{name, args})
		return err
	}
	return l, &calls
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com"))
	assert.True(t, IsURL("  HTTP://example.com"))
	assert.False(t, IsURL("notepad.exe"))
	assert.False(t, IsURL("ftp://example.com"))
}

func TestExecLauncher(t *testing.T) {
	ctx := context.Background()

	l, calls := recordingLauncher(true, nil)
	require.NoError(t, l.Launch(ctx, "gedit.EXE", "notes.txt --new-window"))
	require.NoError(t, l.Launch(ctx, "https://www.google.com/search?q=go", ""))

	want := []startCall{
		{"gedit", []string{"notes.txt", "--new-window"}},
		{"xdg-open", []string{"https://www.google.com/search?q=go"}},
	}
	assert.Equal(t, want, *calls)

	keep, calls := recordingLauncher(false, nil)
	require.NoError(t, keep.Launch(ctx, "calc.exe", ""))
	assert.Equal(t, "calc.exe", (*calls)[0].name)
}

func TestExecLauncher_Errors(t *testing.T) {
	ctx := context.Background()

	missing, _ := recordingLauncher(true, &exec.Error{Name: "calc", Err: exec.ErrNotFound})
	err := missing.Launch(ctx, "calc.exe", "")
	assert.ErrorIs(t, err, ErrUnavailable)

	broken, _ := recordingLauncher(true, errors.New("permission denied"))
	err = broken.Launch(ctx, "calc.exe", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	l, calls := recordingLauncher(true, nil)
	assert.Error(t, l.Launch(ctx, "  ", ""))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, l.Launch(canceled, "calc.exe", ""), context.Canceled)
	assert.Empty(t, *calls)
}

func TestKeyName(t *testing.T) {
	assert.Equal(t, "Return", KeyName("enter"))
	assert.Equal(t, "Page_Down", KeyName("PAGEDOWN"))
	assert.Equal(t, "ctrl+s", KeyName("ctrl+s"))
}

func TestXdotool(t *testing.T) {
	var got [][]string
	x := NewXdotool()
	x.Run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		got = append(got, append([]string{name}, args...))
		return nil, nil
	}
	ctx := context.Background()

	require.NoError(t, x.TypeText(ctx, "-hello"))
	require.NoError(t, x.PressKey(ctx, "ESC"))
	require.NoError(t, x.PressKey(ctx, "--window"))
	require.NoError(t, x.MoveMouse(ctx, 10, 20))
	require.NoError(t, x.Click(ctx))
	assert.Error(t, x.PressKey(ctx, " "))

	want := [][]string{
		{"xdotool", "type", "--", "-hello"},
		{"xdotool", "key", "--", "Escape"},
		{"xdotool", "key", "--", "--window"},
		{"xdotool", "mousemove", "10", "20"},
		{"xdotool", "click", "1"},
	}
	assert.Equal(t, want, got)
}

func TestXdotool_Errors(t *testing.T) {
	x := NewXdotool()
	x.Run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, fmt.Errorf("exec: %w", exec.ErrNotFound)
	}
	assert.ErrorIs(t, x.Click(context.Background()), ErrUnavailable)

	x.Run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("Can't open display\n"), errors.New("exit status 1")
	}
	err := x.TypeText(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can't open display")
}

func TestXdotool_ActiveWindowTitle(t *testing.T) {
	x := NewXdotool()
	var got []string
	x.Run = func(_ context.Context, _ string, args ...string) ([]byte, error) {
		got = args
		return []byte("Untitled - Notepad\n"), nil
	}
	title, err := x.ActiveWindowTitle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Untitled - Notepad", title)
	assert.Equal(t, []string{"getactivewindow", "getwindowname"}, got)

	x.Run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, fmt.Errorf("exec: %w", exec.ErrNotFound)
	}
	_, err = x.ActiveWindowTitle(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

type fakeLauncher struct{ targets []string }

func (f *fakeLauncher) Launch(_ context.Context, target, _ string) error {
	f.targets = append(f.targets, target)
	return nil
}

func TestBrowserLauncher_DelegatesNonURLs(t *testing.T) {
	fallback := &fakeLauncher{}
	b := NewBrowserLauncher(fallback)
	require.NoError(t, b.Launch(context.Background(), "notepad.exe", ""))
	assert.Equal(t, []string{"notepad.exe"}, fallback.targets)

	bare := NewBrowserLauncher(nil)
	assert.ErrorIs(t, bare.Launch(context.Background(), "notepad.exe", ""), ErrUnavailable)

	_, err := bare.PageHTML(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	bare.Close()
}
