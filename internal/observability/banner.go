package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[92m"
	colorYellow = "\033[93m"
	colorRed    = "\033[91m"
	colorCyan   = "\033[96m"
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

var spinnerIdx atomic.Uint32

func nextSpinnerFrame() string {
	return spinnerFrames[int((spinnerIdx.Add(1)-1)%uint32(len(spinnerFrames)))]
}

// termMu serializes terminal writes so the status line and log output never
// interleave mid-sequence.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// IsInteractive reports whether stdout is attached to a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type termWriter struct {
	out io.Writer
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.out.Write(p)
}

// NewTermWriter returns a writer for log.SetOutput that shares the
// terminal lock with PrintLiveStatus.
func NewTermWriter() io.Writer {
	return termWriter{out: os.Stderr}
}

func PrintBanner() {
	banner := `
  _   _    _    _   _ ____  _____ ____  _____ _____
 | | | |  / \  | \ | |  _ \|  ___|  _ \| ____| ____|
 | |_| | / _ \ |  \| | | | | |_  | |_) |  _| |  _|
 |  _  |/ ___ \| |\  | |_| |  _| |  _ <| |___| |___
 |_| |_/_/   \_\_| \_|____/|_|   |_| \_\_____|_____|

          >> speak it, plan it, guard it, do it <<
`
	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s%s\n", strings.Repeat(" ", padding), colorCyan, l, colorReset)
	}
}

// PrintLiveStatus redraws a single status line in place.
func PrintLiveStatus() {
	role, task, lastHB := GetStatus()
	completed, aborted := GetCounts()

	roleColor := colorGreen
	switch role {
	case RoleResolving:
		roleColor = colorYellow
	case RoleExecuting:
		roleColor = colorRed
	}

	spin := " "
	if role != RoleIdle {
		spin = nextSpinnerFrame()
	}

	displayTask := task
	if displayTask == "" {
		displayTask = "waiting for a command"
	}
	if len(displayTask) > 32 {
		displayTask = displayTask[:29] + "..."
	}

	line := fmt.Sprintf("\r\033[K[%s] %s%-9s%s %s %-32s | ok:%d aborted:%d | up %v",
		lastHB.Format("15:04:05"),
		roleColor, role, colorReset,
		spin, displayTask,
		completed, aborted,
		time.Since(startTime).Round(time.Second),
	)

	termMu.Lock()
	fmt.Print(line)
	termMu.Unlock()
}
