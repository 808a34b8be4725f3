package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

// Screen layout: logo on rows 1-10, dashboard on row 11, logs scroll from row 13.
const (
	dashboardRow = 11
	logTopRow    = 13
	questionCols = 40
)

var spinner = []string{"◜", "◝", "◞", "◟"}

// termMu serializes every terminal write so a log line can never land in
// the middle of the dashboard's cursor save/restore sequence.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type termWriter struct{}

func (termWriter) Write(p []byte) (int, error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns a writer for log.SetOutput that shares the dashboard lock.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

func PrintBanner() {
	fmt.Print("\033[2J\033[H")

	logo := `
   ____                        ____  _ __      __
  / __ \__  _____  _______  __/ __ \(_) /___  / /_
 / / / / / / / _ \/ ___/ / / / /_/ / / / __ \/ __/
/ /_/ / /_/ /  __/ /  / /_/ / ____/ / / /_/ / /_
\___\_\__,_/\___/_/   \__, /_/   /_/_/\____/\__/
                     /____/
        >> DEPENDENT MULTI-STEP QUERY ENGINE <<
`
	width := termWidth()
	for _, l := range strings.Split(logo, "\n") {
		pad := clamp((width-runewidth.StringWidth(l))/2, 0, width)
		fmt.Printf("%s%s%s%s\n", strings.Repeat(" ", pad), colorNeonCyan, l, colorReset)
	}
}

// InitializeTerminal confines scrolling to the log area below the dashboard.
func InitializeTerminal() {
	fmt.Printf("\033[%d;r", logTopRow)
	fmt.Printf("\033[%d;1H", logTopRow)
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// statusLine renders one dashboard row: heartbeat health, role with
// attempt or step progress, the question, session outcomes and uptime.
func statusLine(s StatusSnapshot, now time.Time, frame int) string {
	health, healthColor := "OFFLINE", colorNeonMag
	switch since := now.Sub(s.LastHeartbeat); {
	case since < 40*time.Second:
		health, healthColor = "HEALTHY", colorNeonCyan
	case since < 90*time.Second:
		health, healthColor = "LAGGING", colorPurple
	}

	roleColor, spin := colorReset, " "
	if s.Role != RoleIdle {
		roleColor = colorNeonCyan
		if s.Role == RoleExecuting {
			roleColor = colorNeonMag
		}
		spin = spinner[frame%len(spinner)]
	}

	role := string(s.Role)
	if p := s.Progress(); p != "" {
		role += " " + p
	}

	question := s.Question
	if question == "" {
		question = "Waiting for a question..."
	}
	question = runewidth.Truncate(question, questionCols, "...")

	return fmt.Sprintf("[%s] %s%s%s | %s%s %-20s%s | %s | answered %d, gave up %d | up %v",
		s.LastHeartbeat.Format("15:04:05"),
		healthColor, health, colorReset,
		roleColor, spin, role, colorReset,
		question,
		s.Answered, s.Exhausted,
		now.Sub(startTime).Round(time.Second),
	)
}

var frameIdx int

// PrintLiveStatus redraws the dashboard row in place.
func PrintLiveStatus() {
	line := statusLine(Snapshot(), time.Now(), frameIdx)
	frameIdx++

	termMu.Lock()
	fmt.Printf("\033[s\033[%d;1H\033[K%s\033[u", dashboardRow, line)
	termMu.Unlock()
}

// IsInteractive reports whether stdout is a terminal. The dashboard and
// banner are only drawn when it is.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Rule returns a horizontal separator as wide as the terminal, capped at 100 columns.
func Rule() string {
	return strings.Repeat("─", clamp(termWidth(), 20, 100))
}
