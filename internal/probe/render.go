package probe

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

type styles struct {
	title lipgloss.Style
	ok    lipgloss.Style
	fail  lipgloss.Style
	hint  lipgloss.Style
}

func newStyles(w io.Writer, color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{title: plain, ok: plain, fail: plain, hint: plain}
	}
	r := lipgloss.NewRenderer(w)
	return styles{
		title: r.NewStyle().Bold(true),
		ok:    r.NewStyle().Foreground(lipgloss.Color("42")),
		fail:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		hint:  r.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// ColorEnabled reports whether f is a terminal and NO_COLOR is unset.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Render writes the operator-facing report.
func Render(w io.Writer, report Report, color bool) error {
	st := newStyles(w, color)
	var b strings.Builder
	line := func(style lipgloss.Style, format string, args ...any) {
		b.WriteString(style.Render(fmt.Sprintf(format, args...)))
		b.WriteByte('\n')
	}

	line(st.title, "qbridge probe %s:%d", report.Host, report.Port)
	if report.PortOpen {
		line(st.ok, "✅ Port %d is listening", report.Port)
	} else {
		line(st.fail, "❌ Nothing is listening on port %d", report.Port)
		line(st.hint, "   start it with: qnetctl start")
	}

	if report.HTTPReachable {
		line(st.ok, "✅ /status answered online")
	} else if report.PortOpen {
		line(st.fail, "❌ /status did not answer online")
		if detail := checkDetail(report, "http"); detail != "" {
			line(st.hint, "   %s", detail)
		}
		line(st.hint, "   check the bridge log, then restart it with: qnetctl restart")
	}

	if report.OK() {
		line(st.title, "Open from this computer or any device on the same network:")
		for _, u := range report.URLs {
			line(st.ok, "   %s", u)
		}
		line(st.hint, "   other devices can't connect? open the port with: qnetctl firewall allow")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func checkDetail(report Report, name string) string {
	for _, c := range report.Checks {
		if c.Name == name {
			return c.Detail
		}
	}
	return ""
}
