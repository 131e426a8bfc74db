package app

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/stacklok/toolhive-jobwatch/internal/connection"
	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
	"github.com/stacklok/toolhive-jobwatch/internal/notify"
	"github.com/stacklok/toolhive-jobwatch/internal/stream"
)

const timestampLayout = "15:04:05"

var (
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	boldStyle  = lipgloss.NewStyle().Bold(true)

	classStyles = map[jobs.Class]lipgloss.Style{
		jobs.ClassQueued:         lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		jobs.ClassRunning:        lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		jobs.ClassSuccess:        lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		jobs.ClassPartialSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		jobs.ClassFailure:        lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		jobs.ClassAborted:        lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Strikethrough(true),
	}

	levelStyles = map[jobs.Level]lipgloss.Style{
		jobs.LevelDebug: mutedStyle,
		jobs.LevelInfo:  lipgloss.NewStyle(),
		jobs.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		jobs.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}

	connectionStyles = map[connection.Status]lipgloss.Style{
		connection.StatusConnecting:   mutedStyle,
		connection.StatusConnected:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		connection.StatusReconnecting: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		connection.StatusDisconnected: mutedStyle,
	}
)

// renderStatus styles a status by its display class
func renderStatus(s jobs.Status) string {
	style, ok := classStyles[jobs.Classify(s)]
	if !ok {
		style = mutedStyle
	}
	return style.Render(string(s))
}

// formatEntry renders one log line
func formatEntry(e jobs.LogEntry) string {
	style, ok := levelStyles[e.Level]
	if !ok {
		style = lipgloss.NewStyle()
	}
	return fmt.Sprintf("%s %s %s",
		mutedStyle.Render(e.Timestamp.Local().Format(timestampLayout)),
		style.Render(fmt.Sprintf("%-5s", e.Level)),
		e.Message)
}

// formatEvent renders a notification
func formatEvent(e notify.Event) string {
	jobType := e.JobType
	if jobType == "" {
		jobType = "job"
	}
	return fmt.Sprintf("%s %s %s", boldStyle.Render(jobType), e.ShortID, renderStatus(e.Outcome))
}

// formatView renders the resolved status line of a tailed job
func formatView(v stream.View, conn connection.Status) string {
	line := fmt.Sprintf("%s %d%%", renderStatus(v.Status), v.Progress)
	if v.Message != "" {
		line += " " + v.Message
	}
	style, ok := connectionStyles[conn]
	if !ok {
		style = mutedStyle
	}
	return line + " " + style.Render("["+string(conn)+"]")
}

// renderJobs writes the job list as a table
func renderJobs(w io.Writer, list []jobs.Job) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Type", "Status", "Progress", "Created", "Message")

	for _, j := range list {
		message := j.StatusMessage
		if j.Error != "" {
			message = j.Error
		}
		if err := table.Append(
			j.ShortID(),
			j.Type,
			renderStatus(j.Status),
			strconv.Itoa(j.Progress)+"%",
			formatCreated(j.CreatedAt),
			message,
		); err != nil {
			return fmt.Errorf("failed to add row for job %s: %w", j.ID, err)
		}
	}

	return table.Render()
}

func formatCreated(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
