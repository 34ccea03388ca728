package cmd

import (
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/obot-platform/atlassian-oauth/pkg/jira"
	"github.com/obot-platform/atlassian-oauth/pkg/types"
)

const maxSummaryWidth = 80

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderAuthStatus(w io.Writer, status *types.AuthStatus) {
	t := newTable(w)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("FIELD"), text.FgHiCyan.Sprint("VALUE")})

	state := text.FgGreen.Sprint("Authenticated")
	if !status.IsAuthenticated {
		state = text.FgYellow.Sprint("Not authenticated")
	}
	t.AppendRow(table.Row{"Status", state})
	t.AppendRow(table.Row{"User ID", status.UserID})
	if status.ExpiresAt != nil {
		expiry := status.ExpiresAt.UTC().Format(time.RFC3339)
		if status.IsExpired {
			expiry = text.FgRed.Sprint(expiry + " (expired)")
		}
		t.AppendRow(table.Row{"Expires", expiry})
	}
	if status.UserInfo != nil {
		t.AppendRow(table.Row{"Name", status.UserInfo.DisplayName})
		t.AppendRow(table.Row{"Email", status.UserInfo.Email})
	}
	if status.ResourceName != "" {
		t.AppendRow(table.Row{"Workspace", status.ResourceName})
	}
	if status.CloudID != "" {
		t.AppendRow(table.Row{"Cloud ID", status.CloudID})
	}
	if status.Error != "" {
		t.AppendRow(table.Row{"Reason", status.Error})
	}
	t.Render()
}

func renderIssues(w io.Writer, issues []jira.Issue) {
	if len(issues) == 0 {
		_, _ = io.WriteString(w, text.FgYellow.Sprint("No issues found")+"\n")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"KEY", "STATUS", "PRIORITY", "DUE", "ASSIGNEE", "SUMMARY"})
	for _, issue := range issues {
		due := ""
		if issue.DueDate != nil {
			due = issue.DueDate.Format(time.DateOnly)
		}
		t.AppendRow(table.Row{issue.Key, issue.Status, issue.Priority, due, issue.Assignee, truncate(issue.Summary, maxSummaryWidth)})
	}
	t.AppendFooter(table.Row{"", "", "", "", "TOTAL", len(issues)})
	t.Render()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
