package jira

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type Issue struct {
	Key         string     `json:"key"`
	Summary     string     `json:"summary"`
	Status      string     `json:"status"`
	Description string     `json:"description,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Labels      []string   `json:"labels"`
	LinkedPages []string   `json:"linked_pages"`
	Priority    string     `json:"priority,omitempty"`
	Created     string     `json:"created,omitempty"`
	Updated     string     `json:"updated,omitempty"`
}

type Comment struct {
	ID      string `json:"id"`
	Self    string `json:"self"`
	Author  string `json:"author,omitempty"`
	Created string `json:"created,omitempty"`
}

type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   string `json:"to,omitempty"`
}

func parseIssue(r gjson.Result) Issue {
	fields := r.Get("fields")

	status := fields.Get("status.name").String()
	if status == "" {
		status = "Unknown"
	}

	labels := []string{}
	for _, l := range fields.Get("labels").Array() {
		labels = append(labels, l.String())
	}

	return Issue{
		Key:         r.Get("key").String(),
		Summary:     fields.Get("summary").String(),
		Status:      status,
		Description: extractDescription(fields.Get("description")),
		Assignee:    firstNonEmpty(fields.Get("assignee.displayName").String(), fields.Get("assignee.emailAddress").String()),
		DueDate:     parseDueDate(fields.Get("duedate").String()),
		Labels:      labels,
		LinkedPages: []string{},
		Priority:    fields.Get("priority.name").String(),
		Created:     fields.Get("created").String(),
		Updated:     fields.Get("updated").String(),
	}
}

// extractDescription flattens an Atlassian Document Format value into its
// text nodes joined by spaces. Plain strings are returned unchanged.
func extractDescription(desc gjson.Result) string {
	switch {
	case !desc.Exists():
		return ""
	case desc.Type == gjson.String:
		return desc.String()
	case !desc.IsObject():
		return ""
	}

	var parts []string
	var walk func(node gjson.Result)
	walk = func(node gjson.Result) {
		if node.IsArray() {
			for _, child := range node.Array() {
				walk(child)
			}
			return
		}
		if !node.IsObject() {
			return
		}
		if text := node.Get("text"); text.Exists() {
			parts = append(parts, text.String())
		}
		if content := node.Get("content"); content.Exists() {
			walk(content)
		}
	}
	walk(desc.Get("content"))
	return strings.Join(parts, " ")
}

func parseDueDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// confluenceLinks returns the URLs of remote links that point at Confluence.
func confluenceLinks(links gjson.Result) []string {
	var pages []string
	for _, l := range links.Array() {
		u := l.Get("object.url").String()
		if u == "" {
			continue
		}
		if strings.Contains(l.Get("application.type").String(), "confluence") || strings.Contains(u, "/wiki/") {
			pages = append(pages, u)
		}
	}
	return pages
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
