// Package jira wraps the Jira Cloud platform REST API v3.
package jira

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/obot-platform/atlassian-oauth/pkg/apiclient"
	"github.com/obot-platform/atlassian-oauth/pkg/apierrors"
	"github.com/obot-platform/atlassian-oauth/pkg/logging"
	"github.com/obot-platform/atlassian-oauth/pkg/types"
)

const (
	DefaultMaxResults = 50
	MaxPageSize       = 100
)

// DefaultFields are requested by searches when no fields are given.
var DefaultFields = []string{"summary", "status", "description", "assignee", "duedate", "labels", "priority", "created", "updated", "comment"}

// Client is bound to one Jira site.
type Client struct {
	api     *apiclient.Client
	cloudID string
	baseURL string
	logger  *slog.Logger
}

func New(api *apiclient.Client, cloudID string, logger *slog.Logger) *Client {
	return &Client{
		api:     api,
		cloudID: cloudID,
		baseURL: api.JiraBaseURL(cloudID),
		logger:  logging.OrDiscard(logger).With("cloud_id", cloudID),
	}
}

// IssueFilter builds a JQL query when JQL is empty.
type IssueFilter struct {
	JQL        string
	Assignee   string
	Status     string
	MaxResults int
	StartAt    int
}

// BuildJQL returns the query for the filter.
func (f IssueFilter) BuildJQL() string {
	if f.JQL != "" {
		return f.JQL
	}

	var parts []string
	if f.Assignee != "" {
		if f.Assignee == "currentUser()" {
			parts = append(parts, "assignee = currentUser()")
		} else {
			parts = append(parts, fmt.Sprintf("assignee = %q", f.Assignee))
		}
	}
	if f.Status != "" {
		parts = append(parts, fmt.Sprintf("status = %q", f.Status))
	}
	if len(parts) == 0 {
		return "ORDER BY updated DESC"
	}
	return strings.Join(parts, " AND ") + " ORDER BY updated DESC"
}

// GetIssues fetches issues matching the filter.
func (c *Client) GetIssues(ctx context.Context, f IssueFilter) ([]Issue, error) {
	maxResults := f.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	jql := f.BuildJQL()
	c.logger.Info("fetching issues", "jql", jql)
	return c.SearchIssues(ctx, jql, maxResults, f.StartAt, nil)
}

// SearchIssues runs a JQL search. Nil fields selects DefaultFields.
func (c *Client) SearchIssues(ctx context.Context, jql string, maxResults, startAt int, fields []string) ([]Issue, error) {
	if fields == nil {
		fields = DefaultFields
	}
	resp, err := c.api.Get(ctx, c.baseURL+"/rest/api/3/search/jql", apiclient.WithQuery(url.Values{
		"jql":        {jql},
		"maxResults": {strconv.Itoa(maxResults)},
		"startAt":    {strconv.Itoa(startAt)},
		"fields":     {strings.Join(fields, ",")},
	}))
	if err != nil {
		return nil, err
	}

	raw := resp.Get("issues").Array()
	issues := make([]Issue, 0, len(raw))
	for _, r := range raw {
		issues = append(issues, parseIssue(r))
	}
	c.logger.Info("retrieved issues", "count", len(issues), "total", resp.Get("total").Int())
	return issues, nil
}

// SearchIssuesPaginated pages through a search until maxResults issues are
// collected or the results run out.
func (c *Client) SearchIssuesPaginated(ctx context.Context, jql string, maxResults, pageSize int) ([]Issue, error) {
	pageSize = min(pageSize, MaxPageSize)
	if pageSize <= 0 {
		pageSize = DefaultMaxResults
	}

	var all []Issue
	startAt := 0
	for len(all) < maxResults {
		batchSize := min(pageSize, maxResults-len(all))
		batch, err := c.SearchIssues(ctx, jql, batchSize, startAt, nil)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		startAt += len(batch)
		if len(batch) < batchSize {
			break
		}
		c.logger.Debug("fetched issues so far", "count", len(all))
	}
	return all, nil
}

// GetIssue fetches one issue with its links and any Confluence pages
// attached as remote links.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	fields := append(append([]string{}, DefaultFields...), "issuelinks")
	resp, err := c.api.Get(ctx, c.issueURL(key), apiclient.WithQuery(url.Values{"fields": {strings.Join(fields, ",")}}))
	if err != nil {
		return nil, err
	}
	issue := parseIssue(resp.JSON())

	links, err := c.api.Get(ctx, c.issueURL(key)+"/remotelink")
	if err != nil {
		c.logger.Warn("failed to load remote links", "issue", key, "error", err)
		return &issue, nil
	}
	issue.LinkedPages = append(issue.LinkedPages, confluenceLinks(links.JSON())...)
	return &issue, nil
}

// GetCurrentUser returns the profile of the token owner.
func (c *Client) GetCurrentUser(ctx context.Context) (*types.UserInfo, error) {
	resp, err := c.api.Get(ctx, c.baseURL+"/rest/api/3/myself")
	if err != nil {
		return nil, err
	}
	active := resp.Get("active")
	return &types.UserInfo{
		AccountID:   resp.Get("accountId").String(),
		Email:       resp.Get("emailAddress").String(),
		DisplayName: resp.Get("displayName").String(),
		AvatarURL:   resp.Get("avatarUrls.48x48").String(),
		Active:      !active.Exists() || active.Bool(),
		TimeZone:    resp.Get("timeZone").String(),
	}, nil
}

// GetAccessibleResources lists the sites the token can reach.
func (c *Client) GetAccessibleResources(ctx context.Context) ([]types.Resource, error) {
	resp, err := c.api.Get(ctx, c.api.AccessibleResourcesURL())
	if err != nil {
		return nil, err
	}
	var resources []types.Resource
	if err := resp.Decode(&resources); err != nil {
		return nil, apierrors.Wrap(apierrors.KindAPI, err, "Invalid accessible resources response")
	}
	return resources, nil
}

// UpdateIssue sets the given fields on an issue.
func (c *Client) UpdateIssue(ctx context.Context, key string, fields map[string]any) error {
	c.logger.Info("updating issue", "key", key, "fields", len(fields))
	_, err := c.api.Put(ctx, c.issueURL(key), apiclient.WithJSONBody(map[string]any{"fields": fields}))
	return err
}

// AddComment posts a plain text comment.
func (c *Client) AddComment(ctx context.Context, key, text string) (*Comment, error) {
	body := map[string]any{
		"body": map[string]any{
			"type":    "doc",
			"version": 1,
			"content": []any{
				map[string]any{
					"type":    "paragraph",
					"content": []any{map[string]any{"type": "text", "text": text}},
				},
			},
		},
	}
	resp, err := c.api.Post(ctx, c.issueURL(key)+"/comment", apiclient.WithJSONBody(body))
	if err != nil {
		return nil, err
	}
	return &Comment{
		ID:      resp.Get("id").String(),
		Self:    resp.Get("self").String(),
		Author:  firstNonEmpty(resp.Get("author.displayName").String(), resp.Get("author.emailAddress").String()),
		Created: resp.Get("created").String(),
	}, nil
}

// GetTransitions lists the workflow transitions available on an issue.
func (c *Client) GetTransitions(ctx context.Context, key string) ([]Transition, error) {
	resp, err := c.api.Get(ctx, c.issueURL(key)+"/transitions")
	if err != nil {
		return nil, err
	}
	var transitions []Transition
	for _, t := range resp.Get("transitions").Array() {
		transitions = append(transitions, Transition{
			ID:   t.Get("id").String(),
			Name: t.Get("name").String(),
			To:   t.Get("to.name").String(),
		})
	}
	return transitions, nil
}

// TransitionIssue moves an issue through a transition, optionally setting fields.
func (c *Client) TransitionIssue(ctx context.Context, key, transitionID string, fields map[string]any) error {
	payload := map[string]any{"transition": map[string]string{"id": transitionID}}
	if len(fields) > 0 {
		payload["fields"] = fields
	}
	c.logger.Info("transitioning issue", "key", key, "transition_id", transitionID)
	_, err := c.api.Post(ctx, c.issueURL(key)+"/transitions", apiclient.WithJSONBody(payload))
	return err
}

func (c *Client) issueURL(key string) string {
	return c.baseURL + "/rest/api/3/issue/" + url.PathEscape(key)
}
