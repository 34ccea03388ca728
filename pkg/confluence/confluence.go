// Package confluence wraps the Confluence Cloud REST APIs.
package confluence

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/obot-platform/atlassian-oauth/pkg/apiclient"
	"github.com/obot-platform/atlassian-oauth/pkg/logging"
)

const (
	DefaultBodyFormat = "storage"
	DefaultLimit      = 25
	maxLimit          = 250
)

// Client is bound to one Confluence site.
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
		baseURL: api.ConfluenceBaseURL(cloudID),
		logger:  logging.OrDiscard(logger).With("cloud_id", cloudID),
	}
}

// GetPage fetches a page with its body in bodyFormat.
func (c *Client) GetPage(ctx context.Context, id, bodyFormat string, includeVersion bool) (*Page, error) {
	if bodyFormat == "" {
		bodyFormat = DefaultBodyFormat
	}
	resp, err := c.api.Get(ctx, c.pageURL(id), apiclient.WithQuery(url.Values{"body-format": {bodyFormat}}))
	if err != nil {
		return nil, err
	}
	page := parsePage(resp.JSON(), includeVersion)
	c.logger.Info("retrieved page", "id", id, "title", page.Title)
	return &page, nil
}

// GetPageByTitle finds a page by exact title in a space. It returns nil
// without error when there is no such page.
func (c *Client) GetPageByTitle(ctx context.Context, spaceKey, title, bodyFormat string) (*Page, error) {
	cql := fmt.Sprintf(`space = "%s" AND title = "%s"`, escapeCQL(spaceKey), escapeCQL(title))
	results, err := c.SearchPages(ctx, cql, 1, "")
	if err != nil {
		return nil, err
	}
	if len(results.Results) == 0 {
		c.logger.Warn("page not found", "space", spaceKey, "title", title)
		return nil, nil
	}
	return c.GetPage(ctx, results.Results[0].ID, bodyFormat, true)
}

// SearchPages runs one CQL search request. Pass the previous NextCursor to
// continue a search.
func (c *Client) SearchPages(ctx context.Context, cql string, limit int, cursor string) (*SearchPage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	q := url.Values{
		"cql":   {cql},
		"limit": {strconv.Itoa(min(limit, maxLimit))},
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	resp, err := c.api.Get(ctx, c.baseURL+"/wiki/rest/api/search", apiclient.WithQuery(q))
	if err != nil {
		return nil, err
	}

	out := &SearchPage{
		Results:    []SearchResult{},
		TotalSize:  int(resp.Get("totalSize").Int()),
		NextCursor: nextCursor(resp.Get("_links.next").String()),
	}
	for _, r := range resp.Get("results").Array() {
		out.Results = append(out.Results, parseSearchResult(r))
	}
	c.logger.Info("searched pages", "count", len(out.Results), "total", out.TotalSize)
	return out, nil
}

// SearchPagesPaginated follows search cursors until maxResults results are
// collected, a page comes back short, or there is no next cursor.
func (c *Client) SearchPagesPaginated(ctx context.Context, cql string, maxResults, pageSize int) ([]SearchResult, error) {
	pageSize = min(pageSize, maxLimit)
	if pageSize <= 0 {
		pageSize = DefaultLimit
	}

	var all []SearchResult
	cursor := ""
	for len(all) < maxResults {
		batchSize := min(pageSize, maxResults-len(all))
		batch, err := c.SearchPages(ctx, cql, batchSize, cursor)
		if err != nil {
			return nil, err
		}
		if len(batch.Results) == 0 {
			break
		}
		all = append(all, batch.Results...)
		if len(batch.Results) < batchSize || batch.NextCursor == "" {
			break
		}
		cursor = batch.NextCursor
	}
	return all, nil
}

// GetPageContent returns only the body value of a page.
func (c *Client) GetPageContent(ctx context.Context, id, format string) (string, error) {
	if format == "" {
		format = DefaultBodyFormat
	}
	resp, err := c.api.Get(ctx, c.pageURL(id)+"/body/"+url.PathEscape(format))
	if err != nil {
		return "", err
	}
	return resp.Get("value").String(), nil
}

// GetPageChildren lists the direct children of a page.
func (c *Client) GetPageChildren(ctx context.Context, id string, limit int) ([]Page, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	resp, err := c.api.Get(ctx, c.pageURL(id)+"/children", apiclient.WithQuery(url.Values{"limit": {strconv.Itoa(min(limit, maxLimit))}}))
	if err != nil {
		return nil, err
	}
	children := []Page{}
	for _, r := range resp.Get("results").Array() {
		children = append(children, parsePage(r, false))
	}
	return children, nil
}

func (c *Client) pageURL(id string) string {
	return c.baseURL + "/wiki/api/v2/pages/" + url.PathEscape(id)
}

func escapeCQL(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// nextCursor extracts the cursor parameter from a _links.next URL.
func nextCursor(next string) string {
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil {
		return ""
	}
	return u.Query().Get("cursor")
}
