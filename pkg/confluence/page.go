package confluence

import "github.com/tidwall/gjson"

type Page struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Status         string `json:"status"`
	SpaceKey       string `json:"space_key,omitempty"`
	SpaceName      string `json:"space_name,omitempty"`
	Body           string `json:"body_content,omitempty"`
	Version        int    `json:"version,omitempty"`
	LastModified   string `json:"last_modified,omitempty"`
	LastModifiedBy string `json:"last_modified_by,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	WebURL         string `json:"web_url,omitempty"`
}

type SearchResult struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Type         string `json:"type"`
	SpaceKey     string `json:"space_key,omitempty"`
	SpaceName    string `json:"space_name,omitempty"`
	Excerpt      string `json:"excerpt,omitempty"`
	URL          string `json:"url,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// SearchPage is one page of CQL search results.
type SearchPage struct {
	Results    []SearchResult
	TotalSize  int
	NextCursor string
}

func parsePage(r gjson.Result, includeVersion bool) Page {
	p := Page{
		ID:        r.Get("id").String(),
		Title:     r.Get("title").String(),
		Status:    r.Get("status").String(),
		CreatedAt: r.Get("createdAt").String(),
	}
	if p.Status == "" {
		p.Status = "current"
	}

	space := r.Get("spaceId")
	if !space.Exists() || space.Type == gjson.Null {
		space = r.Get("_expandable.space")
	}
	if space.IsObject() {
		p.SpaceKey = space.Get("key").String()
		p.SpaceName = space.Get("name").String()
	} else if space.Exists() && space.Type != gjson.Null {
		p.SpaceKey = space.String()
	}

	if storage := r.Get("body.storage.value"); storage.Exists() {
		p.Body = storage.String()
	} else {
		p.Body = r.Get("body.view.value").String()
	}

	if includeVersion {
		p.Version = int(r.Get("version.number").Int())
		p.LastModified = r.Get("version.when").String()
		p.LastModifiedBy = r.Get("version.by.displayName").String()
		if p.LastModifiedBy == "" {
			p.LastModifiedBy = r.Get("version.by.email").String()
		}
	}

	p.WebURL = r.Get("_links.webui").String()
	if p.WebURL == "" {
		p.WebURL = r.Get("_links.base").String()
	}
	return p
}

func parseSearchResult(r gjson.Result) SearchResult {
	content := r.Get("content")
	if !content.Exists() {
		content = r
	}

	res := SearchResult{
		ID:        content.Get("id").String(),
		Title:     content.Get("title").String(),
		Type:      content.Get("type").String(),
		SpaceKey:  content.Get("space.key").String(),
		SpaceName: content.Get("space.name").String(),
		Excerpt:   r.Get("excerpt").String(),
		URL:       r.Get("url").String(),
	}
	if res.Type == "" {
		res.Type = "page"
	}
	if res.URL == "" {
		res.URL = content.Get("_links.webui").String()
	}
	res.LastModified = content.Get("lastModified").String()
	if res.LastModified == "" {
		res.LastModified = content.Get("version.when").String()
	}
	return res
}
