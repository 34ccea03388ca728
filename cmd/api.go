package cmd

import (
	"fmt"
	"os"

	"github.com/obot-platform/atlassian-oauth/pkg/confluence"
	"github.com/obot-platform/atlassian-oauth/pkg/jira"
	"github.com/spf13/cobra"
)

type Issues struct {
	root *RootCmd

	JQL      string `name:"jql" usage:"Raw JQL; overrides --assignee and --status"`
	Assignee string `name:"assignee" usage:"Assignee filter" default:"currentUser()"`
	Status   string `name:"status" usage:"Status filter"`
	Max      int    `name:"max" usage:"Maximum number of issues" default:"50"`
}

func (s *Issues) Customize(cobraCmd *cobra.Command) {
	cobraCmd.Use = "issues"
	cobraCmd.Short = "List Jira issues for the authenticated user"
}

func (s *Issues) Run(cobraCmd *cobra.Command, args []string) error {
	ctx := cobraCmd.Context()
	a, err := s.root.open()
	if err != nil {
		return err
	}
	defer a.Close()

	api := a.apiClient()
	cloud, err := cloudID(ctx, api)
	if err != nil {
		return err
	}

	issues, err := jira.New(api, cloud, a.logger).SearchIssuesPaginated(ctx, jira.IssueFilter{
		JQL:      s.JQL,
		Assignee: s.Assignee,
		Status:   s.Status,
	}.BuildJQL(), s.Max, jira.MaxPageSize)
	if err != nil {
		return err
	}
	renderIssues(os.Stdout, issues)
	return nil
}

type Page struct {
	root *RootCmd

	ID     string `name:"id" usage:"Confluence page id"`
	Space  string `name:"space" usage:"Space key, used with --title"`
	Title  string `name:"title" usage:"Exact page title, used with --space"`
	Format string `name:"format" usage:"Body format: storage, atlas_doc_format or view" default:"storage"`
}

func (s *Page) Customize(cobraCmd *cobra.Command) {
	cobraCmd.Use = "page"
	cobraCmd.Short = "Print a Confluence page by id or by space and title"
}

func (s *Page) Run(cobraCmd *cobra.Command, args []string) error {
	if s.ID == "" && (s.Space == "" || s.Title == "") {
		return fmt.Errorf("either --id or both --space and --title are required")
	}

	ctx := cobraCmd.Context()
	a, err := s.root.open()
	if err != nil {
		return err
	}
	defer a.Close()

	api := a.apiClient()
	cloud, err := cloudID(ctx, api)
	if err != nil {
		return err
	}

	client := confluence.New(api, cloud, a.logger)
	var page *confluence.Page
	if s.ID != "" {
		page, err = client.GetPage(ctx, s.ID, s.Format, true)
	} else {
		page, err = client.GetPageByTitle(ctx, s.Space, s.Title, s.Format)
	}
	if err != nil {
		return err
	}
	if page == nil {
		return fmt.Errorf("no page titled %q in space %s", s.Title, s.Space)
	}

	fmt.Printf("%s (id %s, version %d)\n", page.Title, page.ID, page.Version)
	if page.WebURL != "" {
		fmt.Println(page.WebURL)
	}
	fmt.Printf("\n%s\n", page.Body)
	return nil
}
