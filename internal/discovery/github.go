package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"reviewherd/internal/httputil"
)

// Client fetches work items from the GitHub REST API.
type Client struct {
	BaseURL string
	Token   string
	Retry   httputil.RetryConfig
}

// NewClient returns a Client against baseURL (e.g. https://api.github.com).
// An empty token means unauthenticated requests.
func NewClient(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, Token: token, Retry: httputil.DefaultRetryConfig()}
}

const perPage = 100

// maxPages bounds pagination per endpoint so a pathological repository
// cannot pin discovery forever.
const maxPages = 20

// DiscoverWorkItems lists the owner's repositories (or the explicit filter
// set), skips archived and forked repositories, and flattens open issues
// and pull requests into WorkItems. Empty results are success; a failing
// repository is logged and skipped so one outage cannot abort discovery.
func (c *Client) DiscoverWorkItems(ctx context.Context, owner string, repoFilter []string) ([]WorkItem, error) {
	repos, err := c.listRepos(ctx, owner, repoFilter)
	if err != nil {
		return nil, err
	}

	var items []WorkItem
	for _, repo := range repos {
		issues, err := c.listIssues(ctx, repo)
		if err != nil {
			slog.Warn("discovery: listing issues failed, skipping repo", "repo", repo, "err", err)
			continue
		}
		prs, err := c.listPulls(ctx, repo)
		if err != nil {
			slog.Warn("discovery: listing pulls failed, skipping repo prs", "repo", repo, "err", err)
		}
		items = append(items, issues...)
		items = append(items, prs...)
	}
	slog.Info("discovery complete", "repos", len(repos), "items", len(items))
	return items, nil
}

type githubRepo struct {
	FullName string `json:"full_name"`
	Archived bool   `json:"archived"`
	Fork     bool   `json:"fork"`
}

func (c *Client) listRepos(ctx context.Context, owner string, repoFilter []string) ([]string, error) {
	if len(repoFilter) > 0 {
		return repoFilter, nil
	}
	var repos []string
	path := fmt.Sprintf("/users/%s/repos?%s", url.PathEscape(owner),
		url.Values{"per_page": {fmt.Sprint(perPage)}, "sort": {"updated"}}.Encode())
	err := c.paginate(ctx, path, func(body io.Reader) (int, error) {
		var page []githubRepo
		if err := json.NewDecoder(body).Decode(&page); err != nil {
			return 0, err
		}
		for _, r := range page {
			if r.Archived || r.Fork {
				continue
			}
			repos = append(repos, r.FullName)
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list repos for %s: %w", owner, err)
	}
	return repos, nil
}

type githubIssue struct {
	Number      int           `json:"number"`
	Title       string        `json:"title"`
	Labels      []githubLabel `json:"labels"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Draft       bool          `json:"draft"`
	PullRequest *struct{}     `json:"pull_request,omitempty"`
}

type githubLabel struct {
	Name string `json:"name"`
}

func (c *Client) listIssues(ctx context.Context, repo string) ([]WorkItem, error) {
	return c.listItems(ctx, repo, "issues", KindIssue)
}

func (c *Client) listPulls(ctx context.Context, repo string) ([]WorkItem, error) {
	return c.listItems(ctx, repo, "pulls", KindPR)
}

func (c *Client) listItems(ctx context.Context, repo, endpoint string, kind Kind) ([]WorkItem, error) {
	var items []WorkItem
	path := fmt.Sprintf("/repos/%s/%s?%s", repo, endpoint,
		url.Values{"state": {"open"}, "per_page": {fmt.Sprint(perPage)}}.Encode())
	err := c.paginate(ctx, path, func(body io.Reader) (int, error) {
		var page []githubIssue
		if err := json.NewDecoder(body).Decode(&page); err != nil {
			return 0, err
		}
		for _, raw := range page {
			// The issues endpoint interleaves PRs; those arrive via /pulls.
			if kind == KindIssue && raw.PullRequest != nil {
				continue
			}
			labels := make([]string, 0, len(raw.Labels))
			for _, l := range raw.Labels {
				labels = append(labels, l.Name)
			}
			items = append(items, WorkItem{
				Repo:      repo,
				Kind:      kind,
				Number:    raw.Number,
				Title:     raw.Title,
				Labels:    labels,
				CreatedAt: raw.CreatedAt,
				UpdatedAt: raw.UpdatedAt,
				Draft:     raw.Draft,
			})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

var nextLinkRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// paginate walks Link headers starting from path until the handler reports
// an empty page or no next link remains.
func (c *Client) paginate(ctx context.Context, path string, handle func(io.Reader) (int, error)) error {
	next := c.BaseURL + path
	for page := 0; page < maxPages && next != ""; page++ {
		currentURL := next
		resp, err := httputil.Do(ctx, func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, "GET", currentURL, nil)
			if err != nil {
				return nil, err
			}
			if c.Token != "" {
				req.Header.Set("Authorization", "Bearer "+c.Token)
			}
			req.Header.Set("Accept", "application/vnd.github+json")
			return req, nil
		}, c.Retry)
		if err != nil {
			return err
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return fmt.Errorf("github API %d: %s", resp.StatusCode, string(body))
		}

		n, err := handle(resp.Body)
		link := resp.Header.Get("Link")
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode page: %w", err)
		}
		if n == 0 {
			break
		}
		next = parseNextURL(link)
	}
	return nil
}

func parseNextURL(link string) string {
	m := nextLinkRe.FindStringSubmatch(link)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
