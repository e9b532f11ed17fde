package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
)

// GitHubClient wraps the docs repository operations the pipeline needs:
// branch management, atomic multi-file commits, and pull requests.
type GitHubClient struct {
	client     *github.Client
	owner      string
	repo       string
	maxRetries int
}

// NewGitHubClient creates a client for the given "owner/name" repository.
func NewGitHubClient(token, repoSlug string, maxRetries int) (*GitHubClient, error) {
	owner, name, found := strings.Cut(repoSlug, "/")
	if !found || owner == "" || name == "" {
		return nil, fmt.Errorf("repository must be in owner/name format, got %q", repoSlug)
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &GitHubClient{
		client:     github.NewClient(nil).WithAuthToken(token),
		owner:      owner,
		repo:       name,
		maxRetries: maxRetries,
	}, nil
}

// DefaultBranch returns the repository's default branch name.
func (g *GitHubClient) DefaultBranch(ctx context.Context) (string, error) {
	repo, _, err := g.client.Repositories.Get(ctx, g.owner, g.repo)
	if err != nil {
		return "", fmt.Errorf("getting repository: %w", err)
	}
	return repo.GetDefaultBranch(), nil
}

// BranchHead returns the commit SHA at the tip of a branch.
func (g *GitHubClient) BranchHead(ctx context.Context, branch string) (string, error) {
	ref, _, err := g.client.Git.GetRef(ctx, g.owner, g.repo, "heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("getting ref for branch %s: %w", branch, err)
	}
	return ref.GetObject().GetSHA(), nil
}

// CreateBranch creates a new branch pointing at the given commit.
func (g *GitHubClient) CreateBranch(ctx context.Context, name, fromSHA string) error {
	_, _, err := g.client.Git.CreateRef(ctx, g.owner, g.repo, github.CreateRef{
		Ref: "refs/heads/" + name,
		SHA: fromSHA,
	})
	if err != nil {
		return fmt.Errorf("creating branch %s: %w", name, err)
	}
	return nil
}

// CommitFiles writes all files in a single commit on the given branch and
// returns the new commit SHA. Either every file lands or none does; on any
// error the branch is left untouched and the empty SHA tells the caller to
// abort before opening a PR.
func (g *GitHubClient) CommitFiles(ctx context.Context, branch string, files map[string][]byte, message, parentSHA string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("no files to commit")
	}
	log := clog.FromContext(ctx)

	parent, _, err := g.client.Git.GetCommit(ctx, g.owner, g.repo, parentSHA)
	if err != nil {
		return "", fmt.Errorf("getting parent commit: %w", err)
	}

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	entries := make([]*github.TreeEntry, 0, len(paths))
	for _, path := range paths {
		blob, _, err := g.client.Git.CreateBlob(ctx, g.owner, g.repo, github.Blob{
			Content:  github.Ptr(base64.StdEncoding.EncodeToString(files[path])),
			Encoding: github.Ptr("base64"),
		})
		if err != nil {
			return "", fmt.Errorf("creating blob for %s: %w", path, err)
		}
		entries = append(entries, &github.TreeEntry{
			Path: github.Ptr(path),
			Mode: github.Ptr("100644"),
			Type: github.Ptr("blob"),
			SHA:  blob.SHA,
		})
	}

	tree, _, err := g.client.Git.CreateTree(ctx, g.owner, g.repo, parent.GetTree().GetSHA(), entries)
	if err != nil {
		return "", fmt.Errorf("creating tree: %w", err)
	}

	commit, _, err := g.client.Git.CreateCommit(ctx, g.owner, g.repo, github.Commit{
		Message: github.Ptr(message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.Ptr(parentSHA)}},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("creating commit: %w", err)
	}

	_, _, err = g.client.Git.UpdateRef(ctx, g.owner, g.repo, "heads/"+branch, github.UpdateRef{
		SHA: commit.GetSHA(),
	})
	if err != nil {
		return "", fmt.Errorf("updating branch %s: %w", branch, err)
	}

	log.With("branch", branch, "files", len(files)).Infof("committed %s", commit.GetSHA()[:12])
	return commit.GetSHA(), nil
}

// GetFileContent fetches the decoded content of a file at the given ref.
// A missing file is reported through the error.
func (g *GitHubClient) GetFileContent(ctx context.Context, ref, path string) ([]byte, error) {
	content, _, _, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, fmt.Errorf("getting %s at %s: %w", path, ref, err)
	}
	decoded, err := content.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return []byte(decoded), nil
}

// UploadFile writes a single file on a branch. When the remote content is
// already identical the call is a no-op. Concurrent-writer 409s and SHA
// conflicts are retried a bounded number of times with a fresh SHA.
//
// The pipeline ships everything through CommitFiles in one atomic commit;
// UploadFile is the standalone single-file tool for out-of-band fixups
// (re-uploading one media file to an existing PR branch) where per-file
// history churn does not matter.
func (g *GitHubClient) UploadFile(ctx context.Context, branch, path string, data []byte, message string) error {
	log := clog.FromContext(ctx)

	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		existing, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path,
			&github.RepositoryContentGetOptions{Ref: branch})

		opts := &github.RepositoryContentFileOptions{
			Message: github.Ptr(message),
			Content: data,
			Branch:  github.Ptr(branch),
		}

		switch {
		case err == nil && existing != nil:
			remote, decodeErr := existing.GetContent()
			if decodeErr == nil && bytes.Equal([]byte(remote), data) {
				log.With("path", path).Infof("remote content unchanged, skipping upload")
				return nil
			}
			opts.SHA = existing.SHA
			_, _, err = g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, path, opts)
		case resp != nil && resp.StatusCode == http.StatusNotFound:
			_, _, err = g.client.Repositories.CreateFile(ctx, g.owner, g.repo, path, opts)
		default:
			return fmt.Errorf("getting %s on %s: %w", path, branch, err)
		}

		if err == nil {
			return nil
		}
		if !isConflict(err) || attempt == g.maxRetries {
			return fmt.Errorf("uploading %s: %w", path, err)
		}
		log.With("path", path, "attempt", attempt).Warnf("write conflict, retrying")
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
	return fmt.Errorf("uploading %s: retries exhausted", path)
}

func isConflict(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == http.StatusConflict
	}
	return false
}

// CreatePullRequest opens a PR and applies labels. Label failures are
// logged but do not fail the PR.
func (g *GitHubClient) CreatePullRequest(ctx context.Context, head, base, title, body string, draft bool, labels []string) (string, error) {
	log := clog.FromContext(ctx)

	pr, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(head),
		Base:  github.Ptr(base),
		Body:  github.Ptr(body),
		Draft: github.Ptr(draft),
	})
	if err != nil {
		return "", fmt.Errorf("creating pull request: %w", err)
	}

	if len(labels) > 0 {
		if _, _, err := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, pr.GetNumber(), labels); err != nil {
			log.With("pr", pr.GetNumber()).Warnf("adding labels: %v", err)
		}
	}

	return pr.GetHTMLURL(), nil
}

// BranchName builds a unique branch name under the configured prefix.
func BranchName(prefix string, now time.Time) string {
	return fmt.Sprintf("%s/%s", prefix, now.Format("20060102-150405"))
}

// PRBodyData feeds the pull request body template.
type PRBodyData struct {
	Date          string
	ChangelogPath string
	MediaCount    int
}

// RenderPRBody executes the configured PR body template.
func RenderPRBody(tmpl string, data PRBodyData) (string, error) {
	t, err := template.New("pr-body").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing PR body template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering PR body: %w", err)
	}
	return buf.String(), nil
}
