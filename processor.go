package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
)

// RunOptions tune a single pipeline run.
type RunOptions struct {
	DaysBack        int
	IgnoreProcessed bool
	StripEmojis     bool
	Draft           bool
	DryRun          bool
	Channel         string
}

// ChangelogProcessor orchestrates one end-to-end run: fetch messages,
// download media, draft, format, review, commit, open a PR, and mark the
// source messages processed.
type ChangelogProcessor struct {
	slack      *SlackClient
	github     *GitHubClient
	agents     *AgentManager
	downloader *Downloader
	docs       *DocSearcher
	config     *Config
	opts       RunOptions
	now        func() time.Time
}

// NewChangelogProcessor wires a processor from credentials and settings.
func NewChangelogProcessor(creds *Credentials, config *Config, opts RunOptions) (*ChangelogProcessor, error) {
	gh, err := NewGitHubClient(creds.GitHubToken, creds.GitHubRepo, config.Settings.GitHub.MaxRetries)
	if err != nil {
		return nil, err
	}
	am, err := NewAgentManager(creds.AnthropicAPIKey, config)
	if err != nil {
		return nil, err
	}

	return &ChangelogProcessor{
		slack: NewSlackClient(creds.SlackToken, config.Settings.ProcessedEmoji),
		github: gh,
		agents: am,
		downloader: NewDownloader(creds.SlackToken, config.Settings.Changelog.MediaDir,
			config.Settings.Download.MaxWorkers, config.Settings.Download.MaxFileSize),
		docs:   NewDocSearcher(creds.DocsSearchURL),
		config: config,
		opts:   opts,
		now:    time.Now,
	}, nil
}

// Run executes the pipeline once and reports the outcome. An empty fetch
// window is a skip, not an error.
func (p *ChangelogProcessor) Run(ctx context.Context) ProcessingResult {
	log := clog.FromContext(ctx)

	date := p.now().Format(dateLayout)
	result := ProcessingResult{Date: date}

	changelog := ChangelogFile{Dir: p.config.Settings.Changelog.LocalDir, Date: date}
	if err := changelog.Cleanup(); err != nil {
		return p.fail(result, fmt.Errorf("cleaning up stale files: %w", err))
	}

	channelID := p.opts.Channel
	if channelID == "" {
		channelID = p.config.Settings.ChannelID
	}

	to := p.now()
	from := to.AddDate(0, 0, -p.opts.DaysBack)
	fetched, err := p.slack.FetchMessages(ctx, channelID, from, to, FetchOptions{
		IgnoreProcessed: p.opts.IgnoreProcessed,
		StripEmojis:     p.opts.StripEmojis,
	})
	if err != nil {
		return p.fail(result, fmt.Errorf("fetching messages: %w", err))
	}
	if len(fetched.Messages) == 0 {
		log.Infof("no unprocessed messages in window, nothing to do")
		result.Status = StatusSkipped
		return result
	}

	p.downloadMedia(ctx, date, fetched)

	content, err := p.generate(ctx, date, fetched)
	if err != nil {
		return p.fail(result, err)
	}

	if err := changelog.Write(content); err != nil {
		return p.fail(result, fmt.Errorf("writing local changelog: %w", err))
	}
	log.With("path", changelog.Path()).Infof("wrote local changelog")

	missing := p.missingMedia(content, date)
	if len(missing) > 0 {
		return p.fail(result, fmt.Errorf("changelog references media that did not download: %s", strings.Join(missing, ", ")))
	}

	if p.opts.DryRun {
		log.Infof("dry run, skipping publish")
		result.Status = StatusSuccess
		return result
	}

	prURL, branch, err := p.publish(ctx, date, content, changelog)
	if err != nil {
		return p.fail(result, err)
	}
	result.Branch = branch
	result.PRURL = prURL

	p.markProcessed(ctx, channelID, content)

	result.Status = StatusSuccess
	return result
}

// downloadMedia fetches all attachments for the window in one bounded pool
// and maps the results back onto each message by stable filename.
func (p *ChangelogProcessor) downloadMedia(ctx context.Context, date string, fetched *FetchResult) {
	var all []Attachment
	for _, msg := range fetched.Messages {
		all = append(all, msg.Files...)
		for _, reply := range msg.Replies {
			all = append(all, reply.Files...)
		}
	}
	if len(all) == 0 {
		return
	}

	byName := make(map[string]MediaFile)
	for _, mf := range p.downloader.DownloadAll(ctx, date, all) {
		byName[mf.Filename] = mf
	}

	for i := range fetched.Messages {
		msg := &fetched.Messages[i]
		for _, att := range msg.Files {
			if mf, ok := byName[UniqueFilename(att.Name, att.ID, att.URL)]; ok {
				msg.Media = append(msg.Media, mf)
			}
		}
		for _, reply := range msg.Replies {
			for _, att := range reply.Files {
				if mf, ok := byName[UniqueFilename(att.Name, att.ID, att.URL)]; ok {
					msg.Media = append(msg.Media, mf)
				}
			}
		}
	}
}

// generate runs the agent stages and the deterministic post-processing.
func (p *ChangelogProcessor) generate(ctx context.Context, date string, fetched *FetchResult) (string, error) {
	log := clog.FromContext(ctx)

	docContext := ""
	if p.docs.Enabled() {
		queries := make([]string, 0, len(fetched.Messages))
		for _, msg := range fetched.Messages {
			if line, _, _ := strings.Cut(msg.Text, "\n"); line != "" {
				queries = append(queries, line)
			}
		}
		docContext = p.docs.ContextFor(ctx, queries)
	}

	log.Infof("drafting changelog")
	draft, err := p.agents.Draft(fetched, docContext)
	if err != nil {
		return "", err
	}

	log.Infof("formatting changelog")
	formatted, err := p.agents.Format(draft, date)
	if err != nil {
		return "", err
	}

	marker, body := SplitTimestampMarker(formatted)
	body, err = AddFrontmatter(body, date)
	if err != nil {
		return "", err
	}
	body = RewriteMediaPaths(body, date)
	content := marker + "\n" + body

	log.Infof("reviewing changelog")
	reviewed, err := p.agents.Review(content)
	if err != nil {
		return "", err
	}
	return reviewed, nil
}

// missingMedia returns referenced media filenames with no downloaded file
// on disk. Publishing a changelog with broken media links is worse than
// failing the run.
func (p *ChangelogProcessor) missingMedia(content, date string) []string {
	var missing []string
	for _, name := range ReferencedMedia(content, date) {
		path := filepath.Join(p.config.Settings.Changelog.MediaDir, date, name)
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// publish creates a branch, commits the changelog, media, and navigation
// index atomically, and opens a pull request.
func (p *ChangelogProcessor) publish(ctx context.Context, date, content string, changelog ChangelogFile) (prURL, branch string, err error) {
	log := clog.FromContext(ctx)
	settings := p.config.Settings

	base, err := p.github.DefaultBranch(ctx)
	if err != nil {
		return "", "", fmt.Errorf("resolving default branch: %w", err)
	}
	baseSHA, err := p.github.BranchHead(ctx, base)
	if err != nil {
		return "", "", fmt.Errorf("resolving base head: %w", err)
	}

	branch = BranchName(settings.GitHub.BranchPrefix, p.now())
	if err := p.github.CreateBranch(ctx, branch, baseSHA); err != nil {
		return "", "", err
	}

	files := map[string][]byte{
		changelog.RemotePath(settings.Changelog.RemotePath): []byte(content),
	}

	mediaDir := filepath.Join(settings.Changelog.MediaDir, date)
	for _, name := range ReferencedMedia(content, date) {
		data, err := os.ReadFile(filepath.Join(mediaDir, name))
		if err != nil {
			return "", "", fmt.Errorf("reading media file %s: %w", name, err)
		}
		files[settings.Changelog.RemoteMediaDir+"/"+date+"/"+name] = data
	}

	// The navigation index is best effort. A merge failure leaves the
	// changelog publishable and the index fixable by hand.
	if merged := p.mergedNavigation(ctx, base, date); merged != nil {
		files[settings.DocsJSONPath] = merged
	}

	sha, err := p.github.CommitFiles(ctx, branch, files, "Add changelog for "+date, baseSHA)
	if err != nil {
		return "", "", fmt.Errorf("committing changelog: %w", err)
	}
	if sha == "" {
		return "", "", fmt.Errorf("commit produced no SHA, aborting before pull request")
	}

	body, err := RenderPRBody(p.config.GetPRBodyTemplate(), PRBodyData{
		Date:          date,
		ChangelogPath: changelog.RemotePath(settings.Changelog.RemotePath),
		MediaCount:    len(ReferencedMedia(content, date)),
	})
	if err != nil {
		return "", "", err
	}

	prURL, err = p.github.CreatePullRequest(ctx, branch, base, "Changelog "+date, body, p.opts.Draft, settings.GitHub.Labels)
	if err != nil {
		return "", "", err
	}
	log.With("pr", prURL).Infof("opened pull request")
	return prURL, branch, nil
}

func (p *ChangelogProcessor) mergedNavigation(ctx context.Context, base, date string) []byte {
	log := clog.FromContext(ctx)

	docsJSON, err := p.github.GetFileContent(ctx, base, p.config.Settings.DocsJSONPath)
	if err != nil {
		log.Warnf("fetching navigation index: %v", err)
		return nil
	}

	parts := strings.SplitN(date, "-", 3)
	merged, err := MergeNavigation(docsJSON, parts[0], parts[1], parts[2])
	if err != nil {
		log.Warnf("merging navigation index: %v", err)
		return nil
	}
	return merged
}

// markProcessed reacts to every message recorded in the final changelog's
// timestamp marker. Failures are logged per message so one bad timestamp
// does not strand the rest.
func (p *ChangelogProcessor) markProcessed(ctx context.Context, channelID, content string) {
	log := clog.FromContext(ctx)

	timestamps := ParseTimestampMarker(content)
	if timestamps == nil {
		log.Warnf("no timestamp marker in final changelog, cannot mark messages processed")
		return
	}
	for _, ts := range timestamps {
		if err := p.slack.MarkProcessed(ctx, channelID, ts); err != nil {
			log.With("ts", ts).Warnf("marking processed: %v", err)
		}
	}
}

func (p *ChangelogProcessor) fail(result ProcessingResult, err error) ProcessingResult {
	result.Status = StatusError
	result.Error = err.Error()
	return result
}
