package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// timestampMarker is the machine-readable first line of a changelog file,
// recording which source messages produced it so a re-run can mark them
// processed and skip them next time.
var timestampMarkerPattern = regexp.MustCompile(`^<!--\s*slack_timestamps:\s*([^>]*?)\s*-->`)

// FormatTimestampMarker renders the idempotency marker line.
func FormatTimestampMarker(timestamps []string) string {
	return fmt.Sprintf("<!-- slack_timestamps: %s -->", strings.Join(timestamps, ","))
}

// ParseTimestampMarker extracts message timestamps from a changelog's first
// line. Returns nil when the marker is absent.
func ParseTimestampMarker(content string) []string {
	firstLine, _, _ := strings.Cut(strings.TrimLeft(content, "\n"), "\n")
	m := timestampMarkerPattern.FindStringSubmatch(strings.TrimSpace(firstLine))
	if m == nil {
		return nil
	}

	var timestamps []string
	for _, ts := range strings.Split(m[1], ",") {
		if ts = strings.TrimSpace(ts); ts != "" {
			timestamps = append(timestamps, ts)
		}
	}
	return timestamps
}

// SplitTimestampMarker separates the marker line from the document body so
// formatting stages cannot lose it. The marker is re-attached verbatim.
func SplitTimestampMarker(content string) (marker, body string) {
	trimmed := strings.TrimLeft(content, "\n")
	firstLine, rest, found := strings.Cut(trimmed, "\n")
	if timestampMarkerPattern.MatchString(strings.TrimSpace(firstLine)) {
		if !found {
			return strings.TrimSpace(firstLine), ""
		}
		return strings.TrimSpace(firstLine), strings.TrimLeft(rest, "\n")
	}
	return "", content
}

// AddFrontmatter prepends the documentation frontmatter for a dated
// changelog. The date must be YYYY-MM-DD.
func AddFrontmatter(content, date string) (string, error) {
	parsed, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", fmt.Errorf("date must be in format YYYY-MM-DD: %w", err)
	}

	frontmatter := fmt.Sprintf(`---
title: %s
description: 2 min read
---

import { AuthorCard } from '/snippets/author-card.mdx';

<AuthorCard/>

`, parsed.Format("January 2, 2006"))

	return frontmatter + strings.TrimSpace(content) + "\n", nil
}

// RewriteMediaPaths converts local media references to the documentation
// site's CDN path layout. Rewriting is deterministic tooling, not an agent
// instruction, so a formatting miss cannot ship broken paths.
//
//	./media/2025-01-15/f.png -> /images/changelog/2025-01-15/f.png
func RewriteMediaPaths(content, date string) string {
	local := regexp.MustCompile(`(?:\./)?media/` + regexp.QuoteMeta(date) + `/`)
	return local.ReplaceAllString(content, "/images/changelog/"+date+"/")
}

// ReferencedMedia lists the filenames the document cites under the rewritten
// media path for the given date.
func ReferencedMedia(content, date string) []string {
	pattern := regexp.MustCompile(`/images/changelog/` + regexp.QuoteMeta(date) + `/([^"\s)]+)`)

	seen := make(map[string]bool)
	var filenames []string
	for _, m := range pattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			filenames = append(filenames, m[1])
		}
	}
	return filenames
}

// ChangelogFile is the local per-date staging file for one run.
type ChangelogFile struct {
	Dir  string
	Date string
}

// Path returns the local path of the changelog file.
func (c ChangelogFile) Path() string {
	return filepath.Join(c.Dir, c.Date+".md")
}

// RemotePath returns the destination path inside the docs repository.
func (c ChangelogFile) RemotePath(layout string) string {
	parts := strings.SplitN(c.Date, "-", 3)
	return fmt.Sprintf(layout, parts[0], parts[1], parts[2])
}

// Cleanup removes a stale same-day changelog and stray draft files so each
// run starts fresh.
func (c ChangelogFile) Cleanup() error {
	stale := []string{c.Path()}
	for _, draft := range []string{"draft_changelog.md", "changelog_draft.md", "draft.md"} {
		stale = append(stale, filepath.Join(c.Dir, draft))
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale file %s: %w", path, err)
		}
	}
	return nil
}

// Write persists the changelog content, creating the directory as needed.
func (c ChangelogFile) Write(content string) error {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return fmt.Errorf("creating changelog directory: %w", err)
	}
	return os.WriteFile(c.Path(), []byte(content), 0644)
}
