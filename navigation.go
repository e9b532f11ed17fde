package main

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"
)

const (
	changelogAnchorName = "Changelog"
	changelogIcon       = "clock-rotate-left"
)

var changelogPagePattern = regexp.MustCompile(`^updates/(\d{4})/(\d{2})/(\d{2})/changelog$`)

type changelogEntry struct {
	Year  string
	Month string
	Day   string
	Path  string
}

// MergeNavigation merges a new changelog date into the docs.json navigation
// index. The changelog anchor's groups are always fully regenerated from the
// union of the entries already present plus the new one: dedupe by path, sort
// strictly descending by (year, month, day), group by month. Everything else
// in the document is left alone.
func MergeNavigation(docsJSON []byte, year, month, day string) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(docsJSON, &doc); err != nil {
		return nil, fmt.Errorf("parsing docs.json: %w", err)
	}

	anchor := findChangelogAnchor(doc)
	if anchor == nil {
		return nil, fmt.Errorf("docs.json has no %q anchor", changelogAnchorName)
	}

	entries := collectEntries(anchor)
	entries = append(entries, changelogEntry{
		Year:  year,
		Month: month,
		Day:   day,
		Path:  fmt.Sprintf("updates/%s/%s/%s/changelog", year, month, day),
	})
	entries = dedupeByPath(entries)
	sortDescending(entries)

	anchor["icon"] = changelogIcon
	anchor["description"] = "Latest updates and changes"
	anchor["groups"] = groupByMonth(entries)

	return json.MarshalIndent(doc, "", "  ")
}

func findChangelogAnchor(doc map[string]any) map[string]any {
	nav, _ := doc["navigation"].(map[string]any)
	anchors, _ := nav["anchors"].([]any)
	for _, a := range anchors {
		anchor, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if anchor["anchor"] == changelogAnchorName {
			return anchor
		}
	}
	return nil
}

// collectEntries extracts the dated changelog pages already in the anchor.
// Pages may be plain path strings or objects with a "page" key.
func collectEntries(anchor map[string]any) []changelogEntry {
	var entries []changelogEntry
	groups, _ := anchor["groups"].([]any)
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		pages, _ := group["pages"].([]any)
		for _, p := range pages {
			var path string
			switch v := p.(type) {
			case string:
				path = v
			case map[string]any:
				path, _ = v["page"].(string)
			default:
				continue
			}

			m := changelogPagePattern.FindStringSubmatch(path)
			if m == nil {
				continue
			}
			entries = append(entries, changelogEntry{Year: m[1], Month: m[2], Day: m[3], Path: path})
		}
	}
	return entries
}

func dedupeByPath(entries []changelogEntry) []changelogEntry {
	seen := make(map[string]bool, len(entries))
	unique := entries[:0]
	for _, e := range entries {
		if seen[e.Path] {
			continue
		}
		seen[e.Path] = true
		unique = append(unique, e)
	}
	return unique
}

func sortDescending(entries []changelogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Year != entries[j].Year {
			return entries[i].Year > entries[j].Year
		}
		if entries[i].Month != entries[j].Month {
			return entries[i].Month > entries[j].Month
		}
		return entries[i].Day > entries[j].Day
	})
}

// groupByMonth buckets sorted entries into "January 2006" groups, preserving
// the descending order.
func groupByMonth(entries []changelogEntry) []any {
	var groups []any
	var current map[string]any
	currentKey := ""

	for _, e := range entries {
		key := monthLabel(e.Year, e.Month)
		if key != currentKey {
			current = map[string]any{"group": key, "pages": []any{}}
			groups = append(groups, current)
			currentKey = key
		}
		current["pages"] = append(current["pages"].([]any), e.Path)
	}

	return groups
}

func monthLabel(year, month string) string {
	t, err := time.Parse("2006-01", year+"-"+month)
	if err != nil {
		return month + " " + year
	}
	return t.Format("January 2006")
}
