package main

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testDocsJSON = `{
  "name": "Docs",
  "theme": "mint",
  "navigation": {
    "anchors": [
      {
        "anchor": "Guides",
        "groups": [
          {"group": "Getting Started", "pages": ["guides/intro"]}
        ]
      },
      {
        "anchor": "Changelog",
        "icon": "clock-rotate-left",
        "groups": [
          {
            "group": "June 2025",
            "pages": [
              "updates/2025/06/10/changelog",
              {"page": "updates/2025/06/03/changelog"}
            ]
          },
          {
            "group": "May 2025",
            "pages": ["updates/2025/05/20/changelog"]
          }
        ]
      }
    ]
  }
}`

func mergedGroups(t *testing.T, merged []byte) []map[string]any {
	t.Helper()

	var doc map[string]any
	if err := json.Unmarshal(merged, &doc); err != nil {
		t.Fatalf("merged output is not valid JSON: %v", err)
	}

	anchor := findChangelogAnchor(doc)
	if anchor == nil {
		t.Fatal("merged output lost the Changelog anchor")
	}

	raw, _ := anchor["groups"].([]any)
	groups := make([]map[string]any, 0, len(raw))
	for _, g := range raw {
		groups = append(groups, g.(map[string]any))
	}
	return groups
}

func TestMergeNavigationAddsNewEntry(t *testing.T) {
	merged, err := MergeNavigation([]byte(testDocsJSON), "2025", "07", "01")
	if err != nil {
		t.Fatalf("MergeNavigation() error: %v", err)
	}

	groups := mergedGroups(t, merged)

	wantGroups := []string{"July 2025", "June 2025", "May 2025"}
	var gotGroups []string
	for _, g := range groups {
		gotGroups = append(gotGroups, g["group"].(string))
	}
	if diff := cmp.Diff(wantGroups, gotGroups); diff != "" {
		t.Errorf("group order mismatch (-want +got):\n%s", diff)
	}

	julyPages := groups[0]["pages"].([]any)
	if len(julyPages) != 1 || julyPages[0] != "updates/2025/07/01/changelog" {
		t.Errorf("July pages = %v, want the new entry only", julyPages)
	}

	// Object-form pages survive as plain paths.
	junePages := groups[1]["pages"].([]any)
	want := []any{"updates/2025/06/10/changelog", "updates/2025/06/03/changelog"}
	if diff := cmp.Diff(want, junePages); diff != "" {
		t.Errorf("June pages mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeNavigationIsIdempotent(t *testing.T) {
	first, err := MergeNavigation([]byte(testDocsJSON), "2025", "06", "10")
	if err != nil {
		t.Fatalf("MergeNavigation() error: %v", err)
	}

	groups := mergedGroups(t, first)
	junePages := groups[0]["pages"].([]any)
	if len(junePages) != 2 {
		t.Errorf("re-merging an existing date duplicated it: %v", junePages)
	}

	second, err := MergeNavigation(first, "2025", "06", "10")
	if err != nil {
		t.Fatalf("second MergeNavigation() error: %v", err)
	}
	if diff := cmp.Diff(mergedGroups(t, first), mergedGroups(t, second)); diff != "" {
		t.Errorf("second merge changed the result (-first +second):\n%s", diff)
	}
}

func TestMergeNavigationPreservesUnknownFields(t *testing.T) {
	merged, err := MergeNavigation([]byte(testDocsJSON), "2025", "07", "01")
	if err != nil {
		t.Fatalf("MergeNavigation() error: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(merged, &doc); err != nil {
		t.Fatal(err)
	}

	if doc["theme"] != "mint" {
		t.Errorf("top-level theme = %v, want mint", doc["theme"])
	}

	nav := doc["navigation"].(map[string]any)
	anchors := nav["anchors"].([]any)
	guides := anchors[0].(map[string]any)
	if guides["anchor"] != "Guides" {
		t.Errorf("other anchors were reordered or dropped: %v", guides)
	}
	guidesGroups := guides["groups"].([]any)
	if len(guidesGroups) != 1 {
		t.Errorf("Guides groups were modified: %v", guidesGroups)
	}
}

func TestMergeNavigationMissingAnchor(t *testing.T) {
	noAnchor := `{"navigation": {"anchors": [{"anchor": "Guides", "groups": []}]}}`
	if _, err := MergeNavigation([]byte(noAnchor), "2025", "07", "01"); err == nil {
		t.Error("MergeNavigation() should fail when the Changelog anchor is missing")
	}
}

func TestMergeNavigationInvalidJSON(t *testing.T) {
	if _, err := MergeNavigation([]byte("not json"), "2025", "07", "01"); err == nil {
		t.Error("MergeNavigation() should fail on invalid JSON")
	}
}

func TestMergeNavigationSortsAcrossYears(t *testing.T) {
	docs := `{
  "navigation": {
    "anchors": [
      {
        "anchor": "Changelog",
        "groups": [
          {"group": "December 2024", "pages": ["updates/2024/12/31/changelog"]},
          {"group": "January 2025", "pages": ["updates/2025/01/05/changelog"]}
        ]
      }
    ]
  }
}`
	merged, err := MergeNavigation([]byte(docs), "2024", "02", "01")
	if err != nil {
		t.Fatalf("MergeNavigation() error: %v", err)
	}

	groups := mergedGroups(t, merged)
	want := []string{"January 2025", "December 2024", "February 2024"}
	var got []string
	for _, g := range groups {
		got = append(got, g["group"].(string))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cross-year order mismatch (-want +got):\n%s", diff)
	}
}
