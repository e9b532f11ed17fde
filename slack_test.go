package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slack-go/slack"
)

func newTestSlackClient(t *testing.T, handler http.Handler) *SlackClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewSlackClient("test-token", "white_check_mark", slack.OptionAPIURL(server.URL+"/"))
}

func testWindow() (time.Time, time.Time) {
	to := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	return to.AddDate(0, 0, -14), to
}

func TestFetchMessagesRequiresChannel(t *testing.T) {
	s := NewSlackClient("tok", "white_check_mark")
	from, to := testWindow()
	if _, err := s.FetchMessages(context.Background(), "", from, to, FetchOptions{}); err == nil {
		t.Error("FetchMessages() should fail without a channel ID")
	}
}

func TestFetchMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		// Newest first, as the API returns them.
		fmt.Fprint(w, `{"ok": true, "has_more": false, "messages": [
			{"type": "message", "ts": "1718100000.000200", "user": "U2", "text": "Second release :tada:",
			 "files": [{"id": "F1", "name": "shot.png", "url_private_download": "https://files.example.com/shot.png", "mimetype": "image/png", "size": 1234}]},
			{"type": "message", "ts": "1718000000.000100", "user": "U1", "text": "First release",
			 "reactions": [{"name": "eyes", "count": 2}]}
		]}`)
	})
	mux.HandleFunc("/chat.getPermalink", func(w http.ResponseWriter, r *http.Request) {
		ts := r.FormValue("message_ts")
		fmt.Fprintf(w, `{"ok": true, "permalink": "https://example.slack.com/archives/C123/p%s"}`, ts)
	})

	s := newTestSlackClient(t, mux)
	from, to := testWindow()

	result, err := s.FetchMessages(context.Background(), "C123", from, to, FetchOptions{})
	if err != nil {
		t.Fatalf("FetchMessages() error: %v", err)
	}

	if len(result.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(result.Messages))
	}

	// Oldest first after the fetch.
	if result.Messages[0].Timestamp != "1718000000.000100" {
		t.Errorf("first message ts = %s, want the oldest", result.Messages[0].Timestamp)
	}
	if len(result.Fetched) != 2 || result.Fetched[0] != "1718000000.000100" {
		t.Errorf("Fetched = %v, want timestamps oldest first", result.Fetched)
	}

	second := result.Messages[1]
	if second.Permalink == "" {
		t.Error("permalink was not resolved")
	}
	if len(second.Files) != 1 {
		t.Fatalf("got %d attachments, want 1", len(second.Files))
	}
	att := second.Files[0]
	if att.ID != "F1" || att.Name != "shot.png" || att.Mimetype != "image/png" {
		t.Errorf("attachment = %+v", att)
	}
	if second.State != StateUnprocessed {
		t.Errorf("state = %v, want StateUnprocessed", second.State)
	}
}

func TestFetchMessagesSkipsProcessed(t *testing.T) {
	history := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "has_more": false, "messages": [
			{"type": "message", "ts": "2.0", "user": "U1", "text": "new",
			 "reactions": [{"name": "eyes", "count": 1}]},
			{"type": "message", "ts": "1.0", "user": "U1", "text": "published",
			 "reactions": [{"name": "white_check_mark", "count": 1}]}
		]}`)
	}
	permalink := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "permalink": "https://example.slack.com/p"}`)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", history)
	mux.HandleFunc("/chat.getPermalink", permalink)

	s := newTestSlackClient(t, mux)
	from, to := testWindow()

	result, err := s.FetchMessages(context.Background(), "C123", from, to, FetchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Messages) != 1 || result.Messages[0].Timestamp != "2.0" {
		t.Errorf("messages = %+v, want only the unprocessed one", result.Messages)
	}

	// The same window with IgnoreProcessed keeps both.
	mux2 := http.NewServeMux()
	mux2.HandleFunc("/conversations.history", history)
	mux2.HandleFunc("/chat.getPermalink", permalink)
	s2 := newTestSlackClient(t, mux2)

	result, err = s2.FetchMessages(context.Background(), "C123", from, to, FetchOptions{IgnoreProcessed: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Messages) != 2 {
		t.Errorf("got %d messages with IgnoreProcessed, want 2", len(result.Messages))
	}
	if result.Messages[0].State != StateProcessed {
		t.Errorf("oldest message state = %v, want StateProcessed", result.Messages[0].State)
	}
}

func TestFetchMessagesResolvesThreads(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "has_more": false, "messages": [
			{"type": "message", "ts": "1.0", "thread_ts": "1.0", "reply_count": 2, "user": "U1", "text": "parent"}
		]}`)
	})
	mux.HandleFunc("/conversations.replies", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "has_more": false, "messages": [
			{"type": "message", "ts": "1.0", "thread_ts": "1.0", "user": "U1", "text": "parent"},
			{"type": "message", "ts": "1.1", "thread_ts": "1.0", "user": "U2", "text": "reply one"},
			{"type": "message", "ts": "1.2", "thread_ts": "1.0", "user": "U3", "text": "reply two"}
		]}`)
	})
	mux.HandleFunc("/chat.getPermalink", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "permalink": "https://example.slack.com/p"}`)
	})

	s := newTestSlackClient(t, mux)
	from, to := testWindow()

	result, err := s.FetchMessages(context.Background(), "C123", from, to, FetchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(result.Messages))
	}

	replies := result.Messages[0].Replies
	if len(replies) != 2 {
		t.Fatalf("got %d replies, want 2 (parent must be excluded)", len(replies))
	}
	if replies[0].Text != "reply one" || replies[1].Text != "reply two" {
		t.Errorf("replies = %+v", replies)
	}
}

func TestFetchMessagesSkipsThreadRepliesInHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		// A reply that leaked into channel history via also_send_to_channel.
		fmt.Fprint(w, `{"ok": true, "has_more": false, "messages": [
			{"type": "message", "ts": "5.5", "thread_ts": "5.0", "user": "U2", "text": "broadcast reply"},
			{"type": "message", "ts": "4.0", "user": "U1", "text": "regular"}
		]}`)
	})
	mux.HandleFunc("/chat.getPermalink", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "permalink": "https://example.slack.com/p"}`)
	})

	s := newTestSlackClient(t, mux)
	from, to := testWindow()

	result, err := s.FetchMessages(context.Background(), "C123", from, to, FetchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Messages) != 1 || result.Messages[0].Timestamp != "4.0" {
		t.Errorf("messages = %+v, want only the top-level message", result.Messages)
	}
}

func TestFetchMessagesStripEmojis(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "has_more": false, "messages": [
			{"type": "message", "ts": "1.0", "user": "U1", "text": ":rocket: Shipped :tada:"}
		]}`)
	})
	mux.HandleFunc("/chat.getPermalink", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "permalink": "https://example.slack.com/p"}`)
	})

	s := newTestSlackClient(t, mux)
	from, to := testWindow()

	result, err := s.FetchMessages(context.Background(), "C123", from, to, FetchOptions{StripEmojis: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := result.Messages[0].Text; got != "Shipped" {
		t.Errorf("text = %q, want %q", got, "Shipped")
	}
}

func TestFetchMessagesEmptyWindow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true, "has_more": false, "messages": []}`)
	})

	s := newTestSlackClient(t, mux)
	from, to := testWindow()

	result, err := s.FetchMessages(context.Background(), "C123", from, to, FetchOptions{})
	if err != nil {
		t.Fatalf("an empty window is not an error: %v", err)
	}
	if len(result.Messages) != 0 || len(result.Fetched) != 0 {
		t.Errorf("result = %+v, want no messages", result)
	}
}

func TestMarkProcessed(t *testing.T) {
	var reacted bool
	mux := http.NewServeMux()
	mux.HandleFunc("/reactions.add", func(w http.ResponseWriter, r *http.Request) {
		reacted = true
		if name := r.FormValue("name"); name != "white_check_mark" {
			t.Errorf("reaction name = %q", name)
		}
		fmt.Fprint(w, `{"ok": true}`)
	})

	s := newTestSlackClient(t, mux)
	if err := s.MarkProcessed(context.Background(), "C123", "1.0"); err != nil {
		t.Fatalf("MarkProcessed() error: %v", err)
	}
	if !reacted {
		t.Error("no reaction was added")
	}
}

func TestMarkProcessedAlreadyReacted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/reactions.add", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": false, "error": "already_reacted"}`)
	})

	s := newTestSlackClient(t, mux)
	if err := s.MarkProcessed(context.Background(), "C123", "1.0"); err != nil {
		t.Errorf("already_reacted should be treated as success, got %v", err)
	}
}

func TestSlackTimestamp(t *testing.T) {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	got := slackTimestamp(ts)
	want := "1748736000.000000"
	if got != want {
		t.Errorf("slackTimestamp() = %q, want %q", got, want)
	}
}

func TestStripEmojiShortcodes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{":rocket: Launch", "Launch"},
		{"mid :+1: word", "mid  word"},
		{"none here", "none here"},
		{"a 2:30 meeting", "a 2:30 meeting"},
	}
	for _, tt := range tests {
		if got := stripEmojiShortcodes(tt.input); got != tt.want {
			t.Errorf("stripEmojiShortcodes(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
