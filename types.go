package main

import "time"

// ProcessedState is the tagged state of a source message: either it has
// already produced a changelog entry or it has not. The state is derived once
// per message from its reactions when fetching.
type ProcessedState string

const (
	StateUnprocessed ProcessedState = "unprocessed"
	StateProcessed   ProcessedState = "processed"
)

// DownloadStatus is the terminal state of a single attachment download.
// Every attachment moves pending -> (skipped | downloaded | failed) exactly
// once; there are no retries at this layer.
type DownloadStatus string

const (
	DownloadPending DownloadStatus = "pending"
	DownloadSkipped DownloadStatus = "skipped"
	DownloadDone    DownloadStatus = "downloaded"
	DownloadFailed  DownloadStatus = "failed"
)

// Attachment describes a file attached to a chat message. ID is the stable
// upstream identifier; URL is the signed fetch URL whose embedded token
// rotates between requests, so it is only used for deduplication when no ID
// is available.
type Attachment struct {
	ID       string
	Name     string
	URL      string
	Mimetype string
	Size     int64
}

// MediaFile records the outcome of staging one attachment locally.
type MediaFile struct {
	OriginalName string
	Filename     string
	LocalPath    string
	Mimetype     string
	Size         int64
	IsImage      bool
	IsVideo      bool
	Status       DownloadStatus
	Err          error
}

// Message is a product-update message with its permalink, thread replies and
// staged media.
type Message struct {
	Timestamp string
	User      string
	Text      string
	Permalink string
	State     ProcessedState
	Files     []Attachment
	Media     []MediaFile
	Replies   []Message
}

// FetchResult is everything one fetch call produced. Fetched is the explicit
// accumulator of message timestamps included in this run; it travels with the
// result instead of living in a process-wide table so re-runs cannot observe
// each other's bookkeeping.
type FetchResult struct {
	ChannelID string
	From      time.Time
	To        time.Time
	Messages  []Message
	Fetched   []string
}

// ProcessingStatus represents the outcome status of one pipeline run
type ProcessingStatus string

const (
	StatusSuccess ProcessingStatus = "success"
	StatusSkipped ProcessingStatus = "skipped"
	StatusError   ProcessingStatus = "error"
)

// ProcessingResult tracks the outcome of a pipeline run
type ProcessingResult struct {
	Date   string
	Status ProcessingStatus
	Branch string
	PRURL  string
	Error  string
}
