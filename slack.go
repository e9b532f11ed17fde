package main

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/slack-go/slack"
)

var emojiShortcodePattern = regexp.MustCompile(`:[a-z0-9_+-]+:`)

// SlackClient fetches channel history and marks messages processed.
type SlackClient struct {
	api            *slack.Client
	processedEmoji string
}

// NewSlackClient creates a client using the given bot token. processedEmoji
// is the reaction name that marks a message as already published.
func NewSlackClient(token, processedEmoji string, opts ...slack.Option) *SlackClient {
	return &SlackClient{
		api:            slack.New(token, opts...),
		processedEmoji: processedEmoji,
	}
}

// FetchOptions tunes a fetch window.
type FetchOptions struct {
	// IgnoreProcessed includes messages that already carry the
	// processed reaction.
	IgnoreProcessed bool
	// StripEmojis removes :shortcode: sequences from message text.
	StripEmojis bool
}

// FetchMessages returns the channel messages in [from, to], oldest first,
// with thread replies, permalinks, and attachment metadata resolved. Every
// returned message's timestamp is accumulated in the result's Fetched list
// so downstream stages can record exactly which messages produced a draft.
func (s *SlackClient) FetchMessages(ctx context.Context, channelID string, from, to time.Time, opts FetchOptions) (*FetchResult, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel ID is required")
	}
	log := clog.FromContext(ctx).With("channel", channelID)

	result := &FetchResult{ChannelID: channelID, From: from, To: to}

	params := &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    slackTimestamp(from),
		Latest:    slackTimestamp(to),
		Limit:     200,
	}

	for {
		history, err := s.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("fetching channel history: %w", err)
		}

		for _, raw := range history.Messages {
			// Thread replies surface through the parent, not the
			// channel history.
			if raw.ThreadTimestamp != "" && raw.ThreadTimestamp != raw.Timestamp {
				continue
			}

			msg := s.buildMessage(ctx, channelID, raw, opts)
			if msg.State == StateProcessed && !opts.IgnoreProcessed {
				log.With("ts", msg.Timestamp).Infof("skipping already processed message")
				continue
			}
			result.Messages = append(result.Messages, msg)
			result.Fetched = append(result.Fetched, msg.Timestamp)
		}

		if !history.HasMore {
			break
		}
		params.Cursor = history.ResponseMetaData.NextCursor
	}

	// History arrives newest first.
	for i, j := 0, len(result.Messages)-1; i < j; i, j = i+1, j-1 {
		result.Messages[i], result.Messages[j] = result.Messages[j], result.Messages[i]
		result.Fetched[i], result.Fetched[j] = result.Fetched[j], result.Fetched[i]
	}

	log.With("count", len(result.Messages)).Infof("fetched messages")
	return result, nil
}

func (s *SlackClient) buildMessage(ctx context.Context, channelID string, raw slack.Message, opts FetchOptions) Message {
	log := clog.FromContext(ctx)

	msg := Message{
		Timestamp: raw.Timestamp,
		User:      raw.User,
		Text:      raw.Text,
		State:     s.processedState(raw.Reactions),
		Files:     attachmentsFromFiles(raw.Files),
	}
	if opts.StripEmojis {
		msg.Text = stripEmojiShortcodes(msg.Text)
	}

	permalink, err := s.api.GetPermalinkContext(ctx, &slack.PermalinkParameters{
		Channel: channelID,
		Ts:      raw.Timestamp,
	})
	if err != nil {
		log.With("ts", raw.Timestamp).Warnf("resolving permalink: %v", err)
	} else {
		msg.Permalink = permalink
	}

	if raw.ThreadTimestamp == raw.Timestamp && raw.ReplyCount > 0 {
		replies, err := s.fetchReplies(ctx, channelID, raw.Timestamp, opts)
		if err != nil {
			log.With("ts", raw.Timestamp).Warnf("fetching thread replies: %v", err)
		} else {
			msg.Replies = replies
		}
	}

	return msg
}

func (s *SlackClient) fetchReplies(ctx context.Context, channelID, threadTS string, opts FetchOptions) ([]Message, error) {
	params := &slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadTS,
	}

	var replies []Message
	for {
		msgs, hasMore, cursor, err := s.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, raw := range msgs {
			// The parent message leads the replies listing.
			if raw.Timestamp == threadTS {
				continue
			}
			reply := Message{
				Timestamp: raw.Timestamp,
				User:      raw.User,
				Text:      raw.Text,
				Files:     attachmentsFromFiles(raw.Files),
			}
			if opts.StripEmojis {
				reply.Text = stripEmojiShortcodes(reply.Text)
			}
			replies = append(replies, reply)
		}
		if !hasMore {
			return replies, nil
		}
		params.Cursor = cursor
	}
}

// MarkProcessed adds the processed reaction to a message. A message that
// already carries the reaction is treated as success.
func (s *SlackClient) MarkProcessed(ctx context.Context, channelID, timestamp string) error {
	err := s.api.AddReactionContext(ctx, s.processedEmoji, slack.NewRefToMessage(channelID, timestamp))
	if err != nil && !strings.Contains(err.Error(), "already_reacted") {
		return fmt.Errorf("adding %s reaction to %s: %w", s.processedEmoji, timestamp, err)
	}
	return nil
}

func (s *SlackClient) processedState(reactions []slack.ItemReaction) ProcessedState {
	for _, r := range reactions {
		if r.Name == s.processedEmoji {
			return StateProcessed
		}
	}
	return StateUnprocessed
}

func attachmentsFromFiles(files []slack.File) []Attachment {
	if len(files) == 0 {
		return nil
	}
	attachments := make([]Attachment, 0, len(files))
	for _, f := range files {
		attachments = append(attachments, Attachment{
			ID:       f.ID,
			Name:     f.Name,
			URL:      f.URLPrivateDownload,
			Mimetype: f.Mimetype,
			Size:     int64(f.Size),
		})
	}
	return attachments
}

func stripEmojiShortcodes(text string) string {
	return strings.TrimSpace(emojiShortcodePattern.ReplaceAllString(text, ""))
}

// slackTimestamp renders a time as the seconds.microseconds string the
// conversations API expects.
func slackTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}
