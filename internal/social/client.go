// Package social holds the clients for the social platform: posting replies
// and pulling mention posts from the scrape API.
package social

import (
	"context"
	"time"
)

// Post is one inbound social message after adaptation from the upstream
// scrape format.
type Post struct {
	ID             string
	RequesterID    string
	ConversationID string
	Text           string
	Timestamp      time.Time
}

// ReplyTarget identifies the message a reply attaches to.
type ReplyTarget struct {
	MessageID   string
	RequesterID string
}

// Replier posts replies. Implementations return the platform id of the new
// message.
type Replier interface {
	Reply(ctx context.Context, text string, target ReplyTarget) (string, error)
}

// Searcher pulls mention posts newer than since.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, since time.Time) ([]Post, error)
}
