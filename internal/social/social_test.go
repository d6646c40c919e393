package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCrosspostReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reply" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("unexpected auth header %q", got)
		}
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["replyToId"] != "msg-9" {
			t.Errorf("unexpected reply target %q", payload["replyToId"])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]string{"id": "reply-1"},
		})
	}))
	defer srv.Close()

	client, err := NewCrosspostClient(CrosspostConfig{BaseURL: srv.URL, AuthToken: "token-1"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	id, err := client.Reply(context.Background(), "On it!", ReplyTarget{MessageID: "msg-9", RequesterID: "user-1"})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if id != "reply-1" {
		t.Fatalf("expected reply-1, got %s", id)
	}
}

func TestCrosspostReplyDryRun(t *testing.T) {
	client, err := NewCrosspostClient(CrosspostConfig{DryRun: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	id, err := client.Reply(context.Background(), "On it!", ReplyTarget{MessageID: "msg-9"})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !strings.HasPrefix(id, "dry-") {
		t.Fatalf("expected fabricated id, got %s", id)
	}
}

func TestMasaSearch(t *testing.T) {
	var statusPolls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/search/live/twitter":
			_ = json.NewEncoder(w).Encode(map[string]string{"uuid": "job-1"})
		case strings.HasPrefix(r.URL.Path, "/search/live/twitter/status/"):
			status := "processing"
			if statusPolls.Add(1) > 1 {
				status = "done"
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
		case strings.HasPrefix(r.URL.Path, "/search/live/twitter/result/"):
			_ = json.NewEncoder(w).Encode([]map[string]interface{}{
				{
					"ExternalID": "post-1",
					"Content":    "get me cool.base.eth @basednames",
					"Metadata": map[string]string{
						"author":          "user-1",
						"conversation_id": "conv-1",
						"created_at":      time.Now().UTC().Format(time.RFC3339),
					},
				},
				{
					// missing conversation id is fine here; the engine drops it
					"ExternalID": "post-2",
					"Content":    "hi",
					"Metadata": map[string]string{
						"author":     "user-2",
						"created_at": time.Now().UTC().Format(time.RFC3339),
					},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := NewMasaClient(MasaConfig{
		BaseURL:      srv.URL,
		APIKey:       "key",
		PollInterval: time.Millisecond,
		MaxPolls:     10,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	posts, err := client.Search(context.Background(), "@basednames", 100, time.Time{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].ID != "post-1" || posts[0].ConversationID != "conv-1" {
		t.Fatalf("unexpected first post %+v", posts[0])
	}
}

func TestMasaSearchFiltersOldPosts(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]string{"uuid": "job-2"})
		case strings.Contains(r.URL.Path, "/status/"):
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "done"})
		default:
			_ = json.NewEncoder(w).Encode([]map[string]interface{}{
				{
					"ExternalID": "stale",
					"Content":    "old post",
					"Metadata":   map[string]string{"author": "u", "created_at": old.UTC().Format(time.RFC3339)},
				},
			})
		}
	}))
	defer srv.Close()

	client, err := NewMasaClient(MasaConfig{
		BaseURL:      srv.URL,
		APIKey:       "key",
		PollInterval: time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	posts, err := client.Search(context.Background(), "@basednames", 10, time.Now())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("expected stale posts filtered, got %d", len(posts))
	}
}

type countingSearcher struct {
	calls atomic.Int32
}

func (c *countingSearcher) Search(context.Context, string, int, time.Time) ([]Post, error) {
	c.calls.Add(1)
	return []Post{{ID: "p"}}, nil
}

func TestCachedSearcher(t *testing.T) {
	inner := &countingSearcher{}
	cached := NewCachedSearcher(inner, time.Minute)

	since := time.Unix(100, 0)
	for i := 0; i < 3; i++ {
		posts, err := cached.Search(context.Background(), "@basednames", 10, since)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(posts) != 1 {
			t.Fatalf("expected cached result, got %d posts", len(posts))
		}
	}
	if got := inner.calls.Load(); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}

	// a different watermark is a different cache key
	if _, err := cached.Search(context.Background(), "@basednames", 10, time.Unix(200, 0)); err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := inner.calls.Load(); got != 2 {
		t.Fatalf("expected second upstream call, got %d", got)
	}
}
