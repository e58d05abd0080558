package models

import (
	"errors"
	"time"
)

// ErrArticleNotFound is returned when an article id is unknown to the store.
var ErrArticleNotFound = errors.New("article not found")

// Article is a normalised news story. ID is derived from the canonical URL,
// so re-ingesting the same link overwrites the earlier record.
type Article struct {
	ID          string    `json:"id" validate:"required,len=64,hexadecimal"`
	Title       string    `json:"title" validate:"required,max=1000"`
	Source      string    `json:"source" validate:"required,max=200"`
	PublishedAt time.Time `json:"published_at" validate:"required"`
	URL         string    `json:"url" validate:"required,url"`
	BodyText    string    `json:"body_text,omitempty"`
	SummaryText string    `json:"summary_text"`
}

// EmbeddingText is the text embedded for retrieval.
func (a Article) EmbeddingText() string {
	if a.SummaryText == "" {
		return a.Title
	}
	return a.Title + "\n" + a.SummaryText
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message in a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession is the persisted state of one conversation.
type ChatSession struct {
	ID           string    `json:"session_id"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// SearchResult is one ranked retrieval hit. Score is in [0,1] and never
// increases with Rank, which starts at 0.
type SearchResult struct {
	ArticleID string  `json:"article_id"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
}
