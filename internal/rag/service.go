// Package rag wires retrieval, context assembly, sessions and the
// completion gateway into the operations the CLI exposes.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/newsrag/config"
	"github.com/mohammad-safakhou/newsrag/internal/articles"
	"github.com/mohammad-safakhou/newsrag/internal/assembler"
	"github.com/mohammad-safakhou/newsrag/internal/errs"
	"github.com/mohammad-safakhou/newsrag/internal/index"
	"github.com/mohammad-safakhou/newsrag/internal/retrieval"
	"github.com/mohammad-safakhou/newsrag/internal/telemetry"
	"github.com/mohammad-safakhou/newsrag/internal/week"
	"github.com/mohammad-safakhou/newsrag/provider"
	"github.com/mohammad-safakhou/newsrag/session"
	"github.com/mohammad-safakhou/newsrag/tools/embedding"
)

type Options struct {
	Config    *config.Config
	Store     articles.Store
	Embedder  embedding.Embedder
	Index     *index.Index
	Lexical   *retrieval.Lexical
	Retriever *retrieval.Engine
	Sessions  *session.Manager
	Completer provider.Completer
	Logger    *zap.Logger
	Metrics   *telemetry.Metrics
	Now       func() time.Time
}

type Service struct {
	cfg       *config.Config
	store     articles.Store
	embedder  embedding.Embedder
	index     *index.Index
	lexical   *retrieval.Lexical
	retriever *retrieval.Engine
	sessions  *session.Manager
	completer provider.Completer
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time
}

func New(opts Options) (*Service, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("rag: config required")
	case opts.Store == nil, opts.Embedder == nil, opts.Index == nil, opts.Retriever == nil:
		return nil, errors.New("rag: store, embedder, index and retriever are required")
	case opts.Sessions == nil, opts.Completer == nil:
		return nil, errors.New("rag: session manager and completer are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		cfg:       opts.Config,
		store:     opts.Store,
		embedder:  opts.Embedder,
		index:     opts.Index,
		lexical:   opts.Lexical,
		retriever: opts.Retriever,
		sessions:  opts.Sessions,
		completer: opts.Completer,
		logger:    opts.Logger.Named("rag"),
		metrics:   opts.Metrics,
		now:       opts.Now,
	}, nil
}

type SearchRequest struct {
	Query string `json:"query"`
	Week  string `json:"week"`
	Limit int    `json:"limit"`
}

// ArticleResult is a ranked article as returned to callers.
type ArticleResult struct {
	ArticleID   string    `json:"article_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `json:"published_at"`
	Score       float64   `json:"score"`
	Rank        int       `json:"rank"`
}

type SearchResponse struct {
	Query        string          `json:"query"`
	Week         string          `json:"week"`
	Results      []ArticleResult `json:"results"`
	TotalResults int             `json:"total_results"`
}

// Search runs a similarity search. A zero limit means the configured
// default.
func (s *Service) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	limit := req.Limit
	if limit == 0 {
		limit = s.cfg.Retrieval.DefaultLimit
	}
	hits, err := s.retriever.Search(ctx, req.Query, req.Week, limit)
	if err != nil {
		return SearchResponse{}, err
	}
	resp := SearchResponse{Query: req.Query, Week: req.Week, Results: make([]ArticleResult, len(hits)), TotalResults: len(hits)}
	if resp.Week == "" {
		resp.Week = week.All
	}
	for i, h := range hits {
		resp.Results[i] = ArticleResult{
			ArticleID:   h.Article.ID,
			Title:       h.Article.Title,
			URL:         h.Article.URL,
			Source:      h.Article.Source,
			Summary:     h.Article.SummaryText,
			PublishedAt: h.Article.PublishedAt,
			Score:       h.Score,
			Rank:        h.Rank,
		}
	}
	return resp, nil
}

type ChatResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}

// Chat answers message inside a session. Nothing is written to the session
// unless the completion succeeds.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (ChatResponse, error) {
	sess, reply, err := s.sessions.Converse(ctx, sessionID, message, s.respond)
	if err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{SessionID: sess.ID, Response: reply}, nil
}

func (s *Service) respond(ctx context.Context, conv session.Conversation, message string) (string, error) {
	hits, err := s.retriever.Search(ctx, message, s.cfg.Chat.Week, s.cfg.Chat.Limit)
	if err != nil {
		return "", err
	}
	evidence := make([]assembler.Evidence, len(hits))
	for i, h := range hits {
		evidence[i] = assembler.Evidence{Article: h.Article, Score: h.Score, Rank: h.Rank}
	}
	c := assembler.Assemble(evidence, conv.History, s.cfg.Context.TokenBudget)
	s.logger.Debug("chat context assembled",
		zap.String("session_id", conv.ID),
		zap.Int("included", len(c.Included)),
		zap.Int("excluded", len(c.Excluded)),
		zap.Int("history_turns", len(c.History)),
		zap.Int("tokens", c.TokensUsed()))
	return s.complete(ctx, "chat", chatPrompt(c, message), s.cfg.Chat.Instructions)
}

// Summarize writes a briefing of every article published in the week,
// newest first, within the context budget.
func (s *Service) Summarize(ctx context.Context, weekToken string) (string, error) {
	w, err := week.Parse(weekToken, s.now())
	if err != nil {
		return "", err
	}
	arts, err := s.store.List(ctx, w)
	if err != nil {
		return "", errs.RetrievalUnavailable("list articles for "+w.String(), err)
	}
	evidence := make([]assembler.Evidence, len(arts))
	for i, a := range arts {
		evidence[i] = assembler.Evidence{Article: a, Score: 1, Rank: i}
	}
	c := assembler.Assemble(evidence, nil, s.cfg.Context.TokenBudget)
	if len(c.Excluded) > 0 {
		s.logger.Info("summary context truncated",
			zap.String("week", w.String()),
			zap.Int("included", len(c.Included)),
			zap.Int("excluded", len(c.Excluded)))
	}
	return s.complete(ctx, "summarize", summaryPrompt(c, w), s.cfg.Summary.Instructions)
}

// Weeks lists the ISO weeks that have articles, newest first.
func (s *Service) Weeks(ctx context.Context) ([]string, error) {
	tags, err := s.store.Weeks(ctx)
	if err != nil {
		return nil, errs.Internal("list weeks", err)
	}
	return tags, nil
}

type Health struct {
	IndexLoaded     bool   `json:"index_loaded"`
	IndexEntries    int    `json:"index_entries"`
	IndexGeneration uint64 `json:"index_generation"`
	ModelVersion    string `json:"model_version"`
	Articles        int    `json:"articles"`
	LexicalEntries  int    `json:"lexical_entries"`
}

func (s *Service) Health(ctx context.Context) (Health, error) {
	arts, err := s.store.List(ctx, week.Window{Unbounded: true})
	if err != nil {
		return Health{}, errs.Internal("count articles", err)
	}
	h := Health{
		IndexLoaded:     s.index.Loaded(),
		IndexEntries:    s.index.Len(),
		IndexGeneration: s.index.Generation(),
		ModelVersion:    s.index.ModelVersion(),
		Articles:        len(arts),
	}
	if s.lexical != nil {
		h.LexicalEntries = s.lexical.Len()
	}
	return h, nil
}

// complete calls the gateway, retrying once after the configured backoff
// when the failure is transient.
func (s *Service) complete(ctx context.Context, op, prompt, instructions string) (string, error) {
	for attempt := 0; ; attempt++ {
		start := time.Now()
		text, err := s.completer.Complete(ctx, prompt, instructions)
		err = completionErr(err)
		s.metrics.ObserveCompletion(op, outcome(err), time.Since(start))
		if err == nil {
			return text, nil
		}
		if attempt > 0 || !errs.Retryable(err) {
			return "", err
		}
		s.logger.Warn("completion failed, retrying", zap.String("operation", op), zap.Error(err))
		t := time.NewTimer(s.cfg.Generation.RetryBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", errs.GenerationUnavailable("completion retry cancelled", ctx.Err())
		case <-t.C:
		}
	}
}

// completionErr maps foreign gateway errors onto the taxonomy.
func completionErr(err error) error {
	if err == nil {
		return nil
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.GenerationUnavailable("completion failed", err)
}

func chatPrompt(c assembler.Context, message string) string {
	var b strings.Builder
	b.WriteString(c.Text)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(message)
	return b.String()
}

func summaryPrompt(c assembler.Context, w week.Window) string {
	scope := "all available weeks"
	if !w.Unbounded {
		scope = "week " + w.Tag
	}
	return fmt.Sprintf("Summarize the news for %s.\n\n%s", scope, c.Text)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errs.KindOf(err))
}
