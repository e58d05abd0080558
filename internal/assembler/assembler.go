// Package assembler builds the bounded evidence block handed to the
// completion step. Articles are taken whole in rank order until the next one
// would overflow the budget; conversation history fills what remains,
// newest turns first.
package assembler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/newsrag/internal/tokens"
	"github.com/mohammad-safakhou/newsrag/models"
)

// NoEvidence is written in place of the article block when nothing fits.
const NoEvidence = "No supporting evidence found in the news corpus."

// Evidence is one ranked article offered to the assembler.
type Evidence struct {
	Article models.Article
	Score   float64
	Rank    int
}

// Size is the budget charged for including e.
func (e Evidence) Size() int {
	return tokens.Count(e.Article.Title + " " + e.Article.SummaryText)
}

// Context is an assembled prompt context.
type Context struct {
	Text          string
	Included      []Evidence
	Excluded      []Evidence
	History       []models.Turn
	DroppedTurns  int
	ArticleTokens int
	HistoryTokens int
}

// TokensUsed is the budget consumed by articles and history together.
func (c Context) TokensUsed() int { return c.ArticleTokens + c.HistoryTokens }

// HasEvidence reports whether at least one article was included.
func (c Context) HasEvidence() bool { return len(c.Included) > 0 }

// Assemble selects evidence and history within budget and renders them.
// Every excluded article ranks strictly below every included one.
func Assemble(evidence []Evidence, history []models.Turn, budget int) Context {
	ranked := append([]Evidence(nil), evidence...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Rank < ranked[j].Rank })

	var c Context
	for i, e := range ranked {
		size := e.Size()
		if c.ArticleTokens+size > budget {
			c.Excluded = ranked[i:]
			break
		}
		c.ArticleTokens += size
		c.Included = append(c.Included, e)
	}

	remaining := budget - c.ArticleTokens
	first := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		size := tokens.Count(history[i].Text)
		if c.HistoryTokens+size > remaining {
			break
		}
		c.HistoryTokens += size
		first = i
	}
	c.History = history[first:]
	c.DroppedTurns = first
	c.Text = render(c)
	return c
}

func render(c Context) string {
	var b strings.Builder
	if len(c.Included) == 0 {
		b.WriteString(NoEvidence)
		b.WriteString("\n")
	} else {
		b.WriteString("Relevant news articles:\n")
		for i, e := range c.Included {
			writeArticle(&b, i+1, e.Article)
		}
	}
	if len(c.History) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, t := range c.History {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeArticle(b *strings.Builder, n int, a models.Article) {
	fmt.Fprintf(b, "\n[%d] Title: %s\n", n, a.Title)
	fmt.Fprintf(b, "Source: %s\n", a.Source)
	if !a.PublishedAt.IsZero() {
		fmt.Fprintf(b, "Published: %s\n", a.PublishedAt.UTC().Format("2006-01-02"))
	}
	fmt.Fprintf(b, "Link: %s\n", a.URL)
	fmt.Fprintf(b, "Summary: %s\n", a.SummaryText)
}
