package assembler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/newsrag/models"
)

// ev builds evidence whose title+summary costs exactly words tokens.
func ev(id string, rank, words int) Evidence {
	return Evidence{
		Article: models.Article{
			ID:          id,
			Title:       "t" + id,
			SummaryText: strings.TrimSpace(strings.Repeat("w ", words-1)),
			Source:      "Wire",
			URL:         "https://example.com/" + id,
			PublishedAt: time.Date(2025, 2, 11, 0, 0, 0, 0, time.UTC),
		},
		Rank: rank,
	}
}

func turn(role models.Role, text string) models.Turn {
	return models.Turn{Role: role, Text: text}
}

func TestAssembleStopsAtFirstOverflow(t *testing.T) {
	got := Assemble([]Evidence{ev("c", 2, 2), ev("a", 0, 4), ev("b", 1, 5)}, nil, 8)

	require.Len(t, got.Included, 1)
	assert.Equal(t, "a", got.Included[0].Article.ID)
	// c would still fit but ranks below the overflowing b
	require.Len(t, got.Excluded, 2)
	assert.Equal(t, "b", got.Excluded[0].Article.ID)
	assert.Equal(t, "c", got.Excluded[1].Article.ID)
	assert.Equal(t, 4, got.ArticleTokens)
	assert.Contains(t, got.Text, "[1] Title: ta")
	assert.NotContains(t, got.Text, "tb")
}

func TestAssembleBudgetLaw(t *testing.T) {
	evidence := []Evidence{ev("a", 0, 3), ev("b", 1, 3), ev("c", 2, 3), ev("d", 3, 3)}
	for budget := 0; budget <= 14; budget++ {
		got := Assemble(evidence, nil, budget)
		total := 0
		for _, e := range got.Included {
			total += e.Size()
		}
		assert.LessOrEqual(t, total, budget)
		assert.Equal(t, len(evidence), len(got.Included)+len(got.Excluded))
		if len(got.Included) > 0 && len(got.Excluded) > 0 {
			assert.Less(t, got.Included[len(got.Included)-1].Rank, got.Excluded[0].Rank)
		}
	}
}

func TestAssembleNoEvidenceSentinel(t *testing.T) {
	got := Assemble([]Evidence{ev("a", 0, 10)}, nil, 5)
	assert.False(t, got.HasEvidence())
	assert.True(t, strings.HasPrefix(got.Text, NoEvidence))

	got = Assemble(nil, nil, 100)
	assert.Equal(t, NoEvidence, got.Text)
}

func TestAssembleHistoryDropsOldestFirst(t *testing.T) {
	history := []models.Turn{
		turn(models.RoleUser, "one two three"),
		turn(models.RoleAssistant, "four five"),
		turn(models.RoleUser, "six"),
		turn(models.RoleAssistant, "seven eight"),
	}
	got := Assemble([]Evidence{ev("a", 0, 4)}, history, 8)

	require.Len(t, got.History, 2)
	assert.Equal(t, "six", got.History[0].Text)
	assert.Equal(t, "seven eight", got.History[1].Text)
	assert.Equal(t, 2, got.DroppedTurns)
	assert.Equal(t, 7, got.TokensUsed())

	six := strings.Index(got.Text, "user: six")
	seven := strings.Index(got.Text, "assistant: seven eight")
	require.True(t, six > 0 && seven > six, "history must be chronological after articles:\n%s", got.Text)
	assert.Less(t, strings.Index(got.Text, "Title: ta"), six)
}
