package articles

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/newsrag/internal/errs"
	"github.com/mohammad-safakhou/newsrag/internal/helpers"
	"github.com/mohammad-safakhou/newsrag/models"
)

const (
	summaryFallbackRunes = 500
	defaultSource        = "Unknown"
)

var validate = validator.New()

// Raw is an article record as written by the source loaders. Several field
// names are accepted because loaders disagree on them.
type Raw struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	URL         string `json:"url"`
	Date        string `json:"date"`
	PublishedAt string `json:"published_at"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Source      string `json:"source"`
}

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseDate accepts the date formats seen in feed output.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// Normalize turns a raw record into a validated Article. fallback is used
// as the publication date when the record has none or it cannot be parsed;
// pass the zero time to make the date mandatory.
func Normalize(raw Raw, fallback time.Time) (models.Article, error) {
	link := strings.TrimSpace(raw.Link)
	if link == "" {
		link = strings.TrimSpace(raw.URL)
	}
	canonical, err := helpers.CanonicalURL(link)
	if err != nil {
		return models.Article{}, errs.Validation("article %q has invalid link %q: %v", raw.Title, link, err)
	}
	id, err := helpers.ArticleID(canonical)
	if err != nil {
		return models.Article{}, errs.Validation("article link %q: %v", link, err)
	}

	published, err := ParseDate(firstNonEmpty(raw.PublishedAt, raw.Date))
	if err != nil {
		if fallback.IsZero() {
			return models.Article{}, errs.Validation("article %q: %v", raw.Title, err)
		}
		published = fallback.UTC()
	}

	body := bodyText(raw.Content, canonical)
	summary := firstNonEmpty(helpers.PlainText(raw.Summary), helpers.PlainText(raw.Description))
	if summary == "" {
		summary = helpers.Truncate(body, summaryFallbackRunes)
	}
	source := helpers.PlainText(raw.Source)
	if source == "" {
		source = defaultSource
	}

	a := models.Article{
		ID:          id,
		Title:       helpers.PlainText(raw.Title),
		Source:      source,
		PublishedAt: published,
		URL:         canonical,
		BodyText:    body,
		SummaryText: summary,
	}
	if err := validate.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return models.Article{}, errs.Validation("article %q: field %s failed %q", raw.Title, verrs[0].Field(), verrs[0].Tag())
		}
		return models.Article{}, errs.Validation("article %q: %v", raw.Title, err)
	}
	return a, nil
}

// bodyText extracts readable text from content. Full HTML pages go through
// readability; fragments are stripped of markup.
func bodyText(content, pageURL string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	if looksLikePage(content) {
		u, _ := url.Parse(pageURL)
		if article, err := readability.FromReader(strings.NewReader(content), u); err == nil {
			if text := strings.Join(strings.Fields(article.TextContent), " "); text != "" {
				return text
			}
		}
	}
	return helpers.PlainText(content)
}

func looksLikePage(s string) bool {
	head := strings.ToLower(s[:min(len(s), 512)])
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype") || strings.Contains(head, "<body")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
