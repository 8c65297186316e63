package solver

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/driftworks/quizchain/internal/llm"
)

// contentRegions are checked in order; the first one with a meaningful
// amount of text wins. "body" is the catch-all.
var contentRegions = []string{"main", "article", "#content", ".content", "#result", "body"}

const (
	minRegionChars = 50
	maxLinks       = 20
)

// Scraper answers questions about the content of a rendered page.
type Scraper struct {
	analyst *llm.Service
}

func NewScraper(analyst *llm.Service) *Scraper {
	return &Scraper{analyst: analyst}
}

// Solve extracts the useful content from the page HTML and hands it to
// the model together with the question.
func (s *Scraper) Solve(ctx context.Context, question, rawHTML string) (string, error) {
	content := ExtractContent(rawHTML)
	if content == "" {
		return "", fmt.Errorf("no content extracted from page")
	}
	return s.analyst.AnswerQuiz(ctx, question, "Scraped Content:\n"+content)
}

// ExtractContent mines the text, links, tables, and lists out of a page
// into a compact plain-text digest suitable for a model prompt.
func ExtractContent(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	doc.Find("script, style").Remove()

	var sections []string

	for _, sel := range contentRegions {
		region := doc.Find(sel).First()
		if region.Length() == 0 {
			continue
		}
		text := strings.TrimSpace(region.Text())
		if len(text) > minRegionChars {
			sections = append(sections, text)
			break
		}
	}

	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if !strings.HasPrefix(href, "http") {
			return true
		}
		label := strings.TrimSpace(a.Text())
		if label == "" {
			label = href
		}
		links = append(links, fmt.Sprintf("%s: %s", label, href))
		return len(links) < maxLinks
	})
	if len(links) > 0 {
		sections = append(sections, "Links:\n"+strings.Join(links, "\n"))
	}

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var rows []string
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(cell.Text()))
			})
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
		})
		if len(rows) > 0 {
			sections = append(sections, "Table:\n"+strings.Join(rows, "\n"))
		}
	})

	doc.Find("ul, ol").Each(func(_ int, list *goquery.Selection) {
		var items []string
		list.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
			item := strings.TrimSpace(li.Text())
			if item != "" {
				items = append(items, "- "+item)
			}
		})
		if len(items) > 0 {
			sections = append(sections, "List:\n"+strings.Join(items, "\n"))
		}
	})

	return strings.Join(sections, "\n\n")
}
