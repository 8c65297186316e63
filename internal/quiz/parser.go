package quiz

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Category selects which solver handles a parsed task.
type Category string

const (
	CategoryPDF           Category = "pdf"
	CategoryTabular       Category = "tabular"
	CategoryScraping      Category = "scraping"
	CategoryAPI           Category = "api"
	CategoryVisualization Category = "visualization"
	CategoryGeneral       Category = "general"
)

// Task is the structured description of one rendered quiz page. An empty
// SubmissionEndpoint means the page could not be parsed well enough to
// answer it; the chain stops there.
type Task struct {
	Question           string
	SubmissionEndpoint string
	DownloadEndpoint   string
	Category           Category
	RawContent         string
}

const questionLineLimit = 10

// page carries the extracted plain text and the HTML fragment the
// extraction rules operate on.
type page struct {
	Text string
	HTML string
}

type endpointRule struct {
	Name  string
	Apply func(p page) string
}

// Rules run in priority order; the first non-empty result wins. Anchor
// hrefs are the most reliable signal and are taken verbatim.
var endpointRules = []endpointRule{
	{Name: "AnchorMatch", Apply: anchorEndpoint},
	{Name: "TextPatternMatch", Apply: textPatternEndpoint},
	{Name: "SyntheticOrigin", Apply: syntheticOriginEndpoint},
	{Name: "Fallback", Apply: fallbackEndpoint},
}

var (
	brokenPathRE   = regexp.MustCompile(`\n+(/)`)
	brokenURLRE    = regexp.MustCompile(`(https?://[^\s]+)\n([^\s]+)`)
	submitURLRE    = regexp.MustCompile(`(?i)https?://[^\s<>"'{}\[\]]+/submit[^\s<>"'{}\[\]]*`)
	answerURLRE    = regexp.MustCompile(`(?i)https?://[^\s<>"'{}\[\]]+/answer[^\s<>"'{}\[\]]*`)
	postAnswerRE   = regexp.MustCompile(`(?i)post your answer to\s+(https?://[^\s<>"'{}\[\]]+)`)
	postToRE       = regexp.MustCompile(`(?i)POST.*?to\s+(https?://[^\s<>"'{}\[\]]+)`)
	bareOriginRE   = regexp.MustCompile(`https?://[^\s<>"'/\n]+`)
	anyURLRE       = regexp.MustCompile(`https?://[^\s<>"']+`)
	trailingJunkRE = regexp.MustCompile(`[{}\[\]<>"'\s.,;:]+$`)
)

var downloadExtensions = []string{".pdf", ".csv", ".json", ".xlsx", ".xls", ".txt", ".zip"}

// Parse turns rendered page HTML into a Task. It never fails: an
// unparseable page degrades to CategoryGeneral with whatever question text
// could be extracted, and an empty SubmissionEndpoint.
func Parse(htmlContent string, pageURL string) Task {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return Task{Category: CategoryGeneral, RawContent: htmlContent}
	}

	// Quiz pages inject their content into a #result region; fall back to
	// the whole document when it is absent.
	content := doc.Selection
	rawHTML := htmlContent
	if result := doc.Find("#result"); result.Length() > 0 {
		content = result
		if outer, outerErr := goquery.OuterHtml(result); outerErr == nil && outer != "" {
			rawHTML = outer
		}
	}

	p := page{Text: nodeText(content), HTML: rawHTML}
	download := extractDownloadEndpoint(p)

	return Task{
		Question:           extractQuestion(p.Text),
		SubmissionEndpoint: extractSubmissionEndpoint(p),
		DownloadEndpoint:   download,
		Category:           classify(p.Text, download),
		RawContent:         rawHTML,
	}
}

func extractSubmissionEndpoint(p page) string {
	for _, rule := range endpointRules {
		if endpoint := rule.Apply(p); endpoint != "" {
			return endpoint
		}
	}
	return ""
}

func anchorEndpoint(p page) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return ""
	}
	found := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if strings.Contains(strings.ToLower(href), "submit") {
			found = href
			return false
		}
		return true
	})
	return found
}

func textPatternEndpoint(p page) string {
	normalized := joinWrappedURLs(p.Text)
	patterns := []*regexp.Regexp{submitURLRE, answerURLRE, postAnswerRE, postToRE}
	for _, pattern := range patterns {
		match := pattern.FindStringSubmatch(normalized)
		if match == nil {
			continue
		}
		candidate := match[0]
		if len(match) > 1 {
			candidate = match[1]
		}
		return trailingJunkRE.ReplaceAllString(candidate, "")
	}
	return ""
}

func syntheticOriginEndpoint(p page) string {
	origin := bareOriginRE.FindString(p.Text)
	if origin == "" || !strings.Contains(strings.ToLower(p.Text), "/submit") {
		return ""
	}
	return origin + "/submit"
}

func fallbackEndpoint(p page) string {
	// Deliberately re-scans the raw text without the line-join
	// normalization: a URL the earlier rules mangled may still be usable.
	for _, candidate := range anyURLRE.FindAllString(p.Text, -1) {
		lower := strings.ToLower(candidate)
		if strings.Contains(lower, "submit") || strings.Contains(lower, "answer") {
			return strings.TrimRight(candidate, `.,;:"'`)
		}
	}
	return ""
}

// joinWrappedURLs reconstructs URLs the page broke across lines: a newline
// immediately before a path segment is dropped, and a URL split mid-token is
// rejoined with its continuation.
func joinWrappedURLs(text string) string {
	joined := brokenPathRE.ReplaceAllString(text, "$1")
	return brokenURLRE.ReplaceAllString(joined, "$1$2")
}

func extractDownloadEndpoint(p page) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err == nil {
		found := ""
		doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, _ := sel.Attr("href")
			lower := strings.ToLower(href)
			for _, ext := range downloadExtensions {
				if strings.Contains(lower, ext) {
					found = href
					return false
				}
			}
			return true
		})
		if found != "" {
			return found
		}
	}

	for _, ext := range downloadExtensions {
		pattern := regexp.MustCompile(`(?i)https?://[^\s<>"']+` + regexp.QuoteMeta(ext) + `[^\s<>"']*`)
		if match := pattern.FindString(p.Text); match != "" {
			return strings.TrimRight(match, `.,;:"'`)
		}
	}
	return ""
}

// classify picks a category using the fixed rule order. Evidence from the
// download endpoint's file extension outranks any keyword in the text.
func classify(text string, downloadURL string) Category {
	lower := strings.ToLower(text)
	lowerDownload := strings.ToLower(downloadURL)

	if downloadURL != "" {
		if strings.Contains(lowerDownload, ".pdf") {
			return CategoryPDF
		}
		for _, ext := range []string{".csv", ".xlsx", ".xls", ".json"} {
			if strings.Contains(lowerDownload, ext) {
				return CategoryTabular
			}
		}
	}
	if strings.Contains(lower, "api") || strings.Contains(lower, "endpoint") {
		return CategoryAPI
	}
	if containsAny(lower, "chart", "plot", "graph", "visualiz") {
		return CategoryVisualization
	}
	if containsAny(lower, "sum", "average", "count", "filter", "sort", "aggregate") {
		return CategoryTabular
	}
	if containsAny(lower, "scrape", "extract", "website", "page") {
		return CategoryScraping
	}
	return CategoryGeneral
}

func containsAny(text string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// extractQuestion keeps the leading instruction lines and drops the
// submission boilerplate: JSON payload examples, the credential example
// block, and "post your answer" lines.
func extractQuestion(text string) string {
	kept := make([]string, 0, questionLineLimit)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") || strings.HasPrefix(line, "}") {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "email") && strings.Contains(lower, "secret") {
			continue
		}
		if strings.Contains(lower, "post your answer") {
			continue
		}
		kept = append(kept, line)
		if len(kept) == questionLineLimit {
			break
		}
	}
	return strings.Join(kept, "\n")
}

// AbsoluteURL resolves a possibly relative URL against the origin of the
// page it was found on. Resolution is origin-relative: the base page's path
// and query are discarded.
func AbsoluteURL(raw string, pageURL string) string {
	if strings.HasPrefix(raw, "http") {
		return raw
	}
	base, err := url.Parse(pageURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	origin := &url.URL{Scheme: base.Scheme, Host: base.Host}
	return origin.ResolveReference(ref).String()
}

// nodeText extracts the visible text of a selection with one line per text
// node, skipping script and style subtrees.
func nodeText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				parts = append(parts, trimmed)
			}
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, "\n")
}
