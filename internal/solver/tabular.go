package solver

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"

	"github.com/driftworks/quizchain/internal/llm"
)

// Tabular answers data-computation tasks. When the question follows the
// common cutoff/threshold pattern and the dataset parsed cleanly, the
// answer is computed directly; everything else goes to the analyst with
// the serialized data.
type Tabular struct {
	analyst   *llm.Service
	downloads Downloader
}

func NewTabular(analyst *llm.Service, downloads Downloader) *Tabular {
	return &Tabular{analyst: analyst, downloads: downloads}
}

var cutoffPatterns = []*regexp.Regexp{
	regexp.MustCompile(`cutoff[:\s]*(\d+)`),
	regexp.MustCompile(`threshold[:\s]*(\d+)`),
	regexp.MustCompile(`greater than[:\s]*(\d+)`),
	regexp.MustCompile(`above[:\s]*(\d+)`),
}

const tabularPromptTemplate = `Analyze this data-related quiz carefully.

QUIZ QUESTION:
%s

DATA FROM FILE:
%s

CRITICAL INSTRUCTIONS:
1. Read the question VERY carefully to understand what answer format is expected
2. Return a SINGLE value, not an array or list, unless explicitly asked for a list
3. If the question mentions a CUTOFF value, filter the data to values GREATER THAN the cutoff and return the SUM of those values
4. "how many" / "number of" / "count" mean: return a COUNT as a single number
5. "sum" / "total" / "add up" mean: return a SUM as a single number
6. Return ONLY the answer value - NO explanations`

const maxInlineDataChars = 10000

func (s *Tabular) Solve(ctx context.Context, question string, downloadURL string, rawHTML string) (string, error) {
	var values []float64
	var dataText string

	if downloadURL != "" {
		data, err := s.downloads.Download(ctx, downloadURL)
		if err != nil {
			log.Printf("tabular download failed: %v", err)
		} else {
			values, dataText = parseDataset(downloadURL, data)
		}
	}
	if dataText == "" {
		dataText = inlineData(rawHTML)
	}

	if cutoff, ok := detectCutoff(question); ok && len(values) > 0 {
		sum := 0.0
		matched := 0
		for _, v := range values {
			if v > cutoff {
				sum += v
				matched++
			}
		}
		log.Printf("tabular: %d values above cutoff %v, sum %v", matched, cutoff, sum)
		return formatNumber(sum), nil
	}

	if len(dataText) > maxInlineDataChars {
		dataText = dataText[:maxInlineDataChars]
	}
	prompt := fmt.Sprintf(tabularPromptTemplate, question, dataText)
	return s.analyst.AnswerQuiz(ctx, prompt, "")
}

func detectCutoff(question string) (float64, bool) {
	lower := strings.ToLower(question)
	for _, pattern := range cutoffPatterns {
		if match := pattern.FindStringSubmatch(lower); match != nil {
			cutoff, err := strconv.ParseFloat(match[1], 64)
			if err == nil {
				return cutoff, true
			}
		}
	}
	return 0, false
}

// parseDataset decodes a downloaded file into its numeric values and a text
// rendering for the analyst. The file format comes from the URL extension;
// unknown extensions try JSON first, then CSV, then raw text.
func parseDataset(url string, data []byte) ([]float64, string) {
	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, ".csv"):
		return parseCSV(data)
	case strings.Contains(lower, ".json"):
		return parseJSON(data)
	case strings.Contains(lower, ".xlsx"), strings.Contains(lower, ".xls"):
		return parseXLSX(data)
	default:
		if values, text := parseJSON(data); text != "" {
			return values, text
		}
		if values, text := parseCSV(data); text != "" {
			return values, text
		}
		return nil, string(data)
	}
}

func parseCSV(data []byte) ([]float64, string) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil || len(records) == 0 {
		return nil, ""
	}
	var values []float64
	lines := make([]string, 0, len(records))
	for _, record := range records {
		for _, cell := range record {
			if v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
				values = append(values, v)
			}
		}
		lines = append(lines, strings.Join(record, " | "))
	}
	return values, strings.Join(lines, "\n")
}

func parseJSON(data []byte) ([]float64, string) {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, ""
	}
	values := collectNumbers(parsed, nil)
	pretty, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return values, string(data)
	}
	return values, string(pretty)
}

func parseXLSX(data []byte) ([]float64, string) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, ""
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, ""
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, ""
	}
	var values []float64
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		for _, cell := range row {
			if v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
				values = append(values, v)
			}
		}
		lines = append(lines, strings.Join(row, " | "))
	}
	return values, strings.Join(lines, "\n")
}

func collectNumbers(value any, acc []float64) []float64 {
	switch typed := value.(type) {
	case float64:
		return append(acc, typed)
	case []any:
		for _, item := range typed {
			acc = collectNumbers(item, acc)
		}
	case map[string]any:
		for _, item := range typed {
			acc = collectNumbers(item, acc)
		}
	}
	return acc
}

// inlineData mines tables and pre/code blocks out of the page itself for
// tasks that embed their data instead of linking a file.
func inlineData(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	var parts []string
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var rows []string
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(cell.Text()))
			})
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
		})
		if len(rows) > 0 {
			parts = append(parts, strings.Join(rows, "\n"))
		}
	})
	doc.Find("pre, code").Each(func(_ int, block *goquery.Selection) {
		if text := strings.TrimSpace(block.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
