package solver

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/driftworks/quizchain/internal/llm"
)

var chartNumberRE = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Chart handles visualization questions. When the question asks to
// produce a chart it renders one from the numbers in the question and
// returns it as a base64 PNG data URI; otherwise the question is about
// an existing visualization and goes to the model.
type Chart struct {
	analyst *llm.Service
}

func NewChart(analyst *llm.Service) *Chart {
	return &Chart{analyst: analyst}
}

func (c *Chart) Solve(ctx context.Context, question, rawHTML string) (string, error) {
	lower := strings.ToLower(question)
	if strings.Contains(lower, "create") || strings.Contains(lower, "generate") || strings.Contains(lower, "draw") {
		values := extractChartValues(question)
		if len(values) > 0 {
			uri, err := renderChart(question, values)
			if err == nil {
				return uri, nil
			}
			// fall through to the model on render failure
		}
	}

	contextText := ""
	if content := ExtractContent(rawHTML); content != "" {
		contextText = "Page Content:\n" + content
	}
	return c.analyst.AnswerQuiz(ctx, question, contextText)
}

// extractChartValues pulls the numeric series out of the question text.
func extractChartValues(question string) []float64 {
	var values []float64
	for _, m := range chartNumberRE.FindAllString(question, -1) {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		values = append(values, v)
	}
	return values
}

// renderChart draws a bar chart (or a line chart when the question asks
// for one) of the values and encodes it as a PNG data URI.
func renderChart(question string, values []float64) (string, error) {
	p := plot.New()
	p.Title.Text = "Generated Chart"
	p.Y.Label.Text = "Value"

	lower := strings.ToLower(question)
	if strings.Contains(lower, "line") {
		pts := make(plotter.XYs, len(values))
		for i, v := range values {
			pts[i].X = float64(i)
			pts[i].Y = v
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return "", fmt.Errorf("build line: %w", err)
		}
		p.Add(line)
	} else {
		bars, err := plotter.NewBarChart(plotter.Values(values), vg.Points(20))
		if err != nil {
			return "", fmt.Errorf("build bars: %w", err)
		}
		p.Add(bars)
		labels := make([]string, len(values))
		for i := range labels {
			labels[i] = strconv.Itoa(i + 1)
		}
		p.NominalX(labels...)
	}

	w, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return "", fmt.Errorf("render chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("encode chart: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
