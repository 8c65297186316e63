package solver

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestTabularCutoffComputedDirectly(t *testing.T) {
	analyst, provider := newStubAnalyst()
	downloads := &stubDownloader{data: []byte("value\n10\n60\n70\n")}
	tabular := NewTabular(analyst, downloads)

	answer, err := tabular.Solve(context.Background(), "Sum all values greater than 50", "https://files.example.com/data.csv", "")
	require.NoError(t, err)
	require.Equal(t, "130", answer)
	require.Empty(t, provider.calls)
	require.Equal(t, []string{"https://files.example.com/data.csv"}, downloads.urls)
}

func TestTabularCutoffPatterns(t *testing.T) {
	cases := []struct {
		question string
		want     float64
		ok       bool
	}{
		{"values with cutoff: 25", 25, true},
		{"apply the threshold 100", 100, true},
		{"sum entries greater than 7", 7, true},
		{"everything above 3", 3, true},
		{"just sum everything", 0, false},
	}
	for _, tc := range cases {
		cutoff, ok := detectCutoff(tc.question)
		require.Equal(t, tc.ok, ok, tc.question)
		if ok {
			require.Equal(t, tc.want, cutoff, tc.question)
		}
	}
}

func TestTabularDelegatesToAnalyst(t *testing.T) {
	analyst, provider := newStubAnalyst("70")
	downloads := &stubDownloader{data: []byte("a,b\n10,20\n30,40\n")}
	tabular := NewTabular(analyst, downloads)

	answer, err := tabular.Solve(context.Background(), "What is the largest value?", "https://files.example.com/data.csv", "")
	require.NoError(t, err)
	require.Equal(t, "70", answer)

	prompt := provider.lastUserContent(t)
	require.Contains(t, prompt, "What is the largest value?")
	require.Contains(t, prompt, "10 | 20")
	require.Contains(t, prompt, "30 | 40")
}

func TestTabularInlineDataFallback(t *testing.T) {
	analyst, provider := newStubAnalyst("6")
	tabular := NewTabular(analyst, &stubDownloader{})

	rawHTML := `<div><table><tr><td>1</td><td>2</td></tr><tr><td>3</td><td>4</td></tr></table></div>`
	_, err := tabular.Solve(context.Background(), "Sum the first column", "", rawHTML)
	require.NoError(t, err)

	prompt := provider.lastUserContent(t)
	require.Contains(t, prompt, "1 | 2")
	require.Contains(t, prompt, "3 | 4")
}

func TestTabularDownloadFailureFallsBackToInline(t *testing.T) {
	analyst, provider := newStubAnalyst("answer")
	downloads := &stubDownloader{err: context.DeadlineExceeded}
	tabular := NewTabular(analyst, downloads)

	rawHTML := `<pre>inline: 42</pre>`
	_, err := tabular.Solve(context.Background(), "What is the inline value?", "https://files.example.com/data.csv", rawHTML)
	require.NoError(t, err)
	require.Contains(t, provider.lastUserContent(t), "inline: 42")
}

func TestParseDatasetJSON(t *testing.T) {
	values, text := parseDataset("https://files.example.com/data.json", []byte(`{"sales": [5, 15, 25]}`))
	require.ElementsMatch(t, []float64{5, 15, 25}, values)
	require.Contains(t, text, "sales")
}

func TestParseDatasetXLSX(t *testing.T) {
	file := excelize.NewFile()
	require.NoError(t, file.SetCellValue("Sheet1", "A1", 10))
	require.NoError(t, file.SetCellValue("Sheet1", "B1", 20))
	var buf bytes.Buffer
	require.NoError(t, file.Write(&buf))

	values, text := parseDataset("https://files.example.com/data.xlsx", buf.Bytes())
	require.ElementsMatch(t, []float64{10, 20}, values)
	require.Contains(t, text, "10 | 20")
}

func TestParseDatasetUnknownExtensionTriesJSONThenCSV(t *testing.T) {
	values, _ := parseDataset("https://files.example.com/data", []byte(`[1, 2, 3]`))
	require.ElementsMatch(t, []float64{1, 2, 3}, values)

	values, text := parseDataset("https://files.example.com/data", []byte("4,5\n6,7\n"))
	require.ElementsMatch(t, []float64{4, 5, 6, 7}, values)
	require.Contains(t, text, "4 | 5")
}

func TestFormatNumber(t *testing.T) {
	require.Equal(t, "130", formatNumber(130))
	require.Equal(t, "2.5", formatNumber(2.5))
}
