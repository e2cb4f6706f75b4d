package stats

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/verte-zerg/glide/internal/model"
)

const sparkChars = " .:-=+*#%@"

// Sample is one recognized trace and the word it was drawn for.
type Sample struct {
	Want    string
	Got     model.SuggestedWords
	Latency time.Duration
}

// Summary aggregates benchmark samples.
type Summary struct {
	Samples      int
	K            int
	Top1         int
	TopK         int
	Empty        int
	Partial      int
	MeanEditDist float64
	MeanLatency  time.Duration
	P95Latency   time.Duration
}

// Top1Rate returns the share of samples whose first candidate was right.
func (s Summary) Top1Rate() float64 { return rate(s.Top1, s.Samples) }

// TopKRate returns the share of samples with the right word in the top K.
func (s Summary) TopKRate() float64 { return rate(s.TopK, s.Samples) }

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// Evaluate scores samples. The edit distance is taken between the wanted
// word and the first candidate, or the whole word when nothing was found.
func Evaluate(samples []Sample, k int) Summary {
	if k <= 0 {
		k = 1
	}
	s := Summary{Samples: len(samples), K: k}
	if len(samples) == 0 {
		return s
	}
	var (
		edits     int
		total     time.Duration
		latencies = make([]time.Duration, 0, len(samples))
	)
	for _, sample := range samples {
		total += sample.Latency
		latencies = append(latencies, sample.Latency)
		if sample.Got.Partial {
			s.Partial++
		}
		first, ok := sample.Got.First()
		if !ok {
			s.Empty++
			edits += len([]rune(sample.Want))
			continue
		}
		edits += levenshtein.ComputeDistance(sample.Want, first.Word)
		if first.Word == sample.Want {
			s.Top1++
		}
		if idx := sample.Got.IndexOf(sample.Want); idx >= 0 && idx < k {
			s.TopK++
		}
	}
	s.MeanEditDist = float64(edits) / float64(len(samples))
	s.MeanLatency = total / time.Duration(len(samples))
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	idx := int(math.Ceil(0.95*float64(len(latencies)))) - 1
	if idx < 0 {
		idx = 0
	}
	s.P95Latency = latencies[idx]
	return s
}

// Latencies returns sample latencies in milliseconds, in sample order.
func Latencies(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s.Latency) / float64(time.Millisecond)
	}
	return out
}

// MovingAverage computes a rolling mean over the provided window size.
func MovingAverage(values []float64, window int) []float64 {
	if window <= 1 || len(values) == 0 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, len(values))
	var sum float64
	for i := 0; i < len(values); i++ {
		sum += values[i]
		if i >= window {
			sum -= values[i-window]
		}
		den := float64(i + 1)
		if i >= window {
			den = float64(window)
		}
		out[i] = sum / den
	}
	return out
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal := values[0]
	maxVal := values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

// RenderSummary prints a benchmark summary table.
func RenderSummary(w io.Writer, s Summary, styled bool) error {
	if s.Samples == 0 {
		_, err := fmt.Fprintln(w, "No samples.")
		return err
	}
	return Table{
		Title:   "Summary",
		Headers: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Samples", fmt.Sprintf("%d", s.Samples)},
			{"Top-1", fmt.Sprintf("%.2f%%", s.Top1Rate()*100)},
			{fmt.Sprintf("Top-%d", s.K), fmt.Sprintf("%.2f%%", s.TopKRate()*100)},
			{"Empty", fmt.Sprintf("%d", s.Empty)},
			{"Partial", fmt.Sprintf("%d", s.Partial)},
			{"Mean edit distance", fmt.Sprintf("%.2f", s.MeanEditDist)},
			{"Mean latency", s.MeanLatency.Round(time.Microsecond).String()},
			{"P95 latency", s.P95Latency.Round(time.Microsecond).String()},
		},
		RightAlign: map[int]bool{1: true},
	}.Render(w, styled)
}
