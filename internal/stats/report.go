package stats

import (
	"context"
	"fmt"
	"io"

	"github.com/verte-zerg/glide/internal/store"
)

// HistoryReport lists the most used learned words per locale.
type HistoryReport struct {
	Locales map[string][]store.WordUsage
	Order   []string
}

// BuildHistoryReport loads the top n words for locale, or for every locale
// with history when locale is empty.
func BuildHistoryReport(ctx context.Context, st *store.Store, locale string, n int) (HistoryReport, error) {
	locales := []string{locale}
	if locale == "" {
		var err error
		locales, err = st.Locales(ctx)
		if err != nil {
			return HistoryReport{}, err
		}
	}
	report := HistoryReport{Locales: map[string][]store.WordUsage{}}
	for _, l := range locales {
		words, err := st.TopWords(ctx, l, n)
		if err != nil {
			return HistoryReport{}, err
		}
		if len(words) == 0 {
			continue
		}
		report.Locales[l] = words
		report.Order = append(report.Order, l)
	}
	return report, nil
}

// Render writes one table per locale.
func (r HistoryReport) Render(w io.Writer, styled bool) error {
	if len(r.Order) == 0 {
		_, err := fmt.Fprintln(w, "No learned words yet.")
		return err
	}
	for i, locale := range r.Order {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		rows := make([][]string, 0, len(r.Locales[locale]))
		for _, u := range r.Locales[locale] {
			rows = append(rows, []string{
				u.Word,
				fmt.Sprintf("%d", u.Frequency),
				u.UpdatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		err := Table{
			Title:      fmt.Sprintf("History (%s)", locale),
			Headers:    []string{"Word", "Uses", "Last used"},
			Rows:       rows,
			RightAlign: map[int]bool{1: true},
		}.Render(w, styled)
		if err != nil {
			return err
		}
	}
	return nil
}
