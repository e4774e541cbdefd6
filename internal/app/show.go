package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"stockfeed/internal/quote"
	"stockfeed/internal/service"
)

// Show prints the quotes currently held by the store.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	quotes, err := st.quotes.FetchQuotes(ctx)
	if err != nil {
		return err
	}
	if opts.Symbol != "" {
		quotes = filterSymbol(quotes, opts.Symbol)
	}
	if len(quotes) == 0 {
		fmt.Fprintln(a.Out, "no quotes found")
		return nil
	}

	a.printQuotes(quotes)
	return nil
}

// Seed writes a starting quote for every rule whose symbol has no quote yet.
func (a *App) Seed(ctx context.Context, opts SeedOptions) error {
	rules, err := a.ruleTable()
	if err != nil {
		return err
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	existing, err := st.quotes.FetchQuotes(ctx)
	if err != nil {
		return err
	}
	present := make(map[string]struct{}, len(existing))
	for _, q := range existing {
		present[q.ID] = struct{}{}
	}

	pending := make([]quote.Quote, 0, rules.Len())
	for _, q := range seedQuotes(rules) {
		if _, ok := present[q.ID]; ok && !opts.Overwrite {
			continue
		}
		pending = append(pending, q)
	}

	if len(pending) > 0 {
		if err := st.quotes.PutQuotes(ctx, pending); err != nil {
			return fmt.Errorf("seed quotes: %w", err)
		}
	}

	a.Logger.Info().Int("seeded", len(pending)).Int("existing", len(existing)).Msg("quote store seeded")
	fmt.Fprintf(a.Out, "seeded %d quote(s)\n", len(pending))
	return nil
}

func (a *App) printBatch(result service.BatchResult) {
	if result.Skipped {
		fmt.Fprintln(a.Out, "tick skipped: advisory lock held by another instance")
		return
	}

	a.printQuotes(result.Quotes)

	delivered := "skipped"
	switch {
	case result.Delivery.OK():
		delivered = fmt.Sprintf("ok (%d)", result.Delivery.StatusCode)
	case result.Delivery.Err != nil:
		delivered = "failed: " + sanitizeInline(result.Delivery.Err.Error())
	}
	persisted := "ok"
	if result.PersistErr != nil {
		persisted = "failed: " + sanitizeInline(result.PersistErr.Error())
	}

	fmt.Fprintf(a.Out, "\ntick %s: %d updated, %d excluded, delivery %s, persist %s\n",
		result.TickID, len(result.Quotes), len(result.Excluded), delivered, persisted)
	for _, miss := range result.Excluded {
		fmt.Fprintf(a.Out, "  excluded %s (%s): no price rule\n", miss.QuoteID, miss.Symbol)
	}
}

func (a *App) printQuotes(quotes []quote.Quote) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSymbol\tPrice\tRange\tTimestamp (UTC)")
	for _, q := range quotes {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			q.ID,
			q.Symbol,
			q.Price.StringFixed(quote.PricePlaces),
			q.Range,
			quote.FormatTimestamp(q.Timestamp),
		)
	}
	writer.Flush()
}

func filterSymbol(quotes []quote.Quote, symbol string) []quote.Quote {
	filtered := make([]quote.Quote, 0, len(quotes))
	for _, q := range quotes {
		if strings.EqualFold(q.Symbol, symbol) {
			filtered = append(filtered, q)
		}
	}
	return filtered
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
