package models

import "time"

// UsageRecord is one append-only ledger row for a completed mention request.
// Cached is a subset of Input, never an addition: CachedTokens <= InputTokens
// must hold for every row (Testable Property 2).
type UsageRecord struct {
	Timestamp            time.Time
	RequestID            string
	Nick                 string
	Channel              string
	Model                string
	InputTokens          int
	CachedTokens         int
	OutputTokens         int
	CostUSD              float64
	ToolCalls            int
	WebSearchCalls       int
	CodeInterpreterCalls int
}

// CostTable prices a model in dollars per one million tokens, plus a flat
// per-call charge for provider-side web search.
type CostTable struct {
	InputPerMillion  float64
	CachedPerMillion float64
	OutputPerMillion float64
	WebSearchPerCall float64
}

// DefaultCostTable is used for models absent from the configured price list.
var DefaultCostTable = CostTable{
	InputPerMillion:  2.50,
	CachedPerMillion: 1.25,
	OutputPerMillion: 10.00,
	WebSearchPerCall: 0.01,
}

// Estimate computes the dollar cost of a turn's token usage plus any
// provider-side tool calls, per spec.md §6's cost model:
//
//	cost = uncached/1M*input + cached/1M*cached + output/1M*output + webSearchCalls*perCall
func (c CostTable) Estimate(inputTokens, cachedTokens, outputTokens, webSearchCalls int) float64 {
	if cachedTokens > inputTokens {
		// Defensive clamp: spec.md §9 leaves this to the implementer since the
		// provider is assumed never to report it, but a clamp keeps the
		// invariant total regardless.
		cachedTokens = inputTokens
	}
	uncached := inputTokens - cachedTokens
	cost := float64(uncached)/1e6*c.InputPerMillion +
		float64(cachedTokens)/1e6*c.CachedPerMillion +
		float64(outputTokens)/1e6*c.OutputPerMillion +
		float64(webSearchCalls)*c.WebSearchPerCall
	return cost
}
