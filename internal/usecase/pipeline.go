package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/atom"

	"TrendWatcher/internal/domain"
	"TrendWatcher/internal/ports"
)

// MaxFetchedDocuments caps how many search results feed the summarizer.
const MaxFetchedDocuments = 6

// PipelineDeps wires the driven adapters into the trend pipeline.
type PipelineDeps struct {
	Search     ports.SearchProvider
	Completion ports.CompletionClient
	Logger     *slog.Logger
}

// FetchResult is the output of the fetch stage.
type FetchResult struct {
	Content   string
	Documents int
	Used      int
}

// SummarizeResult is the output of the summarize stage.
type SummarizeResult struct {
	Raw   string
	Parse ParseResult
	Items []domain.TrendSummaryItem
}

// ReflectResult is the output of the reflect stage.
type ReflectResult struct {
	Items []domain.TrendSummaryItem
}

// Trace holds every stage output of a single run.
type Trace struct {
	Query     domain.TrendQuery
	Fetch     FetchResult
	Summarize SummarizeResult
	Reflect   ReflectResult
	Final     domain.SummarySet
}

// Pipeline turns a brand/product pair into a refined list of competitor summaries.
type Pipeline struct {
	search     ports.SearchProvider
	completion ports.CompletionClient
	logger     *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		search:     deps.Search,
		completion: deps.Completion,
		logger:     logger.With("component", "pipeline"),
	}
}

// Run executes fetch, summarize, reflect and finalize in order.
func (p *Pipeline) Run(ctx context.Context, query domain.TrendQuery) (domain.SummarySet, error) {
	trace, err := p.Trace(ctx, query)
	if err != nil {
		return domain.SummarySet{}, err
	}
	return trace.Final, nil
}

// Trace is Run that also returns the intermediate stage outputs.
func (p *Pipeline) Trace(ctx context.Context, query domain.TrendQuery) (Trace, error) {
	trace := Trace{Query: query}

	fetched, err := p.Fetch(ctx, query)
	if err != nil {
		return trace, err
	}
	trace.Fetch = fetched

	summarized, err := p.Summarize(ctx, query, fetched)
	if err != nil {
		return trace, err
	}
	trace.Summarize = summarized

	reflected, err := p.Reflect(ctx, summarized)
	if err != nil {
		return trace, err
	}
	trace.Reflect = reflected
	trace.Final = Finalize(reflected)

	p.logger.Info("pipeline finished",
		"brand", query.Brand,
		"product", query.Product,
		"documents", fetched.Documents,
		"used", fetched.Used,
		"parsed", summarized.Parse.Parsed(),
		"items", len(trace.Final.Summaries))

	return trace, nil
}

// Fetch searches for recent competitor activity and merges the first usable results.
func (p *Pipeline) Fetch(ctx context.Context, query domain.TrendQuery) (FetchResult, error) {
	if p.search == nil {
		return FetchResult{}, errors.New("fetch: search provider not configured")
	}

	docs, err := p.search.Search(ctx, searchQuery(query))
	if err != nil {
		return FetchResult{}, fmt.Errorf("search competitors: %w", err)
	}

	parts := make([]string, 0, MaxFetchedDocuments)
	for _, doc := range docs {
		if len(parts) == MaxFetchedDocuments {
			break
		}
		text := documentText(doc.Content)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}

	if len(parts) == 0 {
		p.logger.Warn("search returned no usable documents", "brand", query.Brand, "product", query.Product)
	}

	return FetchResult{
		Content:   strings.Join(parts, "\n\n"),
		Documents: len(docs),
		Used:      len(parts),
	}, nil
}

// Summarize asks the model for one paragraph per competitor. Unparseable output
// yields the fallback item instead of an error.
func (p *Pipeline) Summarize(ctx context.Context, query domain.TrendQuery, fetched FetchResult) (SummarizeResult, error) {
	if p.completion == nil {
		return SummarizeResult{}, errors.New("summarize: completion client not configured")
	}

	raw, err := p.completion.Complete(ctx, summarizePrompt(query, fetched.Content))
	if err != nil {
		return SummarizeResult{}, fmt.Errorf("summarize competitors: %w", err)
	}

	parsed := ParseSummaries(raw)
	if !parsed.Parsed() {
		p.logger.Warn("model output not parseable, using fallback",
			"brand", query.Brand,
			"error", parsed.Err())
	}

	return SummarizeResult{Raw: raw, Parse: parsed, Items: parsed.Items()}, nil
}

// Reflect rewrites each summary paragraph with one model call per item. Heading,
// engagement and order are preserved.
func (p *Pipeline) Reflect(ctx context.Context, summarized SummarizeResult) (ReflectResult, error) {
	if p.completion == nil {
		return ReflectResult{}, errors.New("reflect: completion client not configured")
	}

	items := make([]domain.TrendSummaryItem, 0, len(summarized.Items))
	for i, item := range summarized.Items {
		improved, err := p.completion.Complete(ctx, reflectPrompt(item.Summary))
		if err != nil {
			return ReflectResult{}, fmt.Errorf("reflect item %d (%s): %w", i, item.Heading, err)
		}
		item.Summary = strings.TrimSpace(improved)
		items = append(items, item)
	}

	return ReflectResult{Items: items}, nil
}

// Finalize wraps reflected items into the output envelope.
func Finalize(reflected ReflectResult) domain.SummarySet {
	items := make([]domain.TrendSummaryItem, len(reflected.Items))
	copy(items, reflected.Items)
	return domain.SummarySet{Summaries: items}
}

var tagPattern = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9]*)([^<>]*)>`)

// looksLikeMarkup reports whether content holds at least one tag of a known
// HTML element. Opening tags count only when bare or carrying attributes, so
// prose such as "spend<Puma budget and reach>" stays text.
func looksLikeMarkup(content string) bool {
	for _, m := range tagPattern.FindAllStringSubmatch(content, -1) {
		if atom.Lookup([]byte(strings.ToLower(m[2]))) == 0 {
			continue
		}
		rest := strings.TrimSpace(m[3])
		if m[1] == "/" || rest == "" || rest == "/" || strings.Contains(rest, "=") {
			return true
		}
	}
	return false
}

// documentText flattens HTML snippets to words and returns plain text as is.
func documentText(content string) string {
	content = strings.TrimSpace(content)
	if content == "" || !looksLikeMarkup(content) {
		return content
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
