package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"TrendWatcher/internal/domain"
)

type fakeSearch struct {
	docs    []domain.SearchDocument
	err     error
	queries []string
}

func (f *fakeSearch) Search(_ context.Context, query string) ([]domain.SearchDocument, error) {
	f.queries = append(f.queries, query)
	return f.docs, f.err
}

// scriptedCompletion answers the summarize prompt with summary and every reflect
// prompt with a rewrite that echoes the original paragraph.
type scriptedCompletion struct {
	mu        sync.Mutex
	summary   string
	failOn    int
	prompts   []string
	reflectFn func(original string) string
}

func (s *scriptedCompletion) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.failOn > 0 && len(s.prompts) == s.failOn {
		return "", errors.New("upstream unavailable")
	}
	if strings.HasPrefix(prompt, "Improve the following summary") {
		original := strings.TrimSpace(strings.SplitN(prompt, "Original Summary:\n", 2)[1])
		if s.reflectFn != nil {
			return s.reflectFn(original), nil
		}
		return "  Refined: " + original + "\n", nil
	}
	return s.summary, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func docs(n int) []domain.SearchDocument {
	out := make([]domain.SearchDocument, n)
	for i := range out {
		out[i] = domain.SearchDocument{Title: fmt.Sprintf("t%d", i), Content: fmt.Sprintf("document %d", i)}
	}
	return out
}

const threeBrands = `{"summaries":[
 {"heading":"Adidas","summary":"Ultraboost creator campaign on TikTok.","engagement":"2M views"},
 {"heading":"Hoka","summary":"Trail community runs on Instagram.","engagement":""},
 {"heading":"Asics","summary":"Marathon training content on YouTube."}
]}`

func TestRunNikeScenario(t *testing.T) {
	t.Parallel()

	search := &fakeSearch{docs: docs(8)}
	llm := &scriptedCompletion{summary: threeBrands}
	p := NewPipeline(PipelineDeps{Search: search, Completion: llm, Logger: testLogger()})

	trace, err := p.Trace(context.Background(), domain.NewTrendQuery("Nike", "running shoes"))
	if err != nil {
		t.Fatalf("trace: %v", err)
	}

	if trace.Fetch.Documents != 8 || trace.Fetch.Used != 6 {
		t.Fatalf("unexpected fetch accounting: %+v", trace.Fetch)
	}
	if !strings.Contains(trace.Fetch.Content, "document 5") || strings.Contains(trace.Fetch.Content, "document 6") {
		t.Fatalf("content must hold exactly the first six docs: %q", trace.Fetch.Content)
	}
	if strings.Count(trace.Fetch.Content, "\n\n") != 5 {
		t.Fatalf("documents must be separated by blank lines: %q", trace.Fetch.Content)
	}
	if search.queries[0] != "What are Nike's competitors doing in the running shoes category on social platforms in the past two days?" {
		t.Fatalf("unexpected search query %q", search.queries[0])
	}

	got := trace.Final.Summaries
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	wantEngagement := []string{"2M views", domain.NotSpecified, domain.NotSpecified}
	for i, item := range got {
		if item.Heading == "" || item.Summary == "" {
			t.Fatalf("item %d is empty: %+v", i, item)
		}
		if item.Engagement != wantEngagement[i] {
			t.Fatalf("item %d engagement %q, want %q", i, item.Engagement, wantEngagement[i])
		}
	}

	// one summarize call plus one reflect call per item
	if len(llm.prompts) != 4 {
		t.Fatalf("expected 4 completion calls, got %d", len(llm.prompts))
	}
	if !strings.Contains(llm.prompts[0], "exclude Nike") {
		t.Fatalf("summarize prompt must exclude the subject brand: %q", llm.prompts[0])
	}
}

func TestRunMalformedOutputFallsBack(t *testing.T) {
	t.Parallel()

	llm := &scriptedCompletion{
		summary:   "  Sorry, I could not format this.  ",
		reflectFn: func(original string) string { return original },
	}
	p := NewPipeline(PipelineDeps{Search: &fakeSearch{docs: docs(2)}, Completion: llm, Logger: testLogger()})

	set, err := p.Run(context.Background(), domain.NewTrendQuery("Nike", "running shoes"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := domain.TrendSummaryItem{Heading: "Fallback", Summary: "Sorry, I could not format this.", Engagement: domain.NotSpecified}
	if len(set.Summaries) != 1 || set.Summaries[0] != want {
		t.Fatalf("unexpected summaries %+v", set.Summaries)
	}
}

func TestRunWithZeroSearchResults(t *testing.T) {
	t.Parallel()

	llm := &scriptedCompletion{summary: "No competitor activity found."}
	p := NewPipeline(PipelineDeps{Search: &fakeSearch{}, Completion: llm, Logger: testLogger()})

	trace, err := p.Trace(context.Background(), domain.NewTrendQuery("Nike", "running shoes"))
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if trace.Fetch.Content != "" || trace.Fetch.Used != 0 {
		t.Fatalf("expected empty content, got %+v", trace.Fetch)
	}
	if len(trace.Final.Summaries) == 0 {
		t.Fatal("expected at least the fallback item")
	}
}

func TestFetchSkipsBlankAndFlattensHTML(t *testing.T) {
	t.Parallel()

	search := &fakeSearch{docs: []domain.SearchDocument{
		{Content: "   "},
		{Content: "<div><p>Adidas  launched</p>\n<script>var x;</script>\n<p>a drop</p></div>"},
		{Content: "plain text"},
	}}
	p := NewPipeline(PipelineDeps{Search: search, Logger: testLogger()})

	res, err := p.Fetch(context.Background(), domain.NewTrendQuery("Nike", "shoes"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Used != 2 {
		t.Fatalf("expected 2 usable docs, got %d", res.Used)
	}
	if res.Content != "Adidas launched a drop\n\nplain text" {
		t.Fatalf("unexpected content %q", res.Content)
	}
}

func TestFetchKeepsPlainTextWithAngleBrackets(t *testing.T) {
	t.Parallel()

	plain := "Adidas spend<Puma budget and reach>1M views.\nSecond line."
	search := &fakeSearch{docs: []domain.SearchDocument{{Content: plain}}}
	p := NewPipeline(PipelineDeps{Search: search, Logger: testLogger()})

	res, err := p.Fetch(context.Background(), domain.NewTrendQuery("Nike", "shoes"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Content != plain {
		t.Fatalf("plain text must pass through unchanged, got %q", res.Content)
	}
}

func TestLooksLikeMarkup(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{"<p>Adidas</p>", true},
		{"line<br/>break", true},
		{`<a href="https://example.com">drop</a>`, true},
		{"ends with </div>", true},
		{"spend<Puma budget and reach>1M", false},
		{"x < y and y > z", false},
		{"grab <a lot> of attention", false},
		{"no brackets at all", false},
	}
	for _, tc := range cases {
		if got := looksLikeMarkup(tc.in); got != tc.want {
			t.Fatalf("looksLikeMarkup(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFetchPropagatesSearchFailure(t *testing.T) {
	t.Parallel()

	p := NewPipeline(PipelineDeps{Search: &fakeSearch{err: errors.New("quota")}, Logger: testLogger()})
	if _, err := p.Fetch(context.Background(), domain.NewTrendQuery("Nike", "shoes")); err == nil {
		t.Fatal("expected search error")
	}
}

func TestReflectPreservesOrderAndFields(t *testing.T) {
	t.Parallel()

	in := SummarizeResult{Items: []domain.TrendSummaryItem{
		{Heading: "B", Summary: "second", Engagement: "10"},
		{Heading: "A", Summary: "first", Engagement: domain.NotSpecified},
	}}
	p := NewPipeline(PipelineDeps{Completion: &scriptedCompletion{}, Logger: testLogger()})

	out, err := p.Reflect(context.Background(), in)
	if err != nil {
		t.Fatalf("reflect: %v", err)
	}
	if len(out.Items) != len(in.Items) {
		t.Fatalf("length changed: %d", len(out.Items))
	}
	for i := range in.Items {
		if out.Items[i].Heading != in.Items[i].Heading || out.Items[i].Engagement != in.Items[i].Engagement {
			t.Fatalf("item %d changed heading/engagement: %+v", i, out.Items[i])
		}
		if out.Items[i].Summary != "Refined: "+in.Items[i].Summary {
			t.Fatalf("item %d unexpected summary %q", i, out.Items[i].Summary)
		}
	}
	if in.Items[0].Summary != "second" {
		t.Fatal("reflect mutated its input")
	}
}

func TestReflectFailureAbortsRun(t *testing.T) {
	t.Parallel()

	// call 1 summarizes, call 3 is the second reflection
	llm := &scriptedCompletion{summary: threeBrands, failOn: 3}
	p := NewPipeline(PipelineDeps{Search: &fakeSearch{docs: docs(1)}, Completion: llm, Logger: testLogger()})

	if _, err := p.Run(context.Background(), domain.NewTrendQuery("Nike", "shoes")); err == nil {
		t.Fatal("expected reflect error to propagate")
	}
	if len(llm.prompts) != 3 {
		t.Fatalf("expected run to stop after failing call, got %d calls", len(llm.prompts))
	}
}
