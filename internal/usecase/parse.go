package usecase

import (
	"encoding/json"
	"errors"
	"strings"

	"TrendWatcher/internal/domain"
)

const fallbackHeading = "Fallback"

// ParseResult is either Parsed(items) or Unparsed(raw). Use Parsed to tell
// the variants apart and Items to resolve either into a usable list.
type ParseResult struct {
	raw    string
	items  []domain.TrendSummaryItem
	parsed bool
	err    error
}

// Parsed reports whether the model output matched the summary schema.
func (r ParseResult) Parsed() bool { return r.parsed }

// Raw returns the unmodified model output.
func (r ParseResult) Raw() string { return r.raw }

// Err explains why the output was not parsed; nil for the Parsed variant.
func (r ParseResult) Err() error { return r.err }

// Items returns normalized parsed items, or the single fallback item.
func (r ParseResult) Items() []domain.TrendSummaryItem {
	if !r.parsed {
		return []domain.TrendSummaryItem{Fallback(r.raw)}
	}
	return NormalizeEngagement(r.items)
}

// Fallback wraps unparseable model output into one summary item.
func Fallback(raw string) domain.TrendSummaryItem {
	return domain.TrendSummaryItem{
		Heading:    fallbackHeading,
		Summary:    strings.TrimSpace(raw),
		Engagement: domain.NotSpecified,
	}
}

// NormalizeEngagement returns a copy where blank engagement values read "Not specified".
func NormalizeEngagement(items []domain.TrendSummaryItem) []domain.TrendSummaryItem {
	out := make([]domain.TrendSummaryItem, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Engagement) == "" {
			item.Engagement = domain.NotSpecified
		}
		out[i] = item
	}
	return out
}

type wireSummary struct {
	Heading    *string `json:"heading"`
	Summary    *string `json:"summary"`
	Engagement *string `json:"engagement"`
}

type wireSummaryList struct {
	Summaries []wireSummary `json:"summaries"`
}

// ParseSummaries decodes model output into the summary schema. It never fails;
// problems are reported through the Unparsed variant.
func ParseSummaries(raw string) ParseResult {
	result := ParseResult{raw: raw}

	var list wireSummaryList
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &list); err != nil {
		result.err = err
		return result
	}
	if len(list.Summaries) == 0 {
		result.err = errors.New("no summaries in output")
		return result
	}

	items := make([]domain.TrendSummaryItem, 0, len(list.Summaries))
	for _, s := range list.Summaries {
		if s.Heading == nil || strings.TrimSpace(*s.Heading) == "" {
			result.err = errors.New("summary without heading")
			return result
		}
		if s.Summary == nil || strings.TrimSpace(*s.Summary) == "" {
			result.err = errors.New("summary without text")
			return result
		}
		item := domain.TrendSummaryItem{Heading: *s.Heading, Summary: *s.Summary}
		if s.Engagement != nil {
			item.Engagement = *s.Engagement
		}
		items = append(items, item)
	}

	result.items = items
	result.parsed = true
	return result
}

func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	// Models sometimes wrap the JSON object in prose.
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}
