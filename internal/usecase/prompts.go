package usecase

import (
	"fmt"

	"TrendWatcher/internal/domain"
)

const formatInstructions = `Respond with JSON only, no other text, matching this schema:
{
  "summaries": [
    {
      "heading": "competitor brand name or short title",
      "summary": "one paragraph describing what the brand is doing",
      "engagement": "engagement figures or signals, empty string if unknown"
    }
  ]
}`

const summarizeTemplate = `You are analyzing competitor strategies in the %[2]s category. Your task is to extract and summarize what each major competing brand is doing across social media and marketing.

- Focus only on competitors (exclude %[1]s).
- Mention brand names explicitly.
- One paragraph per brand with platforms, tactics, targeting.

TEXT:
%[3]s

%[4]s
`

const reflectTemplate = `Improve the following summary for clarity, conciseness, and impact. Output only the improved version.

Original Summary:
%s
`

func searchQuery(q domain.TrendQuery) string {
	return fmt.Sprintf("What are %s's competitors doing in the %s category on social platforms in the past two days?", q.Brand, q.Product)
}

func summarizePrompt(q domain.TrendQuery, content string) string {
	return fmt.Sprintf(summarizeTemplate, q.Brand, q.Product, content, formatInstructions)
}

func reflectPrompt(summary string) string {
	return fmt.Sprintf(reflectTemplate, summary)
}
