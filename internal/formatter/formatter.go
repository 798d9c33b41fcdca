package formatter

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"TrendWatcher/internal/domain"
)

// Digest is the rendered email body in both variants.
type Digest struct {
	PlainText string
	HTML      string
}

const digestHTML = `<html>
  <body style="font-family: Arial, sans-serif; font-size: 14px; color: #333;">
    <p class="greeting">Dear <strong>{{.Name}}</strong>,</p>
    <p class="intro">Please find the latest competitor trends below:</p>
    <ul style="padding-left: 20px; margin-top: 10px;">
    {{- range .Items}}
      <li style="margin-bottom: 12px;">
        <strong>{{.Heading}}</strong><br>
        {{.Summary}}<br>
        <em style="color: gray;">Engagement: {{.Engagement}}</em>
      </li>
    {{- end}}
    </ul>
    <p class="signoff" style="margin-top: 30px;">Best regards,<br><strong>{{.Team}}</strong></p>
  </body>
</html>
`

var digestTemplate = template.Must(template.New("digest").Parse(digestHTML))

// Formatter renders summaries into email bodies. It is safe for concurrent use.
type Formatter struct {
	team string
}

// New returns a formatter signing emails with team.
func New(team string) *Formatter {
	if strings.TrimSpace(team) == "" {
		team = "Trend Insights Team"
	}
	return &Formatter{team: team}
}

// Render produces both body variants for a recipient.
func (f *Formatter) Render(name string, items []domain.TrendSummaryItem) (Digest, error) {
	html, err := f.HTML(name, items)
	if err != nil {
		return Digest{}, err
	}
	return Digest{PlainText: PlainText(items), HTML: html}, nil
}

// HTML renders the bullet-list email with a personalized greeting.
func (f *Formatter) HTML(name string, items []domain.TrendSummaryItem) (string, error) {
	view := struct {
		Name  string
		Team  string
		Items []domain.TrendSummaryItem
	}{
		Name:  cases.Title(language.English).String(strings.TrimSpace(name)),
		Team:  f.team,
		Items: withEngagement(items),
	}

	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render digest html: %w", err)
	}
	return buf.String(), nil
}

// PlainText renders one block per item separated by blank lines.
func PlainText(items []domain.TrendSummaryItem) string {
	blocks := make([]string, 0, len(items))
	for _, item := range withEngagement(items) {
		blocks = append(blocks, fmt.Sprintf("*%s*\n%s\nEngagement: %s", item.Heading, item.Summary, item.Engagement))
	}
	return strings.Join(blocks, "\n\n")
}

func withEngagement(items []domain.TrendSummaryItem) []domain.TrendSummaryItem {
	out := make([]domain.TrendSummaryItem, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Engagement) == "" {
			item.Engagement = "N/A"
		}
		out[i] = item
	}
	return out
}
