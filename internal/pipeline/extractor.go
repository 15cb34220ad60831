package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/pkg/anthropic"
)

const (
	defaultMaxChars  = 120000
	defaultMaxTokens = 8192
)

const candidateSchemaJSON = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["asset"],
		"properties": {
			"asset":        {"type": "string", "minLength": 1},
			"dateInvested": {"type": ["string", "null"]},
			"sector":       {"type": ["string", "null"]},
			"webpage":      {"type": ["string", "null"]},
			"location":     {"type": ["string", "null"]},
			"description":  {"type": ["string", "null"]},
			"status":       {"type": ["string", "null"]}
		}
	}
}`

var candidateSchema = mustSchema(candidateSchemaJSON)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("pipeline: compile schema: %v", err))
	}
	return schema
}

const extractSystemPrompt = `You extract private-equity portfolio companies from website content.
Return ONLY a JSON array. Each element is an object with the keys:
asset (company name, required), dateInvested, sector, webpage, location, description, status (e.g. "current" or "realized").
Use null for anything the content does not state. Do not invent companies. Do not include the sponsor itself.`

// Extractor turns crawled pages into candidate companies with one
// schema-validated model call. Any failure yields an empty list.
type Extractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	maxChars  int
}

// ExtractorConfig tunes the Extractor. Zero values select defaults.
type ExtractorConfig struct {
	Model     string
	MaxTokens int64
	MaxChars  int
}

func NewExtractor(client anthropic.Client, cfg ExtractorConfig) *Extractor {
	e := &Extractor{client: client, model: cfg.Model, maxTokens: cfg.MaxTokens, maxChars: cfg.MaxChars}
	if e.maxTokens <= 0 {
		e.maxTokens = defaultMaxTokens
	}
	if e.maxChars <= 0 {
		e.maxChars = defaultMaxChars
	}
	return e
}

func (e *Extractor) Name() model.StepID { return model.StepExtractor }

func (e *Extractor) Run(ctx context.Context, in State) (State, error) {
	log := zap.L().With(zap.String("run_id", in.RunID), zap.String("sponsor", in.SponsorName))
	if len(in.Pages) == 0 {
		log.Info("extractor: no pages to extract from")
		return in.WithCandidates(nil), nil
	}

	candidates, err := e.extract(ctx, in)
	if err != nil {
		log.Warn("extractor: extraction failed, continuing with no candidates", zap.Error(err))
		return in.WithCandidates(nil), nil
	}
	log.Info("extractor: candidates extracted", zap.Int("candidates", len(candidates)))
	return in.WithCandidates(candidates), nil
}

func (e *Extractor) extract(ctx context.Context, in State) ([]model.Candidate, error) {
	content := aggregatePages(in.Pages, e.maxChars)
	prompt := fmt.Sprintf("Sponsor: %s\n\nWebsite content:\n\n%s", in.SponsorName, content)

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    extractSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extractor: create message")
	}
	resp.Usage.LogCost(e.model, string(model.StepExtractor))

	candidates, err := ParseCandidates(resp.Text())
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].SponsorName = in.SponsorName
	}
	return candidates, nil
}

// ParseCandidates pulls the JSON array out of a model reply, validates it
// against the candidate schema and decodes it.
func ParseCandidates(text string) ([]model.Candidate, error) {
	raw, ok := jsonSpan(text, '[', ']')
	if !ok {
		return nil, eris.New("extractor: no json array in response")
	}

	result, err := candidateSchema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, eris.Wrap(err, "extractor: load response json")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, eris.Errorf("extractor: response failed schema: %s", strings.Join(msgs, "; "))
	}

	var out []model.Candidate
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, eris.Wrap(err, "extractor: decode candidates")
	}
	return out, nil
}

// jsonSpan returns the text from the first left delimiter to the last right
// delimiter, which strips prose and code fences around a JSON value.
func jsonSpan(text string, left, right byte) (string, bool) {
	start := strings.IndexByte(text, left)
	end := strings.LastIndexByte(text, right)
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// aggregatePages joins pages in URL order under per-source headings and
// truncates the result to maxChars bytes.
func aggregatePages(pages map[string]string, maxChars int) string {
	urls := make([]string, 0, len(pages))
	for u := range pages {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	var b strings.Builder
	for _, u := range urls {
		fmt.Fprintf(&b, "## Source: %s\n\n%s\n\n", u, strings.TrimSpace(pages[u]))
	}
	out := b.String()
	if len(out) > maxChars {
		out = strings.ToValidUTF8(out[:maxChars], "")
	}
	return out
}
