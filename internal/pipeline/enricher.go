package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/pkg/perplexity"
)

// Placeholder answers that count as "not found".
var emptyAnswers = map[string]bool{
	"": true, "null": true, "n/a": true, "na": true, "unknown": true, "none": true, "not available": true,
}

// Enricher fills missing candidate fields with one web-grounded lookup per
// candidate. Populated fields are never overwritten. A failed lookup leaves
// that candidate as it was; the stage still completes and the failure
// count is attached to the step as a note.
type Enricher struct {
	client      perplexity.Client
	concurrency int
	notes       Annotator
}

func NewEnricher(client perplexity.Client, concurrency int, notes Annotator) *Enricher {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Enricher{client: client, concurrency: concurrency, notes: notes}
}

func (e *Enricher) Name() model.StepID { return model.StepEnricher }

func (e *Enricher) Run(ctx context.Context, in State) (State, error) {
	log := zap.L().With(zap.String("run_id", in.RunID), zap.String("sponsor", in.SponsorName))

	out := make([]model.Candidate, len(in.Candidates))
	copy(out, in.Candidates)

	var attempted, enriched, failed atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)

	for i, c := range in.Candidates {
		missing := c.MissingFields()
		if len(missing) == 0 {
			continue
		}
		attempted.Add(1)
		g.Go(func() error {
			patch, err := e.lookup(ctx, in.SponsorName, c, missing)
			if err != nil {
				failed.Add(1)
				log.Warn("enricher: lookup failed", zap.String("asset", c.Asset), zap.Error(err))
				return nil
			}
			if len(patch) > 0 {
				out[i] = c.FillMissing(patch)
				enriched.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 && e.notes != nil {
		msg := fmt.Sprintf("%d of %d enrichments failed", n, attempted.Load())
		if err := e.notes.StepAnnotate(ctx, in.RunID, model.StepEnricher, msg); err != nil {
			log.Warn("enricher: annotate step", zap.Error(err))
		}
	}

	log.Info("enricher: enrichment complete",
		zap.Int32("attempted", attempted.Load()),
		zap.Int32("enriched", enriched.Load()),
		zap.Int32("failed", failed.Load()),
	)
	return in.WithEnriched(out, int(enriched.Load())), nil
}

// lookup asks for exactly the missing fields and returns the usable answers.
func (e *Enricher) lookup(ctx context.Context, sponsor string, c model.Candidate, missing []string) (map[string]string, error) {
	props := make(map[string]any, len(missing))
	for _, f := range missing {
		props[f] = map[string]string{"type": "string"}
	}
	schema, err := json.Marshal(map[string]any{
		"schema": map[string]any{"type": "object", "properties": props},
	})
	if err != nil {
		return nil, eris.Wrap(err, "enricher: marshal schema")
	}

	known := []string{"company: " + c.Asset, "private-equity owner: " + sponsor}
	for _, f := range model.EnrichableFields() {
		if v := c.Get(f); v != "" {
			known = append(known, f+": "+v)
		}
	}
	prompt := fmt.Sprintf(
		"Known facts:\n%s\n\nFind these missing fields: %s.\nReply with a JSON object containing only those keys. Use null when you cannot verify a value. dateInvested is the year the sponsor invested.",
		strings.Join(known, "\n"), strings.Join(missing, ", "),
	)

	resp, err := e.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: "You research private companies and answer with strict JSON."},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &perplexity.ResponseFormat{Type: "json_schema", JSONSchema: schema},
	})
	if err != nil {
		return nil, eris.Wrap(err, "enricher: chat completion")
	}
	return parsePatch(resp.Text(), missing)
}

// parsePatch decodes a JSON object reply and keeps only requested keys with
// real string answers.
func parsePatch(text string, requested []string) (map[string]string, error) {
	raw, ok := jsonSpan(text, '{', '}')
	if !ok {
		return nil, eris.New("enricher: no json object in response")
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, eris.Wrap(err, "enricher: decode response")
	}

	patch := make(map[string]string, len(requested))
	for _, f := range requested {
		v, ok := decoded[f].(string)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if emptyAnswers[strings.ToLower(v)] {
			continue
		}
		patch[f] = v
	}
	return patch, nil
}
