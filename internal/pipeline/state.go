package pipeline

import (
	"maps"
	"slices"

	"github.com/sells-group/portfolio-discovery/internal/model"
)

// State is the value threaded between stages. Stages never mutate the State
// they receive; the With* helpers return a copy with fresh backing storage.
type State struct {
	RunID        string
	SponsorName  string
	SponsorID    *int64
	PortfolioURL string
	Mode         model.WriteMode
	UserID       string

	URLs       []string
	Pages      map[string]string
	Candidates []model.Candidate
	Enriched   int
	Added      int
}

// NewState seeds a State from a driver request.
func NewState(req Request) State {
	return State{
		RunID:        req.RunID,
		SponsorName:  req.SponsorName,
		SponsorID:    req.SponsorID,
		PortfolioURL: req.PortfolioURL,
		Mode:         req.Mode,
		UserID:       req.UserID,
	}
}

func (s State) WithURLs(urls []string) State {
	s.URLs = slices.Clone(urls)
	return s
}

func (s State) WithPages(pages map[string]string) State {
	s.Pages = maps.Clone(pages)
	return s
}

func (s State) WithCandidates(c []model.Candidate) State {
	s.Candidates = slices.Clone(c)
	return s
}

func (s State) WithEnriched(c []model.Candidate, enriched int) State {
	s = s.WithCandidates(c)
	s.Enriched = enriched
	return s
}

func (s State) WithSponsor(id int64, added int) State {
	s.SponsorID = &id
	s.Added = added
	return s
}
