package pipeline

import (
	"context"

	"github.com/sells-group/portfolio-discovery/internal/model"
	"github.com/sells-group/portfolio-discovery/internal/portfolio"
)

// CompanyWriter reconciles candidates into storage. *portfolio.Writer
// implements it.
type CompanyWriter interface {
	Write(ctx context.Context, req portfolio.WriteRequest) (portfolio.WriteResult, error)
}

// WriterStage persists the final candidate list.
type WriterStage struct {
	writer CompanyWriter
}

func NewWriterStage(w CompanyWriter) *WriterStage {
	return &WriterStage{writer: w}
}

func (w *WriterStage) Name() model.StepID { return model.StepWriter }

func (w *WriterStage) Run(ctx context.Context, in State) (State, error) {
	res, err := w.writer.Write(ctx, portfolio.WriteRequest{
		SponsorName: in.SponsorName,
		SponsorID:   in.SponsorID,
		Mode:        in.Mode,
		Candidates:  in.Candidates,
		SourceCount: len(in.URLs),
	})
	if err != nil {
		return in, err
	}
	return in.WithSponsor(res.SponsorID, res.Added), nil
}
