// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/contrib-counter/internal/document"
	"github.com/naka-gawa/contrib-counter/internal/domain"
	"github.com/naka-gawa/contrib-counter/internal/gateway"
	"github.com/naka-gawa/contrib-counter/internal/marker"
)

// Updater is the use case for refreshing the counts in a document.
// It orchestrates the counting and the rewriting of the document.
type Updater struct {
	counter gateway.Counter
	logger  *log.Logger
}

// NewUpdater creates a new Updater instance.
func NewUpdater(counter gateway.Counter, logger *log.Logger) *Updater {
	return &Updater{
		counter: counter,
		logger:  logger,
	}
}

// Request describes one run.
type Request struct {
	Username string
	Document string
	Style    marker.Style
	Targets  []domain.Target
	// DryRun computes the new document without writing it.
	DryRun bool
}

// Result is the outcome of a run.
type Result struct {
	Counts  []domain.Count
	Text    string
	Changed bool
	Written bool
	Summary domain.Summary
}

// Run performs the main business logic.
// Every marker is checked before the first API call, every count is resolved
// before the document is touched, and the document is written at most once.
// Any failure leaves the file on disk as it was.
func (u *Updater) Run(ctx context.Context, req Request) (*Result, error) {
	u.logger.Info("Reading document", "path", req.Document)
	text, err := document.Read(req.Document)
	if err != nil {
		return nil, err
	}
	for _, t := range req.Targets {
		if err := marker.Validate(text, t.Key, req.Style); err != nil {
			return nil, fmt.Errorf("%s: %w", req.Document, err)
		}
	}

	counts, err := u.Count(ctx, req.Username, req.Targets)
	if err != nil {
		return nil, err
	}

	patched, err := Apply(text, counts, req.Style)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Document, err)
	}

	result := &Result{
		Counts:  counts,
		Text:    patched,
		Changed: patched != text,
		Summary: Summarize(counts),
	}
	u.logger.Info("Counted contributions", "targets", len(counts), "total", result.Summary.Total, "median", result.Summary.Median, "max", result.Summary.Max)

	switch {
	case req.DryRun:
		u.logger.Info("Dry run, document not written", "changed", result.Changed)
	case !result.Changed:
		u.logger.Info("Document already up to date")
	default:
		if err := document.WriteAtomic(req.Document, patched); err != nil {
			return nil, err
		}
		result.Written = true
		u.logger.Info("Document updated", "path", req.Document)
	}
	return result, nil
}

// Count resolves every target in order, one request at a time.
// The first failure aborts the run, no target is skipped.
func (u *Updater) Count(ctx context.Context, user string, targets []domain.Target) ([]domain.Count, error) {
	counts := make([]domain.Count, 0, len(targets))
	for i, t := range targets {
		u.logger.Debug(fmt.Sprintf("[%d/%d] Counting %s", i+1, len(targets), t))

		var (
			value int
			err   error
		)
		if t.Mode.IsPullRequest() {
			value, err = u.counter.CountPullRequests(ctx, t.PullRequestQuery(user))
		} else {
			value, err = u.counter.CountCommits(ctx, t.Repo, user)
		}
		if err != nil {
			return nil, fmt.Errorf("count %s for %s: %w", t.Key, t.Repo.FullName(), err)
		}
		counts = append(counts, domain.Count{Target: t, Value: value})
	}
	return counts, nil
}

// Apply patches every count into text, feeding each result into the next substitution.
func Apply(text string, counts []domain.Count, style marker.Style) (string, error) {
	for _, c := range counts {
		var err error
		text, err = marker.Patch(text, c.Target.Key, c.Value, style)
		if err != nil {
			return "", err
		}
	}
	return text, nil
}

// Summarize computes the total, median and maximum of the counts.
func Summarize(counts []domain.Count) domain.Summary {
	if len(counts) == 0 {
		return domain.Summary{}
	}
	values := make(stats.Float64Data, 0, len(counts))
	for _, c := range counts {
		values = append(values, float64(c.Value))
	}
	total, _ := stats.Sum(values)
	median, _ := stats.Median(values)
	maximum, _ := stats.Max(values)
	return domain.Summary{
		Total:  int(total),
		Median: median,
		Max:    int(maximum),
	}
}
