// Package search holds the collaborator computation the workers run: a
// potentially long, potentially failing patent search that reports progress
// through a callback and returns a JSON payload.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ProgressFunc reports incremental status. A non-nil return value is the
// cooperative stop signal (cancellation or soft time limit): the
// computation should abandon its work and propagate the error unchanged.
type ProgressFunc func(progress int, step string) error

// Func is the contract between a worker and the search implementation.
// Input is the raw submission payload; the implementation owns its shape.
type Func func(ctx context.Context, input json.RawMessage, report ProgressFunc) (json.RawMessage, error)

// Request is the payload accepted by the placeholder search.
type Request struct {
	Molecule    string   `json:"molecule"`
	Countries   []string `json:"countries"`
	IncludeWIPO bool     `json:"include_wipo"`
}

type resultMetadata struct {
	MoleculeName string   `json:"molecule_name"`
	GeneratedAt  string   `json:"generated_at"`
	Countries    []string `json:"countries"`
	IncludeWIPO  bool     `json:"include_wipo"`
}

type patentSearch struct {
	TotalPatents int    `json:"total_patents"`
	Note         string `json:"note"`
}

type result struct {
	Metadata     resultMetadata `json:"metadata"`
	PatentSearch patentSearch   `json:"patent_search"`
}

type stage struct {
	progress int
	step     string
	weight   int // stage duration in units of stageDelay
	wipoOnly bool
}

var stages = []stage{
	{10, "Searching EPO...", 1, false},
	{30, "Searching Google Patents...", 1, false},
	{50, "Searching INPI...", 1, false},
	{60, "Searching WIPO...", 3, true},
	{90, "Building response...", 1, false},
}

// NewPlaceholder returns the staged stand-in for the real search pipeline
// (EPO OPS, Google Patents, INPI crawler, optional WIPO, consolidation).
// Each stage reports progress first, so every stage boundary doubles as a
// cancellation checkpoint.
func NewPlaceholder(stageDelay time.Duration) Func {
	return func(ctx context.Context, input json.RawMessage, report ProgressFunc) (json.RawMessage, error) {
		var req Request
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, fmt.Errorf("decode search request: %w", err)
		}
		if req.Molecule == "" {
			return nil, fmt.Errorf("molecule is required")
		}
		if len(req.Countries) == 0 {
			req.Countries = []string{"BR"}
		}

		for _, st := range stages {
			if st.wipoOnly && !req.IncludeWIPO {
				continue
			}
			if report != nil {
				if err := report(st.progress, st.step); err != nil {
					return nil, err
				}
			}
			if err := wait(ctx, time.Duration(st.weight)*stageDelay); err != nil {
				return nil, err
			}
		}

		res := result{
			Metadata: resultMetadata{
				MoleculeName: req.Molecule,
				GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
				Countries:    req.Countries,
				IncludeWIPO:  req.IncludeWIPO,
			},
			PatentSearch: patentSearch{
				TotalPatents: 0,
				Note:         "placeholder search pipeline",
			},
		}
		return json.Marshal(res)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
