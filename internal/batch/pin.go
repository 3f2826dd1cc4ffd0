// Package batch loads many grids concurrently.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/volgrid/volgrid/internal/grid"
)

// DefaultConcurrency bounds concurrent loads when Config leaves it unset.
const DefaultConcurrency = 4

// Config configures Pin.
type Config struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

// Result describes one pinned grid.
type Result struct {
	Grid     *grid.GridData
	Duration time.Duration
	// Skipped is set when the context ended before the grid was loaded.
	Skipped bool
	Error   string
}

// Stats summarises a Pin call.
type Stats struct {
	Grids    int           `json:"grids"`
	Loaded   int           `json:"loaded"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Pinned holds an AccessToken on every grid it loaded, so none of their
// trees can be unloaded until Release.
type Pinned struct {
	Results []Result
	Stats   Stats

	tokens []*grid.AccessToken
}

// Pin loads grids with at most config.MaxConcurrency loads in flight.
// Results are in the order of grids. Failed loads are still pinned: the
// grid holds its fallback tree and reports the failure in Error. Nil
// entries are skipped.
func Pin(ctx context.Context, grids []*grid.GridData, config Config) *Pinned {
	workers := config.MaxConcurrency
	if workers <= 0 {
		workers = DefaultConcurrency
	}

	start := time.Now()
	p := &Pinned{
		Results: make([]Result, len(grids)),
		tokens:  make([]*grid.AccessToken, len(grids)),
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)
	for i, g := range grids {
		p.Results[i].Grid = g
		if g == nil {
			p.Results[i].Skipped = true
			continue
		}

		wg.Add(1)
		go func(i int, g *grid.GridData) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				p.Results[i].Skipped = true
				return
			}
			defer func() { <-semaphore }()
			if ctx.Err() != nil {
				p.Results[i].Skipped = true
				return
			}

			tok := &grid.AccessToken{}
			loadStart := time.Now()
			g.Grid(tok)
			p.tokens[i] = tok
			p.Results[i].Duration = time.Since(loadStart)
			p.Results[i].Error = g.ErrorMessage()
		}(i, g)
	}
	wg.Wait()

	p.Stats = Stats{Grids: len(grids), Duration: time.Since(start)}
	for _, r := range p.Results {
		switch {
		case r.Skipped:
			p.Stats.Skipped++
		case r.Error != "":
			p.Stats.Failed++
		default:
			p.Stats.Loaded++
		}
	}
	return p
}

// Release resets every token. Grids that can reload their tree drop it
// unless another token holds it. Release is idempotent.
func (p *Pinned) Release() {
	if p == nil {
		return
	}
	for i, tok := range p.tokens {
		if tok != nil {
			tok.Reset()
			p.tokens[i] = nil
		}
	}
}
