// Package worker implements the two polling pipelines: document analysis and
// query execution. Both claim work from the store one job at a time via
// conditional status updates, so any number of worker processes can run
// against the same database without coordination.
package worker

import (
	"context"
	"time"
)

// Config holds the knobs shared by both pipelines.
type Config struct {
	// PollInterval is the sleep between polls when no work is available.
	PollInterval time.Duration
	// ErrorInterval is the sleep after an infrastructure error (store or
	// index unreachable). Longer than PollInterval to back off.
	ErrorInterval time.Duration
	// StaleAfter is the age past which an InProgress job is considered
	// abandoned and becomes claimable again.
	StaleAfter time.Duration

	// DescriptionModel generates the per-document description.
	DescriptionModel string
	// MetadataModel generates the vector-graph metadata that gets embedded.
	MetadataModel string
	// AnswerModel generates relationship analysis and final answers.
	AnswerModel string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ErrorInterval <= 0 {
		c.ErrorInterval = 5 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.DescriptionModel == "" {
		c.DescriptionModel = "gemini-2.5-flash"
	}
	if c.MetadataModel == "" {
		c.MetadataModel = "gemini-2.5-pro"
	}
	if c.AnswerModel == "" {
		c.AnswerModel = "gemini-2.5-pro"
	}
	return c
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
