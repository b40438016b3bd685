package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slijtan/stock-track-record/internal/model"
	"github.com/slijtan/stock-track-record/internal/store"
)

var (
	// ErrAlreadyProcessing rejects a second run for a channel whose current
	// run has not settled yet.
	ErrAlreadyProcessing = errors.New("channel is already being processed")

	// ErrNotProcessing rejects a cancel for a channel with no active run.
	ErrNotProcessing = errors.New("channel is not being processed")
)

// Controller owns the channel status machine. Every run moves the channel
// from pending or a terminal state into processing, and always leaves it in
// exactly one terminal state, whatever the pipeline does in between.
type Controller struct {
	repo     Repository
	pipeline *Pipeline
}

func NewController(repo Repository, p *Pipeline) *Controller {
	return &Controller{repo: repo, pipeline: p}
}

// Run executes one full processing run for the channel. The transition into
// processing is a conditional write, so of two simultaneous starts exactly
// one claims the run.
func (c *Controller) Run(ctx context.Context, channelID string) error {
	channel, err := c.repo.BeginProcessing(ctx, channelID)
	if errors.Is(err, store.ErrConditionFailed) {
		// The condition fails for a missing channel too; a read tells the
		// two cases apart.
		if _, getErr := c.repo.Get(ctx, channelID); getErr != nil {
			return getErr
		}
		return ErrAlreadyProcessing
	}
	if err != nil {
		return err
	}

	err = c.pipeline.run(ctx, channel)
	switch {
	case err == nil:
		if _, err := c.repo.UpdateStatus(ctx, channelID, model.StatusCompleted); err != nil {
			return err
		}
	case errors.Is(err, errCancelled):
		// Cancel already moved the channel to its terminal state.
	default:
		slog.Error("channel run failed", "channel_id", channelID, "error", err)
		if _, logErr := c.repo.AddLog(ctx, channelID, model.LogLevelError,
			fmt.Sprintf("Error processing channel: %v", err)); logErr != nil {
			slog.Error("processing log write failed", "channel_id", channelID, "error", logErr)
		}
		if _, stErr := c.repo.UpdateStatus(ctx, channelID, model.StatusFailed); stErr != nil {
			return stErr
		}
		return err
	}

	// Historical prices are best effort; a run never fails because a price
	// source was down.
	if err := c.pipeline.BackfillPrices(ctx, channelID); err != nil {
		slog.Warn("price backfill failed", "channel_id", channelID, "error", err)
	}
	return nil
}

// Cancel flags an active run for cooperative cancellation. The pipeline
// observes the flag between task dispatches; in-flight tasks finish.
func (c *Controller) Cancel(ctx context.Context, channelID string) error {
	channel, err := c.repo.Get(ctx, channelID)
	if err != nil {
		return err
	}
	if channel.Status != model.StatusProcessing {
		return ErrNotProcessing
	}
	if _, err := c.repo.UpdateStatus(ctx, channelID, model.StatusCancelled); err != nil {
		return err
	}
	_, err = c.repo.AddLog(ctx, channelID, model.LogLevelInfo, "Cancellation requested")
	return err
}
