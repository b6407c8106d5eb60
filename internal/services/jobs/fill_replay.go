package jobs

import (
	"context"
	"fmt"

	"TradePilot/internal/domain/models"
	"TradePilot/internal/middleware"
	"TradePilot/pkg/logger"
	"TradePilot/pkg/queue"
)

// FillReplayType is the queue message type for spilled fills.
const FillReplayType = "fill_replay"

// FillReplayJob re-ingests fills that overflowed the in-memory
// pipeline buffer. The queue's retry and DLQ semantics back it, so a
// fill survives even a crash between spill and replay.
type FillReplayJob struct {
	proc   middleware.FillProc
	logger *logger.Logger
}

// NewFillReplayJob creates the job over the fill processor.
func NewFillReplayJob(proc middleware.FillProc, lgr *logger.Logger) *FillReplayJob {
	return &FillReplayJob{proc: proc, logger: lgr}
}

func (j *FillReplayJob) Name() string { return "fill-replay" }

func (j *FillReplayJob) Type() string { return FillReplayType }

// Handle re-ingests one spilled fill.
func (j *FillReplayJob) Handle(ctx context.Context, payload interface{}) error {
	f, err := queue.ParsePayload[models.Fill](payload)
	if err != nil {
		return fmt.Errorf("parse fill payload: %w", err)
	}
	if err := j.proc.IngestFill(ctx, f); err != nil {
		return fmt.Errorf("replay fill %s: %w", f.ExchangeTradeRef, err)
	}
	j.logger.Debug("spilled fill replayed", logger.String("trade_ref", f.ExchangeTradeRef))
	return nil
}

// SpillTo adapts a queue into the pipeline's overflow destination.
func SpillTo(q queue.QueueService) middleware.Overflow {
	return func(ctx context.Context, f *models.Fill) error {
		return q.PublishMessage(ctx, FillReplayType, f)
	}
}
