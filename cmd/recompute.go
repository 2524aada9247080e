package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewRecomputeCommand creates the one-shot recompute command
func NewRecomputeCommand() *cobra.Command {
	var segmentID uint

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute one segment and dispatch its actions",
		Long: `Recompute one segment outside the server.

The segment lock is taken the same way the work queue takes it, so a run
started here never overlaps a run of the same segment on a server.

Example:
  segment-engine recompute --segment 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if segmentID == 0 {
				return errors.New("--segment is required")
			}
			return runRecompute(cmd.Context(), cmd, segmentID)
		},
	}

	cmd.Flags().UintVar(&segmentID, "segment", 0, "id of the segment to recompute (required)")
	_ = cmd.MarkFlagRequired("segment")

	return cmd
}

func runRecompute(ctx context.Context, cmd *cobra.Command, segmentID uint) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := initializeComponents(cfg)
	if err != nil {
		return err
	}
	defer c.close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Segments.TaskTimeout)
	defer cancel()

	token := uuid.NewString()
	ok, err := c.locker.Acquire(ctx, segmentID, token, cfg.Segments.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to lock segment %d: %w", segmentID, err)
	}
	if !ok {
		return fmt.Errorf("segment %d is being recomputed elsewhere", segmentID)
	}
	defer func() { _ = c.locker.Release(context.Background(), segmentID, token) }()

	res, err := c.engine.Recompute(ctx, segmentID)
	if err != nil {
		return err
	}
	if res.NoOp {
		cmd.Printf("segment %d: not found, archived or deleted\n", segmentID)
		return nil
	}
	cmd.Printf("segment %d: %s, %d contragents (+%d/-%d), %d documents (+%d/-%d), correlation %s\n",
		segmentID, res.Status,
		res.Diff.Contragents.Current.Len(), res.Diff.Contragents.Added.Len(), res.Diff.Contragents.Removed.Len(),
		res.Diff.Documents.Current.Len(), res.Diff.Documents.Added.Len(), res.Diff.Documents.Removed.Len(),
		res.CorrelationID)
	return nil
}
