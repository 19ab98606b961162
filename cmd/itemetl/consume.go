package itemetl

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/edgeflare/itemetl/pkg/pipeline"
	"github.com/edgeflare/itemetl/pkg/pipeline/event"
	"github.com/edgeflare/itemetl/pkg/pipeline/peer/kafka"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var consumeOpts struct {
	partition int32
	offset    string
	limit     int
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Tail a partition of the topic",
	Long: `Print the records of one partition without joining a consumer group.
Committed offsets of the forwarder are not affected.`,
	RunE: runConsume,
}

var errLimitReached = errors.New("limit reached")

func runConsume(cmd *cobra.Command, _ []string) error {
	offset, err := parseOffset(consumeOpts.offset)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := kafka.NewClient(&cfg.Kafka, logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	n, err := client.Tail(ctx, cfg.Topic.Name, consumeOpts.partition, offset, func(msg *pipeline.Message) error {
		logRecord(logger, msg)
		fmt.Fprintln(cmd.OutOrStdout(), string(msg.Value))
		if consumeOpts.limit > 0 {
			consumeOpts.limit--
			if consumeOpts.limit == 0 {
				return errLimitReached
			}
		}
		return nil
	})
	if errors.Is(err, errLimitReached) || errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("Consumed records", zap.Int("count", n))
	return err
}

func logRecord(logger *zap.Logger, msg *pipeline.Message) {
	fields := []zap.Field{
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.ByteString("key", msg.Key),
	}
	env, err := event.Decode(msg.Value)
	if err != nil {
		logger.Warn("Undecodable record", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("Record",
		append(fields,
			zap.Stringer("operation", env.Operation),
			zap.String("item_id", env.Identifier()))...)
}

func parseOffset(s string) (int64, error) {
	switch s {
	case "oldest":
		return sarama.OffsetOldest, nil
	case "newest":
		return sarama.OffsetNewest, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid offset %q, want oldest, newest or a non-negative number", s)
	}
	return n, nil
}

func init() {
	consumeCmd.Flags().Int32VarP(&consumeOpts.partition, "partition", "p", 1, "partition to read (0 raw, 1 processed)")
	consumeCmd.Flags().StringVar(&consumeOpts.offset, "offset", "oldest", "start offset: oldest, newest or a number")
	consumeCmd.Flags().IntVarP(&consumeOpts.limit, "limit", "n", 0, "stop after this many records (0 for no limit)")
}
