package itemetl

import (
	"errors"
	"fmt"

	"github.com/edgeflare/itemetl/pkg/pipeline/event"
	"github.com/edgeflare/itemetl/pkg/pipeline/peer/kafka"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var produceOpts struct {
	op          string
	itemID      string
	name        string
	category    string
	price       float64
	description string
	raw         string
}

var produceCmd = &cobra.Command{
	Use:   "produce",
	Short: "Publish one raw envelope for smoke testing",
	Long: `Publish a single envelope to the raw partition, the way the item service
does. Use --raw to send an arbitrary payload, e.g. to exercise rejections.`,
	Example: `  itemetl produce --op create --name Lamp --category HOME --price 12.5
  itemetl produce --op delete --item-id 3f6c...
  itemetl produce --raw '{"operation_type":9}'`,
	RunE: runProduce,
}

func runProduce(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var env *event.Envelope
	if produceOpts.raw == "" {
		var err error
		env, err = buildEnvelope(cmd)
		if err != nil {
			return err
		}
	}

	client := kafka.NewClient(&cfg.Kafka, logger)
	if err := client.Connect(cmd.Context()); err != nil {
		return err
	}
	sink, err := client.NewSink(cfg.Topic.Name, cfg.Forwarder.RawPartition)
	if err != nil {
		return errors.Join(err, client.Close())
	}
	defer func() {
		if err := errors.Join(sink.Close(), client.Close()); err != nil {
			logger.Warn("Error closing kafka resources", zap.Error(err))
		}
	}()

	if env == nil {
		if err := sink.PublishRaw(nil, []byte(produceOpts.raw)); err != nil {
			return err
		}
		logger.Info("Published raw payload", zap.Int32("partition", cfg.Forwarder.RawPartition))
		return nil
	}

	if err := sink.Publish(cmd.Context(), env); err != nil {
		return err
	}
	logger.Info("Published envelope",
		zap.Stringer("operation", env.Operation),
		zap.String("item_id", env.Identifier()),
		zap.Int32("partition", cfg.Forwarder.RawPartition))
	fmt.Println(env.Identifier())
	return nil
}

func buildEnvelope(cmd *cobra.Command) (*event.Envelope, error) {
	id := produceOpts.itemID
	if id == "" {
		id = uuid.NewString()
	}

	item := event.Item{
		ID:       event.StringID(id),
		Name:     produceOpts.name,
		Category: produceOpts.category,
	}
	if cmd.Flags().Changed("price") {
		item.Price = &produceOpts.price
	}
	if cmd.Flags().Changed("description") {
		item.Description = &produceOpts.description
	}

	switch produceOpts.op {
	case "create":
		return event.NewCreate(item), nil
	case "change":
		return event.NewChange(event.StringID(id), item), nil
	case "delete":
		return event.NewDelete(event.StringID(id)), nil
	default:
		return nil, fmt.Errorf("unknown operation %q, want create, change or delete", produceOpts.op)
	}
}

func init() {
	f := produceCmd.Flags()
	f.StringVar(&produceOpts.op, "op", "create", "operation: create, change or delete")
	f.StringVar(&produceOpts.itemID, "item-id", "", "item id (default a new UUID)")
	f.StringVar(&produceOpts.name, "name", "", "item name")
	f.StringVar(&produceOpts.category, "category", "", "item category")
	f.Float64Var(&produceOpts.price, "price", 0, "item price")
	f.StringVar(&produceOpts.description, "description", "", "item description")
	f.StringVar(&produceOpts.raw, "raw", "", "publish this payload verbatim instead of building an envelope")
}
