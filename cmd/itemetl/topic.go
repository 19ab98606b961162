package itemetl

import (
	"github.com/edgeflare/itemetl/pkg/pipeline/peer/kafka"
	"github.com/spf13/cobra"
)

var topicCmd = &cobra.Command{
	Use:   "topic",
	Short: "Manage the item-events topic",
}

var topicEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the topic if it does not exist",
	Long: `Create the item-events topic with enough partitions for the raw and
processed roles. An existing topic is left as is, but it is an error if it
has fewer partitions than required.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		client := kafka.NewClient(&cfg.Kafka, logger)
		return client.EnsureTopic(cfg.TopicSpec())
	},
}

func init() {
	topicEnsureCmd.Flags().Int32("partitions", 2, "number of partitions when creating the topic")
	topicEnsureCmd.Flags().Int16("replicas", 1, "replication factor when creating the topic")
	mustBindPFlag("topic.partitions", topicEnsureCmd.Flags().Lookup("partitions"))
	mustBindPFlag("topic.replicas", topicEnsureCmd.Flags().Lookup("replicas"))

	topicCmd.AddCommand(topicEnsureCmd)
}
