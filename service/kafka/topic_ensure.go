package kafka

import (
	"errors"
	"fmt"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopic 会：
// 1) 不存在就按 cfg 创建；
// 2) 已存在且分区数 < 期望值时扩分区（Kafka 仅支持增加分区，不能减少）。
func EnsureTopic(admin sarama.ClusterAdmin, cfg Config, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	t := cfg.Topic
	descs, err := admin.DescribeTopics([]string{t})
	if err != nil {
		return fmt.Errorf("describe topic %s: %w", t, err)
	}
	exists := len(descs) == 1 && errors.Is(descs[0].Err, sarama.ErrNoError)

	minISR := "1"
	if cfg.ReplicationFactor >= 3 {
		minISR = "2"
	}

	if !exists {
		td := &sarama.TopicDetail{
			NumPartitions:     cfg.PartitionsPerTopic,
			ReplicationFactor: cfg.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(t, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				log.Info("topic exists (race)", zap.String("topic", t))
				return nil
			}
			return fmt.Errorf("create topic %s: %w", t, err)
		}
		log.Info("topic created", zap.String("topic", t), zap.Int32("partitions", cfg.PartitionsPerTopic))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if cfg.PartitionsPerTopic > cur {
		if err := admin.CreatePartitions(t, cfg.PartitionsPerTopic, nil, false); err != nil {
			return fmt.Errorf("expand partitions %s from %d to %d: %w", t, cur, cfg.PartitionsPerTopic, err)
		}
		log.Info("partitions expanded", zap.String("topic", t), zap.Int32("from", cur), zap.Int32("to", cfg.PartitionsPerTopic))
		return nil
	}
	log.Debug("topic exists", zap.String("topic", t), zap.Int32("partitions", cur))
	return nil
}

func strPtr(s string) *string { return &s }
