package kafka

import "github.com/Shopify/sarama"

// Config describes the location telemetry topic. Producers key every record
// by userId, so one user's samples stay on one partition.
type Config struct {
	Brokers             []string
	Topic               string
	PartitionsPerTopic  int32 // demo: 8
	ReplicationFactor   int16 // 单机=1；生产=3
	ProducerRetries     int
	ProducerCompression string // none/snappy/lz4/zstd
	InitialOffset       string // newest/oldest
	Version             string
	AutoCreateTopic     bool
}

// 默认配置
func DefaultConfig() Config {
	return Config{
		Brokers:             []string{"127.0.0.1:9092"},
		Topic:               "ptracker.positions",
		PartitionsPerTopic:  8,
		ReplicationFactor:   1,
		ProducerRetries:     5,
		ProducerCompression: "snappy",
		InitialOffset:       "newest",
		Version:             sarama.V2_1_0_0.String(),
		AutoCreateTopic:     true,
	}
}
