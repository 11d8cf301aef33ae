package kafka

import (
	"strings"
	"time"

	"PTracker/tools/errs"

	"github.com/Shopify/sarama"
)

func BuildBaseConfig(c Config) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errs.ErrArgs.WrapMsg(err.Error(), "version", c.Version)
		}
		cfg.Version = v
	}

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 1
	}
	cfg.Producer.Retry.Max = c.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ 关键：Key 控制分区
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	cfg.Consumer.Offsets.Initial = InitialOffset(c.InitialOffset)
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}

func InitialOffset(s string) int64 {
	if strings.EqualFold(s, "oldest") {
		return sarama.OffsetOldest
	}
	return sarama.OffsetNewest
}

func NewClient(c Config) (sarama.Client, error) {
	cfg, err := BuildBaseConfig(c)
	if err != nil {
		return nil, err
	}
	cli, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errs.ErrRemoteUnavailable.WrapMsg(err.Error(), "brokers", c.Brokers)
	}
	return cli, nil
}
