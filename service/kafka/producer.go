package kafka

import (
	"PTracker/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Producer writes keyed records to one topic.
type Producer struct {
	p     sarama.SyncProducer
	topic string
	log   *zap.Logger
}

func NewProducer(p sarama.SyncProducer, topic string, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{p: p, topic: topic, log: log}
}

// NewProducerFromClient == 同步生产者 ==
func NewProducerFromClient(cli sarama.Client, topic string, log *zap.Logger) (*Producer, error) {
	p, err := sarama.NewSyncProducerFromClient(cli)
	if err != nil {
		return nil, errs.ErrRemoteUnavailable.WrapMsg(err.Error())
	}
	return NewProducer(p, topic, log), nil
}

func (p *Producer) Send(key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	partition, offset, err := p.p.SendMessage(msg)
	if err != nil {
		return errs.ErrRemoteUnavailable.WrapMsg(err.Error(), "topic", p.topic)
	}
	p.log.Debug("record sent", zap.String("topic", p.topic), zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

func (p *Producer) Close() error {
	return p.p.Close()
}
