package kafka

import (
	"context"

	"PTracker/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Reader follows the single partition that holds one key.
type Reader struct {
	consumer sarama.Consumer
	topic    string
	offset   int64
	log      *zap.Logger
}

func NewReader(consumer sarama.Consumer, topic string, offset int64, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{consumer: consumer, topic: topic, offset: offset, log: log}
}

// Open starts consuming the partition for key. Records are handed to h in
// offset order on one goroutine until the returned stop func is called or ctx
// ends.
func (r *Reader) Open(ctx context.Context, key string, h MessageHandler) (stop func(), err error) {
	partitions, err := r.consumer.Partitions(r.topic)
	if err != nil {
		return nil, errs.ErrRemoteUnavailable.WrapMsg(err.Error(), "topic", r.topic)
	}
	partition, err := PartitionFor(r.topic, key, partitions)
	if err != nil {
		return nil, err
	}
	pc, err := r.consumer.ConsumePartition(r.topic, partition, r.offset)
	if err != nil {
		return nil, errs.ErrRemoteUnavailable.WrapMsg(err.Error(), "topic", r.topic, "partition", partition)
	}
	r.log.Info("partition consumer started", zap.String("topic", r.topic), zap.Int32("partition", partition))

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer pc.AsyncClose()
		errCh := pc.Errors()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pc.Messages():
				if !ok {
					return
				}
				if err := h(msg.Key, msg.Value); err != nil {
					r.log.Warn("record rejected", zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
				}
			case cerr, ok := <-errCh:
				if !ok {
					errCh = nil
					continue
				}
				r.log.Warn("partition consumer error", zap.Error(cerr))
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}
