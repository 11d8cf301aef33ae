package kafka

import (
	"PTracker/tools/errs"

	"github.com/Shopify/sarama"
)

// PartitionFor picks the partition a keyed record lands on, the same way the
// producer's hash partitioner does, so a reader can follow one user.
func PartitionFor(topic, key string, partitions []int32) (int32, error) {
	if len(partitions) == 0 {
		return 0, errs.ErrArgs.WrapMsg("topic has no partitions", "topic", topic)
	}
	p := sarama.NewHashPartitioner(topic)
	idx, err := p.Partition(&sarama.ProducerMessage{Topic: topic, Key: sarama.StringEncoder(key)}, int32(len(partitions)))
	if err != nil {
		return 0, errs.Wrap(err)
	}
	return partitions[idx], nil
}
