package positioning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PTracker/module/location/model"
	"PTracker/service/kafka"
	"PTracker/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(lat, lon float64, d time.Duration) model.LocationSample {
	return model.NewLocationSample(lat, lon, t0.Add(d))
}

type sink struct {
	mu  sync.Mutex
	got []model.LocationSample
}

func (s *sink) add(x model.LocationSample) {
	s.mu.Lock()
	s.got = append(s.got, x)
	s.mu.Unlock()
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(Options{})
	assert.True(t, th.Accept(at(52, 13, 0)))
	// same place, too soon
	assert.False(t, th.Accept(at(52, 13, 500*time.Millisecond)))
	// same place, interval elapsed
	assert.True(t, th.Accept(at(52, 13, 1500*time.Millisecond)))
	// too soon but ~110 m away
	assert.True(t, th.Accept(at(52.001, 13, 1600*time.Millisecond)))
	assert.False(t, th.Accept(model.LocationSample{Latitude: 1, Longitude: 1, Timestamp: "yesterday"}))
}

func TestFeedSourceDelivers(t *testing.T) {
	f := NewFeedSource(true, nil)
	s := &sink{}
	cancel, err := f.Watch(context.Background(), Options{}, s.add)
	require.NoError(t, err)

	require.NoError(t, f.Push(at(52, 13, 0)))
	require.NoError(t, f.Push(at(52, 13, 100*time.Millisecond)))
	require.NoError(t, f.Push(at(53, 13, 200*time.Millisecond)))
	require.Eventually(t, func() bool { return s.len() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	cancel()
	require.NoError(t, f.Push(at(54, 13, 5*time.Second)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, s.len())

	err = f.Push(model.LocationSample{Latitude: 120, Longitude: 0, Timestamp: "2024-05-01T10:00:00Z"})
	assert.True(t, errors.Is(err, errs.ErrArgs))
}

func TestFeedSourcePermission(t *testing.T) {
	f := NewFeedSource(false, nil)
	_, err := f.Watch(context.Background(), Options{}, func(model.LocationSample) {})
	assert.True(t, errors.Is(err, errs.ErrPermissionDenied))

	f.SetPermission(true)
	s := &sink{}
	_, err = f.Watch(context.Background(), Options{}, s.add)
	require.NoError(t, err)
	f.SetPermission(false)
	assert.True(t, errors.Is(f.Push(at(1, 1, 0)), errs.ErrPermissionDenied))
	assert.Zero(t, s.len())
}

func TestFeedSourceContextCancel(t *testing.T) {
	f := NewFeedSource(true, nil)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.Watch(ctx, Options{}, func(model.LocationSample) {})
	require.NoError(t, err)
	cancel()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.watchers) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestKafkaSource(t *testing.T) {
	parts := []int32{0, 1, 2}
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"pos": parts})
	p, err := kafka.PartitionFor("pos", "me", parts)
	require.NoError(t, err)

	pc := consumer.ExpectConsumePartition("pos", p, sarama.OffsetNewest)
	pc.YieldMessage(&sarama.ConsumerMessage{Key: []byte("me"), Value: []byte(`{"latitude":52,"longitude":13,"timestamp":"2024-05-01T10:00:00Z"}`)})
	pc.YieldMessage(&sarama.ConsumerMessage{Key: []byte("me"), Value: []byte(`not json`)})
	pc.YieldMessage(&sarama.ConsumerMessage{Key: []byte("other"), Value: []byte(`{"latitude":1,"longitude":1,"timestamp":"2024-05-01T10:00:00Z"}`)})
	pc.YieldMessage(&sarama.ConsumerMessage{Key: []byte("me"), Value: []byte(`{"latitude":53,"longitude":13,"timestamp":"2024-05-01T10:00:05Z"}`)})

	src := NewKafkaSource(kafka.NewReader(consumer, "pos", sarama.OffsetNewest, nil), func() (string, bool) { return "me", true }, nil)
	s := &sink{}
	stop, err := src.Watch(context.Background(), Options{}, s.add)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.len() == 2 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, 52.0, s.got[0].Latitude)
	assert.Equal(t, 53.0, s.got[1].Latitude)
	require.NoError(t, consumer.Close())
}

func TestKafkaSourceSignedOut(t *testing.T) {
	src := NewKafkaSource(nil, func() (string, bool) { return "", false }, nil)
	_, err := src.Watch(context.Background(), Options{}, func(model.LocationSample) {})
	assert.True(t, errors.Is(err, errs.ErrUnauthenticated))
}

func TestPublisher(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var s model.LocationSample
		if err := json.Unmarshal(val, &s); err != nil {
			return err
		}
		if s.Latitude != 52 {
			return errors.New("wrong latitude")
		}
		return nil
	})
	pub := NewPublisher(kafka.NewProducer(sp, "pos", nil))
	require.NoError(t, pub.Publish("me", at(52, 13, 0)))
	assert.True(t, errors.Is(pub.Publish("me", model.LocationSample{}), errs.ErrArgs))
	require.NoError(t, sp.Close())
}
