package positioning

import (
	"context"

	"PTracker/module/location/model"
	"PTracker/service/kafka"
	"PTracker/tools/errs"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// KafkaSource reads one user's fixes from the telemetry topic, where device
// gateways publish them keyed by userId.
type KafkaSource struct {
	reader *kafka.Reader
	userID func() (string, bool)
	log    *zap.Logger
}

func NewKafkaSource(reader *kafka.Reader, userID func() (string, bool), log *zap.Logger) *KafkaSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaSource{reader: reader, userID: userID, log: log}
}

func (k *KafkaSource) Watch(ctx context.Context, opts Options, fn func(model.LocationSample)) (func(), error) {
	uid, ok := k.userID()
	if !ok {
		return nil, errs.ErrUnauthenticated.WrapMsg("positioning needs a signed-in user")
	}
	th := NewThrottle(opts)
	return k.reader.Open(ctx, uid, kafka.KeyFilter(uid, func(_, value []byte) error {
		var s model.LocationSample
		if err := json.Unmarshal(value, &s); err != nil {
			return errs.ErrArgs.WrapMsg(err.Error())
		}
		if err := s.Validate(); err != nil {
			return errs.ErrArgs.WrapMsg(err.Error())
		}
		if th.Accept(s) {
			fn(s)
		}
		return nil
	}))
}

// Publisher forwards fixes to the telemetry topic.
type Publisher struct {
	p *kafka.Producer
}

func NewPublisher(p *kafka.Producer) *Publisher { return &Publisher{p: p} }

func (p *Publisher) Publish(userID string, s model.LocationSample) error {
	if err := s.Validate(); err != nil {
		return errs.ErrArgs.WrapMsg(err.Error())
	}
	b, err := json.Marshal(s)
	if err != nil {
		return errs.ErrInternal.WrapMsg(err.Error())
	}
	return p.p.Send(userID, b)
}
