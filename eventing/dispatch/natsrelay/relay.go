// Package natsrelay 把聚合事件转发到 NATS 的观察者
//
// 主题为 <prefix>.<aggregate>.<event>，消息头 Nats-Msg-Id 取
// <aggregate_id>:<sequence>，JetStream 据此对重复投递去重。
package natsrelay

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"policykit/errors"
	"policykit/eventing/dispatch"
	"policykit/logging"
)

const (
	defaultObserverType  = "nats-relay"
	defaultSubjectPrefix = "policykit.events"
)

// IPublisher 发布消息；*nats.Conn 直接满足，JetStream 经 JetStreamPublisher 适配
type IPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// JetStreamPublisher 以 JetStream 发布，等待服务端确认
type JetStreamPublisher struct {
	JS nats.JetStreamContext
}

func (p JetStreamPublisher) PublishMsg(m *nats.Msg) error {
	_, err := p.JS.PublishMsg(m)
	return err
}

// Config 转发器配置
type Config struct {
	ObserverType  string
	SubjectPrefix string
	// Subscriptions 为空时转发全部事件
	Subscriptions []dispatch.Subscription
	Logger        logging.Logger
}

// Relay 转发观察者
type Relay struct {
	cfg       Config
	publisher IPublisher
	logger    logging.Logger
}

// New 创建转发器
func New(publisher IPublisher, cfg Config) *Relay {
	if cfg.ObserverType == "" {
		cfg.ObserverType = defaultObserverType
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaultSubjectPrefix
	}
	cfg.SubjectPrefix = strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if len(cfg.Subscriptions) == 0 {
		cfg.Subscriptions = []dispatch.Subscription{dispatch.On(dispatch.Wildcard, dispatch.Wildcard)}
	}
	return &Relay{
		cfg:       cfg,
		publisher: publisher,
		logger:    logging.OrGlobal(cfg.Logger, "eventing.natsrelay"),
	}
}

// Connect 连接 NATS
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeQueue, "连接 NATS 失败")
	}
	return conn, nil
}

func (r *Relay) ObserverType() string                   { return r.cfg.ObserverType }
func (r *Relay) Subscriptions() []dispatch.Subscription { return r.cfg.Subscriptions }

// envelope 线上格式
type envelope struct {
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Sequence      uint64          `json:"sequence"`
	Timestamp     int64           `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

// Subject 事件对应的主题
func (r *Relay) Subject(aggregateType, eventType string) string {
	return r.cfg.SubjectPrefix + "." + token(aggregateType) + "." + token(eventType)
}

// token 主题分段不能包含分隔符、通配符或空白
func token(s string) string {
	return strings.Map(func(c rune) rune {
		switch c {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return c
	}, s)
}

// MsgID 去重标识
func MsgID(aggregateID uuid.UUID, seq uint64) string {
	return aggregateID.String() + ":" + strconv.FormatUint(seq, 10)
}

func (r *Relay) Observe(ctx context.Context, d dispatch.Delivery) error {
	payload, err := json.Marshal(d.Event.GetPayload())
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "序列化事件载荷失败")
	}
	ts := d.Event.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	data, err := json.Marshal(envelope{
		EventID:       d.Event.GetID(),
		AggregateType: d.Aggregate.GetAggregateType(),
		AggregateID:   d.Aggregate.RawID(),
		EventType:     d.Event.GetType(),
		Sequence:      d.Sequence,
		Timestamp:     ts.UnixNano(),
		Payload:       payload,
		Metadata:      d.Event.GetMetadata(),
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternal, "序列化事件失败")
	}

	msg := nats.NewMsg(r.Subject(d.Aggregate.GetAggregateType(), d.Event.GetType()))
	msg.Header.Set(nats.MsgIdHdr, MsgID(d.Aggregate.RawID(), d.Sequence))
	msg.Data = data

	if err := r.publisher.PublishMsg(msg); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "发布事件到 NATS 失败").
			WithContext("subject", msg.Subject)
	}
	r.logger.Debug(ctx, "事件已转发",
		logging.String("subject", msg.Subject),
		logging.Uint64("sequence", d.Sequence))
	return nil
}

// Decode 解析转发的消息，供下游消费者使用
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, err
	}
	return Message{
		EventID:       env.EventID,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		EventType:     env.EventType,
		Sequence:      env.Sequence,
		Timestamp:     time.Unix(0, env.Timestamp).UTC(),
		Payload:       env.Payload,
		Metadata:      env.Metadata,
	}, nil
}

// Message 解码后的转发消息
type Message struct {
	EventID       string
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Sequence      uint64
	Timestamp     time.Time
	Payload       json.RawMessage
	Metadata      map[string]any
}
