// Package notify turns committed relationship transitions into events on
// per-user channels. Delivery is fire-and-forget.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kasuganosora/socialgraph/metrics"
	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/relation"
	"go.uber.org/zap"
)

// Publisher delivers a payload to a named channel. cache.PubSub satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
}

// ProfileSource loads the users whose profiles appear in payloads.
type ProfileSource interface {
	UsersByIDs(ctx context.Context, ids []int64) (map[int64]*model.User, error)
}

// Envelope is the JSON document written to a channel.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	At    time.Time   `json:"at"`
}

const defaultPublishTimeout = 2 * time.Second

var _ relation.Notifier = (*Dispatcher)(nil)

// Dispatcher implements relation.Notifier.
type Dispatcher struct {
	pub      Publisher
	profiles ProfileSource
	channel  ChannelFunc
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher. A nil channel defaults to UserChannel,
// a non-positive timeout to two seconds.
func NewDispatcher(pub Publisher, profiles ProfileSource, channel ChannelFunc, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if channel == nil {
		channel = UserChannel
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		pub:      pub,
		profiles: profiles,
		channel:  channel,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch publishes the events of t. Failures are logged and counted,
// never returned. Publishing outlives cancellation of ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, t relation.Transition) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	events := Events(t, d.loadProfiles(ctx, t))
	for _, ev := range events {
		d.publish(ctx, ev)
	}
}

func (d *Dispatcher) loadProfiles(ctx context.Context, t relation.Transition) map[int64]*model.User {
	ids := profileIDs(t)
	if len(ids) == 0 || d.profiles == nil {
		return nil
	}
	users, err := d.profiles.UsersByIDs(ctx, ids)
	if err != nil {
		d.logger.Warn("notify: profile lookup failed, sending id-only profiles",
			zap.Int64s("user_ids", ids), zap.Error(err))
		return nil
	}
	return users
}

func (d *Dispatcher) publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(Envelope{Event: ev.Name, Data: ev.Data, At: d.now().UTC()})
	if err != nil {
		metrics.Notifications.WithLabelValues(ev.Name, metrics.OutcomeError).Inc()
		d.logger.Error("notify: marshal event", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	channel := d.channel(ev.Recipient)
	if err := d.pub.Publish(ctx, channel, string(payload)); err != nil {
		metrics.Notifications.WithLabelValues(ev.Name, metrics.OutcomeError).Inc()
		d.logger.Warn("notify: publish failed",
			zap.String("event", ev.Name),
			zap.String("channel", channel),
			zap.Error(err))
		return
	}
	metrics.Notifications.WithLabelValues(ev.Name, metrics.OutcomeOK).Inc()
	d.logger.Debug("notify: published", zap.String("event", ev.Name), zap.String("channel", channel))
}
