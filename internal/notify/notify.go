// Package notify рассылает события маркетплейса для админки через Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/notify/config"
)

const DefaultChannel = "ifgmart:events"

type Notifier interface {
	Publish(ctx context.Context, event model.Event)
	Subscribe(ctx context.Context) (<-chan model.Event, error)
	Close() error
}

// NewNotifier возвращает Redis-рассылку или пустую, если адрес не задан
func NewNotifier(cfg config.Config, zaplog *zap.Logger) Notifier {
	if cfg.RedisAddr == "" {
		return Nop{}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return NewRedisNotifier(client, cfg.Channel, zaplog)
}

type redisNotifier struct {
	client  *redis.Client
	channel string
	zaplog  *zap.Logger
}

func NewRedisNotifier(client *redis.Client, channel string, zaplog *zap.Logger) Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &redisNotifier{client: client, channel: channel, zaplog: zaplog}
}

// Publish не возвращает ошибку: уведомления не влияют на результат операции
func (n *redisNotifier) Publish(ctx context.Context, event model.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.zaplog.Error("marshal event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	if err = n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.zaplog.Warn("publish event", zap.String("type", event.Type), zap.Error(err))
	}
}

// Subscribe возвращает канал событий. Канал закрывается при отмене ctx
func (n *redisNotifier) Subscribe(ctx context.Context) (<-chan model.Event, error) {
	pubsub := n.client.Subscribe(ctx, n.channel)
	// дожидаемся подтверждения подписки
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	events := make(chan model.Event)
	go func() {
		defer close(events)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event model.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					n.zaplog.Warn("unmarshal event", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

func (n *redisNotifier) Close() error {
	return n.client.Close()
}

// Nop - рассылка отключена
type Nop struct{}

func (Nop) Publish(context.Context, model.Event) {}

// Subscribe возвращает канал, который закрывается при отмене ctx
func (Nop) Subscribe(ctx context.Context) (<-chan model.Event, error) {
	events := make(chan model.Event)
	go func() {
		<-ctx.Done()
		close(events)
	}()
	return events, nil
}

func (Nop) Close() error {
	return nil
}
