package policy

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenRefresh — "живучая" подписка на сигнал обновления правил.
// Консоль после записи нового снапшота публикует "refresh"; каждый
// инстанс шлюза перечитывает полный набор из БД. При переподключении
// Refresh вызывается безусловно: сигнал мог быть пропущен в офлайне.
func (s *Store) ListenRefresh(ctx context.Context, rdb *redis.Client, channel string) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		if err := s.Refresh(ctx); err != nil {
			s.logger.Error("rule sync failed on (re)connect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // канал закрыт, идем на переподключение
				}
				s.logger.Info("rule refresh signal received", zap.String("payload", msg.Payload))
				if err := s.Refresh(ctx); err != nil {
					s.logger.Error("rule refresh failed", zap.Error(err))
				}
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}
