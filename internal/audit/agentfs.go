package audit

/*
Файл agentfs.go — Agent File System: асинхронный сборщик Audit Trail.

- Non-blocking Logging: события уходят из Hot Path через неблокирующий
  канал, задержки БД не влияют на Response Time шлюза.
- Batching: накопление в памяти и пакетная запись в PostgreSQL по таймеру
  или при заполнении пачки.
- Drain Pattern: при остановке канал закрывается, воркер вычитывает
  остатки и делает финальный flush — события при перезапуске не теряются.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Storage определяет, куда физически сохраняются события.
type Storage interface {
	// WriteBatch сохраняет пачку событий за один проход
	WriteBatch(ctx context.Context, events []Event) error
}

// Auditor — интерфейс для потребителей (Executor, консоль).
type Auditor interface {
	Log(event Event)
}

// Options — настройки буферизации, приходят из конфига шлюза.
type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration

	// FillGauge вызывается на каждом Log с текущей заполненностью буфера
	// (подключается к prometheus Gauge). Может быть nil.
	FillGauge func(n int)
}

type AgentFS struct {
	ch        chan Event
	repo      Storage
	batchSize int
	interval  time.Duration
	fillGauge func(n int)
	logger    *zap.Logger
	wg        sync.WaitGroup
	isClosed  atomic.Bool // вход заперт, новые события отбрасываются
}

func NewAgentFS(repo Storage, opts Options, logger *zap.Logger) *AgentFS {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &AgentFS{
		ch:        make(chan Event, opts.BufferSize),
		repo:      repo,
		batchSize: opts.BatchSize,
		interval:  opts.FlushInterval,
		fillGauge: opts.FillGauge,
		logger:    logger.With(zap.String("mod", "agentfs")),
	}
}

func (fs *AgentFS) Start() {
	fs.wg.Add(1)
	go fs.worker()
}

// Stop запирает вход и ждет, пока воркер допишет буфер.
// Завершение воркера происходит исключительно через закрытие канала:
// он сначала вычитает остатки, потом получит ok == false и сделает
// финальный flush.
func (fs *AgentFS) Stop() {
	fs.isClosed.Store(true)

	// Крошечная пауза: конкурентные Log, прошедшие проверку флага,
	// успевают положить событие до close
	time.Sleep(10 * time.Millisecond)

	fs.logger.Info("stopping auditor: closing channel and flushing buffer")
	close(fs.ch)
	fs.wg.Wait()
	fs.logger.Info("auditor stopped gracefully")
}

func (fs *AgentFS) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if fs.isClosed.Load() {
		fs.logger.Warn("audit event dropped: auditor is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: переполненный буфер не тормозит Hot Path,
	// событие уходит хотя бы в обычный лог
	select {
	case fs.ch <- event:
	default:
		fs.logger.Error("audit_buffer_overflow",
			zap.String("agent_id", event.AgentID),
			zap.String("trace_id", event.TraceID),
		)
	}

	if fs.fillGauge != nil {
		fs.fillGauge(len(fs.ch))
	}
}

func (fs *AgentFS) worker() {
	defer fs.wg.Done()

	batch := make([]Event, 0, fs.batchSize)
	ticker := time.NewTicker(fs.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст на shutdown уже может быть закрыт
		if err := fs.repo.WriteBatch(context.Background(), batch); err != nil {
			fs.logger.Error("audit flush failed", zap.Error(err), zap.Int("events", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-fs.ch:
			if !ok {
				flush() // финальный сброс
				fs.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= fs.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
