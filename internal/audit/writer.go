package audit

/*
Writer — асинхронная персистентность журнала событий (Audit Trail).

- Non-blocking: события уходят из hot path через буферизованный канал,
  задержки БД не влияют на время записи в журнал.
- Batching: накопление в памяти и пакетная вставка в PostgreSQL по таймеру
  или при достижении размера пачки.
- Drain Pattern: при остановке канал закрывается, воркер вычитывает остаток
  и делает финальный flush — события не теряются при перезапуске.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/pluginguard/internal/domain"
	"go.uber.org/zap"
)

// Storage определяет, куда физически сохраняются события.
type Storage interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []domain.SecurityEvent) error
}

// Gauge — заполненность буфера для метрик (prometheus.Gauge в проде).
type Gauge interface {
	Set(float64)
}

const (
	defaultBufferSize = 10000
	batchSize         = 100
	flushInterval     = 500 * time.Millisecond
)

type Writer struct {
	ch     chan domain.SecurityEvent
	repo   Storage
	logger *zap.Logger
	fill   Gauge // может быть nil
	wg     sync.WaitGroup

	// RWMutex сериализует close против конкурентных Enqueue: отправка в канал
	// возможна только под RLock при открытом флаге, паника send-on-closed исключена
	mu     sync.RWMutex
	closed bool
}

func NewWriter(repo Storage, bufferSize int, fill Gauge, logger *zap.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Writer{
		ch:     make(chan domain.SecurityEvent, bufferSize),
		repo:   repo,
		fill:   fill,
		logger: logger.With(zap.String("mod", "audit-writer")),
	}
}

func (w *Writer) Start() {
	w.wg.Add(1)
	go w.worker()
}

// Stop «запирает» вход и ждет, пока воркер допишет остаток буфера.
// Повторный Stop безопасен.
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.logger.Info("stopping audit writer: closing channel and flushing buffer...")
	close(w.ch)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("audit writer stopped gracefully")
}

// Enqueue реализует Sink. Стратегия Load Shedding: при переполнении буфера
// событие уходит в структурный лог вместо БД, продюсер не блокируется.
func (w *Writer) Enqueue(event domain.SecurityEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.logger.Warn("audit event dropped: writer is stopping", zap.String("id", event.EventID()))
		return
	}

	select {
	case w.ch <- event:
		if w.fill != nil {
			w.fill.Set(float64(len(w.ch)))
		}
	default:
		w.logger.Error("audit_buffer_overflow",
			zap.String("plugin_id", event.EventPluginID()),
			zap.String("kind", string(event.Kind())),
		)
	}
}

func (w *Writer) worker() {
	defer w.wg.Done()

	batch := make([]domain.SecurityEvent, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст на этапе shutdown может быть уже закрыт
		if err := w.repo.WriteBatch(context.Background(), batch); err != nil {
			w.logger.Error("audit flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-w.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остаток, финальный flush и выходим
				flush()
				w.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
			if w.fill != nil {
				w.fill.Set(float64(len(w.ch)))
			}
		}
	}
}
