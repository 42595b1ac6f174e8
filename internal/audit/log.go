package audit

import (
	"sync"
	"time"

	"github.com/xela07ax/pluginguard/internal/domain"
	"go.uber.org/zap"
)

// DefaultCapacity — емкость журнала по умолчанию.
const DefaultCapacity = 1000

// Sink принимает события для асинхронной персистентности (см. Writer).
type Sink interface {
	Enqueue(event domain.SecurityEvent)
}

// EventLog — append-only журнал событий безопасности с жесткой емкостью.
// Кольцевой буфер под мьютексом: вытеснение строго FIFO и O(1), без копирования
// всего журнала на каждую запись. Писатели конкурентны; читатели получают
// консистентный (возможно, слегка устаревший) снимок.
type EventLog struct {
	mu   sync.Mutex
	buf  []domain.SecurityEvent
	head int // индекс самого старого события
	size int

	sink   Sink // может быть nil — персистентность опциональна
	subs   *broadcaster
	logger *zap.Logger
	now    func() time.Time
}

// NewEventLog создает журнал на capacity событий (<=0 — DefaultCapacity).
func NewEventLog(capacity int, sink Sink, logger *zap.Logger) *EventLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &EventLog{
		buf:    make([]domain.SecurityEvent, capacity),
		sink:   sink,
		subs:   newBroadcaster(),
		logger: logger.Named("eventlog"),
		now:    time.Now,
	}
}

// Record добавляет событие. Никогда не возвращает ошибку и не блокирует
// вызывающего дольше критической секции добавления. При переполнении
// вытесняется самое старое событие.
func (l *EventLog) Record(event domain.SecurityEvent) {
	l.mu.Lock()
	if l.size == len(l.buf) {
		// Буфер полон: перезаписываем голову, сдвигая ее вперед
		l.buf[l.head] = event
		l.head = (l.head + 1) % len(l.buf)
	} else {
		l.buf[(l.head+l.size)%len(l.buf)] = event
		l.size++
	}
	// Публикация под мьютексом журнала: снимки приходят подписчикам строго
	// в порядке записи, «последний» всегда самый свежий. Отправка
	// неблокирующая, критическая секция остается ограниченной.
	if l.subs.active() {
		l.subs.publish(l.snapshotLocked())
	}
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.Enqueue(event)
	}
}

// Snapshot возвращает копию журнала в порядке вставки (самое свежее — последним).
func (l *EventLog) Snapshot() []domain.SecurityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *EventLog) snapshotLocked() []domain.SecurityEvent {
	out := make([]domain.SecurityEvent, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	return out
}

// EventsFor возвращает события конкретного плагина с сохранением глобального порядка.
func (l *EventLog) EventsFor(pluginID string) []domain.SecurityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.SecurityEvent
	for i := 0; i < l.size; i++ {
		ev := l.buf[(l.head+i)%len(l.buf)]
		if ev.EventPluginID() == pluginID {
			out = append(out, ev)
		}
	}
	return out
}

// PurgeOlderThan удаляет события старше now-age. Периодический housekeeping;
// не отменяет вытеснение по емкости — действуют оба механизма.
func (l *EventLog) PurgeOlderThan(age time.Duration) int {
	cutoff := l.now().Add(-age)

	l.mu.Lock()
	removed := 0
	// События упорядочены по вставке, таймстемпы монотонны:
	// устаревшие снимаются с головы
	for l.size > 0 {
		ev := l.buf[l.head]
		if !ev.EventTime().Before(cutoff) {
			break
		}
		l.buf[l.head] = nil
		l.head = (l.head + 1) % len(l.buf)
		l.size--
		removed++
	}
	l.mu.Unlock()

	if removed > 0 {
		l.logger.Debug("purged stale events", zap.Int("removed", removed))
	}
	return removed
}

// Len — текущее число событий в журнале.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Subscribe выдает подписку на живые снимки журнала (см. Subscription).
func (l *EventLog) Subscribe() *Subscription {
	return l.subs.subscribe()
}
