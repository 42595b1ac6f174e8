package audit

import (
	"sync"
	"sync/atomic"

	"github.com/xela07ax/pluginguard/internal/domain"
)

// Subscription — read-only хэндл наблюдателя. Канал емкостью 1 со семантикой
// "последний выигрывает": если наблюдатель не успевает, промежуточные снимки
// заменяются свежим. Продюсер никогда не блокируется.
type Subscription struct {
	C      <-chan []domain.SecurityEvent
	ch     chan []domain.SecurityEvent
	cancel func()
	once   sync.Once
}

// Close отписывает наблюдателя. Канал закрывается.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

type broadcaster struct {
	mu    sync.Mutex
	next  int
	subs  map[int]*Subscription
	count int32
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]*Subscription)}
}

// active — дешевая проверка для hot path: есть ли вообще подписчики.
func (b *broadcaster) active() bool {
	return atomic.LoadInt32(&b.count) > 0
}

func (b *broadcaster) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++

	ch := make(chan []domain.SecurityEvent, 1)
	sub := &Subscription{C: ch, ch: ch}
	sub.cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			atomic.AddInt32(&b.count, -1)
			close(ch)
		}
		b.mu.Unlock()
	}

	b.subs[id] = sub
	atomic.AddInt32(&b.count, 1)
	return sub
}

func (b *broadcaster) publish(snapshot []domain.SecurityEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- snapshot:
		default:
			// Подписчик отстал: вынимаем устаревший снимок и кладем свежий
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snapshot:
			default:
			}
		}
	}
}
