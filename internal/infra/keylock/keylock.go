package keylock

import (
	"cmp"
	"slices"
	"sync"
)

// Locker выдаёт взаимоисключающие блокировки по ключу. Записи удаляются,
// когда блокировку никто не держит и не ждёт.
type Locker[K cmp.Ordered] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New создаёт набор блокировок.
func New[K cmp.Ordered]() *Locker[K] {
	return &Locker[K]{locks: make(map[K]*entry)}
}

// Lock захватывает блокировку ключа и возвращает функцию освобождения.
func (l *Locker[K]) Lock(key K) func() {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// LockMany захватывает несколько ключей в порядке возрастания.
func (l *Locker[K]) LockMany(keys ...K) func() {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	unlocks := make([]func(), 0, len(sorted))
	for _, k := range sorted {
		unlocks = append(unlocks, l.Lock(k))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// Len количество активных ключей.
func (l *Locker[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
