package pagination

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/coocood/freecache"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"tg-feedback-bot/internal/domain"
	"tg-feedback-bot/internal/infra/keylock"
)

// DefaultPageSize размер страницы списков.
const DefaultPageSize = 25

// Paginate возвращает элементы страницы page, номер страницы после
// приведения к [0, pageCount-1] и количество страниц.
func Paginate[T any](items []T, pageSize, page int) ([]T, int, int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if len(items) == 0 {
		return nil, 0, 0
	}
	pageCount := (len(items) + pageSize - 1) / pageSize
	page = min(max(page, 0), pageCount-1)
	start := page * pageSize
	end := min(start+pageSize, len(items))
	return items[start:end], page, pageCount
}

// Page отрендеренная страница списка.
type Page[T any] struct {
	Items []T
	// Offset порядковый номер первого элемента страницы в списке.
	Offset int
	Index  int
	Count  int
	Total  int
	// Moved страница изменилась при навигации.
	Moved bool
}

// Empty список без элементов.
func (p Page[T]) Empty() bool { return p.Total == 0 }

// First, Prev, Next и Last индексы для кнопок навигации.
func (p Page[T]) First() int { return 0 }
func (p Page[T]) Prev() int  { return max(p.Index-1, 0) }
func (p Page[T]) Next() int  { return min(p.Index+1, max(p.Count-1, 0)) }
func (p Page[T]) Last() int  { return max(p.Count-1, 0) }

// header описывает сохранённый список. Страницы лежат отдельными
// записями под ключами base:gen:N.
type header struct {
	Gen   uint64 `json:"gen"`
	Page  int    `json:"page"`
	Count int    `json:"count"`
	Total int    `json:"total"`
}

// Cache хранит списки по паре (запросивший, вид списка) для навигации
// без повторной выборки из журнала.
type Cache[T any] struct {
	cache    *freecache.Cache
	ttl      int
	pageSize int
	gen      atomic.Uint64
	locks    *keylock.Locker[string]
	log      zerolog.Logger
}

// NewCache создаёт кеш размером sizeMB мегабайт. ttlSeconds задаёт время жизни списка.
func NewCache[T any](sizeMB, ttlSeconds, pageSize int, log zerolog.Logger) *Cache[T] {
	if sizeMB <= 0 {
		sizeMB = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cache[T]{
		cache:    freecache.NewCache(sizeMB * 1024 * 1024),
		ttl:      max(ttlSeconds, 1),
		pageSize: pageSize,
		locks:    keylock.New[string](),
		log:      log.With().Str("component", "pagination").Logger(),
	}
}

func cacheKey(requester int64, kind string) string {
	return strconv.FormatInt(requester, 10) + ":" + kind
}

func pageKey(base string, gen uint64, index int) []byte {
	return []byte(base + ":" + strconv.FormatUint(gen, 10) + ":" + strconv.Itoa(index))
}

// Open сохраняет новый список и возвращает его первую страницу.
// Пустой список не сохраняется.
func (c *Cache[T]) Open(requester int64, kind string, items []T) (Page[T], error) {
	if len(items) == 0 {
		return Page[T]{}, nil
	}
	key := cacheKey(requester, kind)
	unlock := c.locks.Lock(key)
	defer unlock()

	h := header{Gen: c.gen.Add(1), Total: len(items)}
	var first []T
	for i := 0; ; i++ {
		chunk, index, count := Paginate(items, c.pageSize, i)
		if index != i {
			break
		}
		h.Count = count
		if err := c.set(pageKey(key, h.Gen, i), chunk); err != nil {
			return Page[T]{}, err
		}
		if i == 0 {
			first = chunk
		}
	}
	if err := c.set([]byte(key), h); err != nil {
		return Page[T]{}, err
	}
	p := c.page(h, first)
	p.Moved = true
	return p, nil
}

// Navigate переходит на страницу index ранее открытого списка.
// Истёкший или неизвестный список даёт domain.ErrNotFound.
func (c *Cache[T]) Navigate(requester int64, kind string, index int) (Page[T], error) {
	key := cacheKey(requester, kind)
	unlock := c.locks.Lock(key)
	defer unlock()

	var h header
	if err := c.get([]byte(key), &h); err != nil {
		return Page[T]{}, fmt.Errorf("pagination %s: %w", key, err)
	}
	if h.Count == 0 {
		return Page[T]{}, nil
	}
	prev := h.Page
	h.Page = min(max(index, 0), h.Count-1)
	var items []T
	if err := c.get(pageKey(key, h.Gen, h.Page), &items); err != nil {
		c.cache.Del([]byte(key))
		return Page[T]{}, fmt.Errorf("pagination %s page %d: %w", key, h.Page, err)
	}
	if err := c.set([]byte(key), h); err != nil {
		return Page[T]{}, err
	}
	for i := range h.Count {
		_ = c.cache.Touch(pageKey(key, h.Gen, i), c.ttl)
	}
	p := c.page(h, items)
	p.Moved = p.Index != prev
	return p, nil
}

func (c *Cache[T]) set(key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode pagination: %w", err)
	}
	if err := c.cache.Set(key, raw, c.ttl); err != nil {
		return fmt.Errorf("store pagination: %w", err)
	}
	return nil
}

// get отсутствующая или повреждённая запись даёт domain.ErrNotFound.
func (c *Cache[T]) get(key []byte, v any) error {
	raw, err := c.cache.Get(key)
	if err != nil {
		return domain.ErrNotFound
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.log.Warn().Err(err).Str("key", string(key)).Msg("повреждённое состояние пагинации")
		c.cache.Del(key)
		return domain.ErrNotFound
	}
	return nil
}

func (c *Cache[T]) page(h header, items []T) Page[T] {
	return Page[T]{
		Items:  items,
		Offset: h.Page * c.pageSize,
		Index:  h.Page,
		Count:  h.Count,
		Total:  h.Total,
	}
}
