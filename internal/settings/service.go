package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"cmsapi/internal/model"
)

// bulkConcurrency bounds the per-item fan-out of BulkUpdate.
const bulkConcurrency = 8

var (
	// ErrUnknownKey is returned when updating a key that has no row.
	ErrUnknownKey = errors.New("setting not found")
	// ErrInvalidValue is returned when a new value does not decode as the row's kind.
	ErrInvalidValue = errors.New("invalid setting value")
)

// Store is the settings table as seen by the write path.
type Store interface {
	Source
	FindByKey(ctx context.Context, key string) (*model.Setting, error)
	UpdateValue(ctx context.Context, key, value string) error
}

// Item is one entry of a bulk update.
type Item struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// ItemError reports why one bulk item failed.
type ItemError struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// BulkResult is the partial-success tally of BulkUpdate.
type BulkResult struct {
	Updated int         `json:"updated"`
	Failed  int         `json:"failed"`
	Errors  []ItemError `json:"errors"`
}

// Service writes settings and keeps a process-wide handle on the current tree.
type Service struct {
	store   Store
	cache   *Cache
	log     *logrus.Entry
	current atomic.Pointer[loaded]
}

// NewService wires the write path to the cache it invalidates.
func NewService(store Store, cache *Cache, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Service{store: store, cache: cache, log: log}
	s.current.Store(&loaded{tree: newNode()})
	return s
}

// Cache exposes the read side.
func (s *Service) Cache() *Cache {
	return s.cache
}

// Current returns the last tree published by Refresh. It is never nil.
func (s *Service) Current() *Node {
	return s.current.Load().tree
}

// Refresh reloads through the cache and publishes the result to Current.
func (s *Service) Refresh(ctx context.Context) (*Node, error) {
	tree, gen, err := s.cache.load(ctx)
	if err != nil {
		return nil, err
	}
	s.publish(tree, gen)
	return tree, nil
}

// publish installs tree unless a tree from a later generation is already current.
func (s *Service) publish(tree *Node, gen uint64) {
	next := &loaded{tree: tree, gen: gen}
	for {
		cur := s.current.Load()
		if cur.gen > gen {
			return
		}
		if s.current.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Invalidate drops the cached tree and reloads it eagerly.
func (s *Service) Invalidate(ctx context.Context) (*Node, error) {
	s.cache.Invalidate()
	return s.Refresh(ctx)
}

// Update validates and writes one value, then invalidates and reloads.
// The returned tree is nil when the write landed but the reload failed.
func (s *Service) Update(ctx context.Context, key, value string) (*Node, error) {
	if err := s.write(ctx, key, value); err != nil {
		return nil, err
	}
	tree, err := s.Invalidate(ctx)
	if err != nil {
		// the row is written; readers reload on their next access
		s.log.WithError(err).WithField("key", key).Warn("settings reload after update failed")
		return nil, nil
	}
	return tree, nil
}

// BulkUpdate writes every item independently and reports what succeeded.
// The cache is invalidated once after all writes if any succeeded.
func (s *Service) BulkUpdate(ctx context.Context, items []Item) BulkResult {
	result := BulkResult{Errors: []ItemError{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	for _, item := range items {
		item := item
		g.Go(func() error {
			err := s.write(gctx, item.Key, item.Value)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, ItemError{Key: item.Key, Error: err.Error()})
				return nil
			}
			result.Updated++
			return nil
		})
	}
	_ = g.Wait()

	if result.Updated > 0 {
		if _, err := s.Invalidate(ctx); err != nil {
			s.log.WithError(err).Warn("settings reload after bulk update failed")
		}
	}
	return result
}

func (s *Service) write(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidValue)
	}
	row, err := s.store.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownKey
		}
		return fmt.Errorf("find setting %q: %w", key, err)
	}
	if _, err := Decode(KindOf(row.Type, row.Category), value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if err := s.store.UpdateValue(ctx, key, value); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownKey
		}
		return fmt.Errorf("update setting %q: %w", key, err)
	}
	return nil
}
