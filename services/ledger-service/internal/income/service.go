package income

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/cache"
)

const (
	CachePrefix = "daily-income:"
	CacheTTL    = 60 * time.Second
)

// Service reads days through a short-lived cache and drops the entry on
// every write.
type Service struct {
	store Store
	cache *cache.Loader[Record]
}

func NewService(store Store, c *cache.Loader[Record]) *Service {
	return &Service{store: store, cache: c}
}

func (s *Service) Get(ctx context.Context, date string) (Record, bool, error) {
	load := func(ctx context.Context) (Record, error) {
		d, ok, err := s.store.Get(ctx, date)
		if err != nil {
			return Record{}, err
		}
		if !ok {
			d = Day{Date: date}
		}
		return Record{Day: d, Exists: ok}, nil
	}
	if s.cache == nil {
		rec, err := load(ctx)
		return rec, false, err
	}
	return s.cache.Get(ctx, date, load)
}

func (s *Service) Save(ctx context.Context, day Day) (Day, error) {
	saved, err := s.store.Save(ctx, day)
	if err != nil {
		return Day{}, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, day.Date)
	}
	return saved, nil
}

func (s *Service) Stats(ctx context.Context, p Period) (Stats, error) {
	days, err := s.store.Range(ctx, p.Start, p.End)
	if err != nil {
		return Stats{}, err
	}
	return CalculateStats(days), nil
}

// Range passes straight to the store; the reconcile sweep wants fresh rows.
func (s *Service) Range(ctx context.Context, from, to string) ([]Day, error) {
	return s.store.Range(ctx, from, to)
}
