package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/md-rashed-zaman/mspharm/libs/notion"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const ConsultationBucket = "consultation-images"

type Source interface {
	QueryAll(ctx context.Context, databaseID string, req notion.QueryRequest, fn func([]notion.Page) error) error
}

type Sink interface {
	ConsultationIDs(ctx context.Context) (map[string]bool, error)
	// InsertCustomer returns false when the customer code already exists.
	InsertCustomer(ctx context.Context, c Customer, pinHash string) (bool, error)
	// EnsureCustomer returns the id for code, creating a placeholder customer
	// when none exists.
	EnsureCustomer(ctx context.Context, code, pinHash string) (string, error)
	// InsertConsultation returns false when the consultation id already exists.
	InsertConsultation(ctx context.Context, customerID string, c Consultation) (bool, error)
	Counts(ctx context.Context) (customers, consultations int, err error)
}

type Uploader interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
}

// Fetcher downloads an attachment; Notion file URLs are short-lived signed
// links so they are fetched during the import.
type Fetcher func(ctx context.Context, url string) ([]byte, string, error)

type Config struct {
	CustomerDB     string
	ConsultationDB string
	Concurrency    int
	DryRun         bool
	// HashPIN hashes initial customer PINs.
	HashPIN func(pin string) (string, error)
}

type Importer struct {
	source Source
	sink   Sink
	store  Uploader
	fetch  Fetcher
	cfg    Config
	logger *slog.Logger

	flight      singleflight.Group
	customerIDs sync.Map
	defaultHash string
}

func New(source Source, sink Sink, store Uploader, fetch Fetcher, cfg Config, logger *slog.Logger) *Importer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Importer{source: source, sink: sink, store: store, fetch: fetch, cfg: cfg, logger: logger}
}

// Report counts what one import phase did.
type Report struct {
	Phase    string
	Fetched  atomic.Int64
	Inserted atomic.Int64
	Skipped  atomic.Int64
	Failed   atomic.Int64
	Images   atomic.Int64

	mu     sync.Mutex
	Issues []string
}

func (r *Report) issue(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}

func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "%s: fetched=%d inserted=%d skipped=%d failed=%d images=%d\n",
		r.Phase, r.Fetched.Load(), r.Inserted.Load(), r.Skipped.Load(), r.Failed.Load(), r.Images.Load())
	for _, s := range r.Issues {
		fmt.Fprintf(w, "  - %s\n", s)
	}
}

func (im *Importer) fetchAll(ctx context.Context, databaseID string, req notion.QueryRequest, rep *Report) ([]notion.Page, error) {
	var pages []notion.Page
	err := im.source.QueryAll(ctx, databaseID, req, func(batch []notion.Page) error {
		pages = append(pages, batch...)
		rep.Fetched.Add(int64(len(batch)))
		im.logger.Info("notion page fetched", "phase", rep.Phase, "rows", len(batch), "total", len(pages))
		return nil
	})
	return pages, err
}

// Customers imports the customer database. Existing codes are left alone.
func (im *Importer) Customers(ctx context.Context) (*Report, error) {
	rep := &Report{Phase: "customers"}
	pages, err := im.fetchAll(ctx, im.cfg.CustomerDB, notion.QueryRequest{PageSize: 100}, rep)
	if err != nil {
		return rep, fmt.Errorf("query customers: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.cfg.Concurrency)
	for _, pg := range pages {
		c, err := CustomerFromPage(pg)
		if err != nil {
			rep.Skipped.Add(1)
			rep.issue("%v", err)
			continue
		}
		if im.cfg.DryRun {
			rep.Inserted.Add(1)
			continue
		}
		g.Go(func() error {
			hash, err := im.cfg.HashPIN(InitialPIN(c.Phone))
			if err != nil {
				return err
			}
			ok, err := im.sink.InsertCustomer(gctx, c, hash)
			switch {
			case err != nil:
				rep.Failed.Add(1)
				rep.issue("customer %s: %v", c.Code, err)
			case ok:
				rep.Inserted.Add(1)
			default:
				rep.Skipped.Add(1)
			}
			return nil
		})
	}
	return rep, g.Wait()
}

// Consultations imports the consultation database oldest first, creating
// placeholder customers and re-uploading symptom images as it goes.
func (im *Importer) Consultations(ctx context.Context) (*Report, error) {
	rep := &Report{Phase: "consultations"}
	existing, err := im.sink.ConsultationIDs(ctx)
	if err != nil {
		return rep, fmt.Errorf("load existing consultations: %w", err)
	}
	pages, err := im.fetchAll(ctx, im.cfg.ConsultationDB, notion.QueryRequest{
		PageSize: 100,
		Sorts:    []notion.Sort{{Property: "상담일자", Direction: "ascending"}},
	}, rep)
	if err != nil {
		return rep, fmt.Errorf("query consultations: %w", err)
	}

	if !im.cfg.DryRun {
		if im.defaultHash, err = im.cfg.HashPIN(InitialPIN("")); err != nil {
			return rep, err
		}
	}

	seen := map[string]bool{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.cfg.Concurrency)
	for _, pg := range pages {
		c, err := ConsultationFromPage(pg)
		if err != nil {
			rep.Skipped.Add(1)
			rep.issue("%v", err)
			continue
		}
		if existing[c.ConsultationID] || seen[c.ConsultationID] {
			rep.Skipped.Add(1)
			continue
		}
		seen[c.ConsultationID] = true
		if im.cfg.DryRun {
			rep.Inserted.Add(1)
			rep.Images.Add(int64(len(c.ImageURLs)))
			continue
		}
		g.Go(func() error {
			if err := im.consultation(gctx, c, rep); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				rep.Failed.Add(1)
				rep.issue("consultation %s: %v", c.ConsultationID, err)
				im.logger.Warn("consultation import failed", "consultation_id", c.ConsultationID, "err", err)
			}
			return nil
		})
	}
	return rep, g.Wait()
}

func (im *Importer) consultation(ctx context.Context, c Consultation, rep *Report) error {
	customerID, err := im.customerFor(ctx, c.CustomerCode)
	if err != nil {
		return fmt.Errorf("customer %s: %w", c.CustomerCode, err)
	}

	urls := make([]string, 0, len(c.ImageURLs))
	for i, src := range c.ImageURLs {
		data, contentType, err := im.fetch(ctx, src)
		if err != nil {
			rep.issue("consultation %s image %d: %v", c.ConsultationID, i+1, err)
			continue
		}
		if contentType == "" {
			contentType = "image/jpeg"
		}
		u, err := im.store.Upload(ctx, ConsultationBucket, ImagePath(c.CustomerCode, c.ConsultationID, i+1), data, contentType)
		if err != nil {
			rep.issue("consultation %s image %d: %v", c.ConsultationID, i+1, err)
			continue
		}
		urls = append(urls, u)
		rep.Images.Add(1)
	}
	c.ImageURLs = urls

	ok, err := im.sink.InsertConsultation(ctx, customerID, c)
	if err != nil {
		return err
	}
	if ok {
		rep.Inserted.Add(1)
	} else {
		rep.Skipped.Add(1)
	}
	return nil
}

// customerFor collapses concurrent lookups of the same code so a placeholder
// customer is created once, and remembers the answer.
func (im *Importer) customerFor(ctx context.Context, code string) (string, error) {
	if id, ok := im.customerIDs.Load(code); ok {
		return id.(string), nil
	}
	v, err, _ := im.flight.Do(code, func() (any, error) {
		if id, ok := im.customerIDs.Load(code); ok {
			return id, nil
		}
		id, err := im.sink.EnsureCustomer(ctx, code, im.defaultHash)
		if err != nil {
			return "", err
		}
		im.customerIDs.Store(code, id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Verification compares Notion with Postgres.
type Verification struct {
	NotionCustomers     int
	NotionConsultations int
	DBCustomers         int
	DBConsultations     int
	Missing             []string
}

func (v Verification) Complete() bool {
	return len(v.Missing) == 0 && v.DBConsultations >= v.NotionConsultations
}

func (im *Importer) Verify(ctx context.Context) (Verification, error) {
	var out Verification
	g, gctx := errgroup.WithContext(ctx)

	var notionIDs []string
	g.Go(func() error {
		return im.source.QueryAll(gctx, im.cfg.CustomerDB, notion.QueryRequest{PageSize: 100}, func(pages []notion.Page) error {
			out.NotionCustomers += len(pages)
			return nil
		})
	})
	g.Go(func() error {
		return im.source.QueryAll(gctx, im.cfg.ConsultationDB, notion.QueryRequest{PageSize: 100}, func(pages []notion.Page) error {
			out.NotionConsultations += len(pages)
			for _, pg := range pages {
				if id := pg.Prop("id").Text(); id != "" {
					notionIDs = append(notionIDs, id)
				}
			}
			return nil
		})
	})
	var existing map[string]bool
	g.Go(func() error {
		var err error
		if existing, err = im.sink.ConsultationIDs(gctx); err != nil {
			return err
		}
		out.DBCustomers, out.DBConsultations, err = im.sink.Counts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return out, err
	}
	for _, id := range notionIDs {
		if !existing[id] {
			out.Missing = append(out.Missing, id)
		}
	}
	sort.Strings(out.Missing)
	return out, nil
}
