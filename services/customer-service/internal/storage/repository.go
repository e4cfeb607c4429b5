package storage

import (
	"errors"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/db"
	"github.com/md-rashed-zaman/mspharm/libs/outbox"
)

var ErrNotFound = errors.New("not found")

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, ob *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: ob}
}

// likePattern wraps term for ILIKE, escaping the wildcard characters.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}
