// Package search keeps consultations in an Elasticsearch index for free
// text lookup.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/md-rashed-zaman/mspharm/libs/events"
)

const DefaultIndex = "consultations"

var ErrNotConfigured = errors.New("elasticsearch not configured")

// searchable lists the analyzed text fields queried by Search.
var searchable = []string{
	"symptoms^3", "prescription^2", "patient_condition", "tongue_analysis",
	"special_notes", "result", "customer_name",
}

const mapping = `{
  "mappings": {
    "properties": {
      "consultation_id":   {"type": "keyword"},
      "customer_id":       {"type": "keyword"},
      "customer_name":     {"type": "text"},
      "consult_date":      {"type": "date"},
      "symptoms":          {"type": "text"},
      "patient_condition": {"type": "text"},
      "tongue_analysis":   {"type": "text"},
      "special_notes":     {"type": "text"},
      "prescription":      {"type": "text"},
      "result":            {"type": "text"}
    }
  }
}`

type Config struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	Index     string
}

type Index struct {
	es    *elasticsearch.Client
	index string
}

func New(cfg Config) (*Index, error) {
	if len(cfg.Addresses) == 0 {
		return nil, ErrNotConfigured
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Index{es: es, index: cfg.Index}, nil
}

// Ping reports whether the cluster answers; used as a readiness check.
func (i *Index) Ping(ctx context.Context) error {
	res, err := i.es.Ping(i.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: %s", res.Status())
	}
	return nil
}

// Ensure creates the index with its mapping when it does not exist yet.
func (i *Index) Ensure(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{i.index}}.Do(ctx, i.es)
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	res, err = esapi.IndicesCreateRequest{Index: i.index, Body: strings.NewReader(mapping)}.Do(ctx, i.es)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return fmt.Errorf("create index: %s", res.String())
	}
	return nil
}

// Put indexes a consultation under its row id.
func (i *Index) Put(ctx context.Context, doc events.Consultation) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	res, err := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(body),
	}.Do(ctx, i.es)
	if err != nil {
		return fmt.Errorf("index document: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index document: %s", res.String())
	}
	return nil
}

// Delete removes a document; a missing document is not an error.
func (i *Index) Delete(ctx context.Context, id string) error {
	res, err := esapi.DeleteRequest{Index: i.index, DocumentID: id}.Do(ctx, i.es)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete document: %s", res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search returns the ids of the best matching consultations, optionally
// restricted to one customer.
func (i *Index) Search(ctx context.Context, q, customerID string, limit int) ([]string, error) {
	body, err := json.Marshal(Query(q, customerID, limit))
	if err != nil {
		return nil, err
	}
	res, err := i.es.Search(
		i.es.Search.WithContext(ctx),
		i.es.Search.WithIndex(i.index),
		i.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search: %s", res.String())
	}
	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	ids := make([]string, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// Query builds the search body.
func Query(q, customerID string, limit int) map[string]any {
	if limit <= 0 {
		limit = 20
	}
	boolQuery := map[string]any{
		"must": []any{map[string]any{
			"multi_match": map[string]any{
				"query":     q,
				"fields":    searchable,
				"fuzziness": "AUTO",
			},
		}},
	}
	if customerID != "" {
		boolQuery["filter"] = []any{map[string]any{"term": map[string]any{"customer_id": customerID}}}
	}
	return map[string]any{
		"size":  limit,
		"query": map[string]any{"bool": boolQuery},
		"sort":  []any{"_score", map[string]any{"consult_date": "desc"}},
	}
}
