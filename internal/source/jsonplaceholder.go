package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"logingest/internal/config"
	"logingest/internal/job"
	"logingest/internal/storage"
	"logingest/pkg/logx"
)

const maxResponseBytes = 32 << 20

// jsonPlaceholder pulls a JSON document over HTTP and stores each record
// as one log entry. The endpoint may return either an array of objects or
// a single object.
type jsonPlaceholder struct {
	name      string
	endpoint  string
	params    map[string]string
	product   string
	eventType string
	severity  string

	client  *http.Client
	limiter *rate.Limiter
	store   storage.Store
	log     logx.Logger
}

// NewJSONPlaceholder builds the generic JSON-over-HTTP source.
func NewJSONPlaceholder(spec config.SourceSpec, store storage.Store, log logx.Logger) (job.Unit, error) {
	ep := strings.TrimSpace(spec.Endpoint)
	if ep == "" {
		return nil, fmt.Errorf("source %q: endpoint is required", spec.Name)
	}
	u, err := url.Parse(ep)
	if err != nil {
		return nil, fmt.Errorf("source %q: endpoint: %w", spec.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("source %q: endpoint must be http(s), got %q", spec.Name, u.Scheme)
	}

	s := &jsonPlaceholder{
		name:      spec.Name,
		endpoint:  ep,
		params:    spec.Params,
		product:   spec.Product,
		eventType: spec.EventType,
		severity:  spec.Severity,
		client:    &http.Client{},
		store:     store,
		log:       log.With(logx.String("source", spec.Name)),
	}
	if s.product == "" {
		s.product = spec.Name
	}
	if s.eventType == "" {
		s.eventType = "event"
	}
	if s.severity == "" {
		s.severity = "info"
	}
	if spec.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(spec.RatePerSec), spec.RatePerSec)
	}
	return s, nil
}

// Execute fetches one batch and persists it, returning the record count.
func (s *jsonPlaceholder) Execute(ctx context.Context) (int, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	records, err := s.fetch(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		s.log.Debug("no records returned")
		return 0, nil
	}

	now := time.Now().UTC()
	entries := make([]storage.Entry, 0, len(records))
	for _, raw := range records {
		entries = append(entries, storage.Entry{
			Source:    s.name,
			Product:   s.product,
			EventType: s.eventType,
			Severity:  s.severity,
			Timestamp: now,
			Raw:       raw,
		})
	}
	if s.store != nil {
		if err := s.store.InsertEntries(ctx, entries); err != nil {
			return 0, fmt.Errorf("store %d records: %w", len(entries), err)
		}
	}
	return len(entries), nil
}

func (s *jsonPlaceholder) fetch(ctx context.Context) ([]json.RawMessage, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, err
	}
	if len(s.params) > 0 {
		q := u.Query()
		for k, v := range s.params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", u.Host, resp.StatusCode)
	}
	return splitRecords(body)
}

// splitRecords accepts a top-level JSON array or a single object.
func splitRecords(body []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var arr []json.RawMessage
		if err := json.Unmarshal(body, &arr); err != nil {
			return nil, fmt.Errorf("decode response array: %w", err)
		}
		return arr, nil
	}
	var obj json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode response object: %w", err)
	}
	return []json.RawMessage{obj}, nil
}
