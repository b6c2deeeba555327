package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"logingest/internal/config"
	"logingest/internal/storage"
	"logingest/pkg/logx"
)

// captureStore records inserted entries in memory.
type captureStore struct {
	mu      sync.Mutex
	entries []storage.Entry
}

func (c *captureStore) EnsureSchema(ctx context.Context) error { return nil }

func (c *captureStore) InsertEntries(ctx context.Context, entries []storage.Entry) error {
	c.mu.Lock()
	c.entries = append(c.entries, entries...)
	c.mu.Unlock()
	return nil
}

func (c *captureStore) Close() error { return nil }

func (c *captureStore) all() []storage.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]storage.Entry(nil), c.entries...)
}

func baseSpec(name, endpoint string) config.SourceSpec {
	return config.SourceSpec{
		Name:      name,
		Type:      "json_placeholder",
		Schedule:  "* * * * *",
		Endpoint:  endpoint,
		Product:   "testprod",
		EventType: "testevent",
		Severity:  "low",
	}
}

func TestFetchArray(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1},{"id":2},{"id":3}]`))
	}))
	defer srv.Close()

	store := &captureStore{}
	unit, err := NewJSONPlaceholder(baseSpec("arr", srv.URL), store, logx.Nop())
	if err != nil {
		t.Fatalf("NewJSONPlaceholder: %v", err)
	}
	n, err := unit.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n != 3 {
		t.Fatalf("records = %d, want 3", n)
	}
	got := store.all()
	if len(got) != 3 {
		t.Fatalf("stored %d entries", len(got))
	}
	e := got[0]
	if e.Source != "arr" || e.Product != "testprod" || e.EventType != "testevent" || e.Severity != "low" {
		t.Fatalf("entry fields = %+v", e)
	}
	if string(e.Raw) != `{"id":1}` {
		t.Fatalf("raw = %s", e.Raw)
	}
	if e.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestFetchSingleObject(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 42}`))
	}))
	defer srv.Close()

	store := &captureStore{}
	unit, err := NewJSONPlaceholder(baseSpec("obj", srv.URL), store, logx.Nop())
	if err != nil {
		t.Fatalf("NewJSONPlaceholder: %v", err)
	}
	n, err := unit.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n != 1 || len(store.all()) != 1 {
		t.Fatalf("records = %d, stored = %d", n, len(store.all()))
	}
}

func TestFetchSendsParams(t *testing.T) {
	t.Parallel()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("postId")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	spec := baseSpec("q", srv.URL)
	spec.Params = map[string]string{"postId": "7"}
	unit, err := NewJSONPlaceholder(spec, nil, logx.Nop())
	if err != nil {
		t.Fatalf("NewJSONPlaceholder: %v", err)
	}
	if _, err := unit.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotQuery != "7" {
		t.Fatalf("postId param = %q", gotQuery)
	}
}

func TestFetchErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	store := &captureStore{}
	unit, err := NewJSONPlaceholder(baseSpec("err", srv.URL), store, logx.Nop())
	if err != nil {
		t.Fatalf("NewJSONPlaceholder: %v", err)
	}
	if _, err := unit.Execute(context.Background()); err == nil {
		t.Fatal("expected error for 502 response")
	}
	if len(store.all()) != 0 {
		t.Fatal("failed fetch must not store entries")
	}
}

func TestFetchBadJSON(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"unterminated`))
	}))
	defer srv.Close()

	unit, err := NewJSONPlaceholder(baseSpec("bad", srv.URL), nil, logx.Nop())
	if err != nil {
		t.Fatalf("NewJSONPlaceholder: %v", err)
	}
	if _, err := unit.Execute(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFactoryValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewJSONPlaceholder(baseSpec("no-ep", ""), nil, logx.Nop()); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
	if _, err := NewJSONPlaceholder(baseSpec("ftp", "ftp://example.com"), nil, logx.Nop()); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
}

func TestDefaultsFillEntryFields(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"a":1}]`))
	}))
	defer srv.Close()

	spec := config.SourceSpec{
		Name:     "defaults",
		Type:     "json_placeholder",
		Schedule: "* * * * *",
		Endpoint: srv.URL,
	}
	store := &captureStore{}
	unit, err := NewJSONPlaceholder(spec, store, logx.Nop())
	if err != nil {
		t.Fatalf("NewJSONPlaceholder: %v", err)
	}
	if _, err := unit.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	e := store.all()[0]
	if e.Product != "defaults" || e.EventType != "event" || e.Severity != "info" {
		t.Fatalf("defaulted fields = %+v", e)
	}
}

func TestRegistryBuild(t *testing.T) {
	t.Parallel()
	reg := Defaults()
	if _, err := reg.Build(config.SourceSpec{Name: "x", Type: "csv_over_carrier_pigeon"}, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown type")
	}
	spec := baseSpec("known", "https://example.com")
	if _, err := reg.Build(spec, nil, logx.Nop()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	types := reg.Types()
	if len(types) == 0 || types[0] != "json_placeholder" {
		t.Fatalf("Types() = %v", types)
	}
}
