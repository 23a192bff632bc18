// Package assetcache serves static dashboard assets network-first: every
// request goes to the origin and the response is stored; when the origin is
// unreachable the last stored response is served instead.
package assetcache

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const assetsBucket = "assets"

// maxBody caps what is read from the origin and stored per asset.
const maxBody = 8 << 20

// entry is one stored response.
type entry struct {
	Status      int       `json:"status"`
	ContentType string    `json:"contentType,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	Body        []byte    `json:"body"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

type Cache struct {
	db     *bolt.DB
	origin *url.URL
	client *http.Client
	log    logrus.FieldLogger
}

// Open opens (or creates) the bbolt file at path and caches assets fetched
// from origin. A nil client means a client with a 10s timeout.
func Open(path, origin string, client *http.Client, log logrus.FieldLogger) (*Cache, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid asset origin %q", origin)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open asset cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(assetsBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create asset bucket: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Cache{db: db, origin: u, client: client, log: log}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.RequestURI()

	fresh, err := c.fetch(r)
	if err == nil {
		if err := c.put(key, fresh); err != nil {
			c.log.WithError(err).WithField("path", key).Warn("store asset failed")
		}
		c.write(w, r, fresh, "MISS")
		return
	}
	c.log.WithError(err).WithField("path", key).Debug("origin unreachable, trying cache")

	cached, ok, gerr := c.get(key)
	if gerr != nil {
		c.log.WithError(gerr).WithField("path", key).Warn("read cached asset failed")
	}
	if !ok {
		http.Error(w, "asset unavailable offline", http.StatusGatewayTimeout)
		return
	}
	c.write(w, r, cached, "HIT")
}

func (c *Cache) fetch(r *http.Request) (*entry, error) {
	target := c.origin.JoinPath(r.URL.Path)
	target.RawQuery = r.URL.RawQuery
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	return &entry{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		Body:        body,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

func (c *Cache) put(key string, e *entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(assetsBucket)).Put([]byte(key), b)
	})
}

func (c *Cache) get(key string) (*entry, bool, error) {
	var e *entry
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(assetsBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		e = &entry{}
		return json.Unmarshal(data, e)
	})
	if err != nil {
		return nil, false, err
	}
	return e, e != nil, nil
}

func (c *Cache) write(w http.ResponseWriter, r *http.Request, e *entry, state string) {
	h := w.Header()
	if e.ContentType != "" {
		h.Set("Content-Type", e.ContentType)
	}
	if e.ETag != "" {
		h.Set("ETag", e.ETag)
	}
	h.Set("X-Cache", state)
	w.WriteHeader(e.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(e.Body)
	}
}
