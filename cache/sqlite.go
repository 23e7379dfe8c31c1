package cache

import (
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	cachekey "github.com/always-cache/httpreply/pkg/cache-key"
	serializer "github.com/always-cache/httpreply/pkg/response-serializer"
	"github.com/always-cache/httpreply/rfc9111"
)

// SQLiteStore keeps entries in a SQLite database, one row per URL.
// Each row holds the entry serialized as an HTTP/1.1 response message.
type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	keyer      cachekey.CacheKeyer
}

// NewSQLiteStore opens a store with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
// The namespace separates several stores sharing one database.
func NewSQLiteStore(filename, namespace string) (SQLiteStore, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStore{}, err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		expires INTEGER,
		stored_at INTEGER,
		bytes BLOB
	)`,
		"CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteStore{}, err
		}
	}
	return SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
		keyer:      cachekey.NewCacheKeyer(namespace),
	}, nil
}

func (s SQLiteStore) Close() error {
	return s.db.Close()
}

func (s SQLiteStore) get(u *url.URL) (serializer.StoredResponse, bool) {
	var b []byte
	err := s.db.QueryRow("SELECT bytes FROM cache WHERE key = ?", s.keyer.Key(u)).Scan(&b)
	if err != nil {
		return serializer.StoredResponse{}, false
	}
	sRes, err := serializer.BytesToStoredResponse(b)
	if err != nil {
		return serializer.StoredResponse{}, false
	}
	return sRes, true
}

func (s SQLiteStore) Metadata(u *url.URL) (Metadata, bool) {
	sRes, ok := s.get(u)
	if !ok {
		return Metadata{}, false
	}
	return storedResponseToMetadata(sRes)
}

func (s SQLiteStore) Open(u *url.URL) (io.ReadCloser, bool) {
	sRes, ok := s.get(u)
	if !ok {
		return nil, false
	}
	return io.NopCloser(bytes.NewReader(sRes.Body)), true
}

func (s SQLiteStore) Prepare(meta Metadata) (Writer, error) {
	if !meta.IsValid() {
		return nil, fmt.Errorf("Cannot prepare entry without URL")
	}
	return newBufferWriter(meta), nil
}

func (s SQLiteStore) Insert(w Writer) error {
	bw, ok := w.(*bufferWriter)
	if !ok {
		return fmt.Errorf("Writer was not prepared by this store")
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return s.put(bw.meta, bw.Bytes())
}

// put writes the entry. The caller holds writeMutex.
func (s SQLiteStore) put(meta Metadata, body []byte) error {
	sRes := metadataToStoredResponse(meta)
	sRes.Body = body
	b, err := serializer.StoredResponseToBytes(sRes)
	if err != nil {
		return err
	}
	var expires int64
	if !meta.Expiration.IsZero() {
		expires = meta.Expiration.Unix()
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO cache
		(key, expires, stored_at, bytes) VALUES (?, ?, ?, ?)`,
		s.keyer.Key(meta.URL), expires, sRes.StoredAt.Unix(), b)
	return err
}

func (s SQLiteStore) Remove(u *url.URL) bool {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.Exec("DELETE FROM cache WHERE key = ?", s.keyer.Key(u))
	if err != nil {
		return false
	}
	rows, err := result.RowsAffected()
	return err == nil && rows > 0
}

func (s SQLiteStore) Update(meta Metadata) error {
	if !meta.IsValid() {
		return fmt.Errorf("Cannot update entry without URL")
	}
	// a Remove between reading and writing must not bring the entry back
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	sRes, ok := s.get(meta.URL)
	if !ok {
		return fmt.Errorf("No entry for %s", meta.URL)
	}
	return s.put(meta, sRes.Body)
}

// AllKeys calls the callback with the URL of each stored entry.
func (s SQLiteStore) AllKeys(cb func(*url.URL)) error {
	rows, err := s.db.Query("SELECT key FROM cache WHERE key LIKE ?", s.keyer.Prefix+"%")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		if u, err := s.keyer.URLFromKey(key); err == nil {
			cb(u)
		}
	}
	return rows.Err()
}

// PurgeExpired removes entries whose explicit expiration is before the
// given time. Entries without one are kept.
func (s SQLiteStore) PurgeExpired(before time.Time) (int64, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.Exec(
		"DELETE FROM cache WHERE key LIKE ? AND expires > 0 AND expires < ?",
		s.keyer.Prefix+"%", before.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func metadataToStoredResponse(meta Metadata) serializer.StoredResponse {
	sRes := serializer.StoredResponse{
		URL:          meta.URL.String(),
		StatusCode:   meta.Attributes.StatusCode,
		ReasonPhrase: meta.Attributes.ReasonPhrase,
		Header:       meta.Header,
		Expires:      meta.Expiration,
		SaveToDisk:   meta.SaveToDisk,
		StoredAt:     time.Now(),
	}
	if sRes.StatusCode == 0 {
		sRes.StatusCode = 200
	}
	if meta.Attributes.RedirectionTarget != nil {
		sRes.RedirectTarget = meta.Attributes.RedirectionTarget.String()
	}
	return sRes
}

func storedResponseToMetadata(sRes serializer.StoredResponse) (Metadata, bool) {
	u, err := url.Parse(sRes.URL)
	if err != nil {
		return Metadata{}, false
	}
	meta := Metadata{
		URL:        u,
		Header:     sRes.Header,
		Expiration: sRes.Expires,
		SaveToDisk: sRes.SaveToDisk,
		Attributes: Attributes{
			StatusCode:   sRes.StatusCode,
			ReasonPhrase: sRes.ReasonPhrase,
		},
	}
	if lm, err := rfc9111.HttpDate(sRes.Header.Get("Last-Modified")); err == nil {
		meta.LastModified = lm
	}
	if sRes.RedirectTarget != "" {
		if target, err := url.Parse(sRes.RedirectTarget); err == nil {
			meta.Attributes.RedirectionTarget = target
		}
	}
	return meta, true
}
