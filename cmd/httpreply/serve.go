package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/httpreply"
	"github.com/always-cache/httpreply/cache"
)

// newRouter exposes the manager over HTTP. keys may be nil when the cache
// cannot be listed.
func newRouter(m *httpreply.Manager, keys *cache.SQLiteStore, defaults requestDefaults) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/fetch", fetchHandler(m, defaults))
	r.Head("/fetch", fetchHandler(m, defaults))
	if keys != nil {
		r.Get("/cache", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			err := keys.AllKeys(func(u *url.URL) {
				fmt.Fprintln(w, u.String())
			})
			if err != nil {
				log.Error().Err(err).Msg("Could not list cache")
			}
		})
		r.Delete("/cache/expired", func(w http.ResponseWriter, r *http.Request) {
			n, err := keys.PurgeExpired(time.Now())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			fmt.Fprintf(w, "%d\n", n)
		})
	}
	return r
}

// fetchHandler fetches the URL given in the url query parameter and relays
// the reply.
func fetchHandler(m *httpreply.Manager, defaults requestDefaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		req, err := httpreply.NewRequest(r.Method, target)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defaults.apply(req)
		if lc := r.URL.Query().Get("cache"); lc != "" {
			if req.Attributes.CacheLoadControl, err = parseCacheLoad(lc); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		for _, name := range []string{"Accept", "Accept-Language", "Range", "Cache-Control"} {
			if v := r.Header.Get(name); v != "" {
				req.Header.Set(name, v)
			}
		}

		reply := m.Do(req, nil)
		defer reply.Abort()
		go func() {
			select {
			case <-r.Context().Done():
				reply.Abort()
			case <-reply.Done():
			}
		}()

		buf := make([]byte, 32*1024)
		wroteHeader := false
		for {
			n, err := reply.Read(buf)
			if !wroteHeader {
				wroteHeader = true
				if reply.StatusCode() == 0 {
					// failed before any response arrived
					http.Error(w, fmt.Sprint(reply.Err()), http.StatusBadGateway)
					return
				}
				copyHeader(w.Header(), reply.Headers())
				if cs, ok := reply.Attribute(httpreply.CacheStatusAttribute); ok {
					w.Header().Set("Cache-Status", cs.(string))
				}
				w.WriteHeader(reply.StatusCode())
			}
			w.Write(buf[:n])
			if err == io.EOF {
				return
			}
			if err != nil {
				log.Warn().Err(err).Str("url", target).Msg("Relaying reply failed")
				return
			}
		}
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if k == "Content-Length" || k == "Transfer-Encoding" || k == "Connection" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
