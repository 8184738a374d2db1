package jsaas

import (
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
)

// Server is the HTTP boundary. It buffers each request in full, hands it to
// the dispatcher, waits on the one-shot reply, and writes it back. The mux
// serves /metrics itself; everything else is routed by the dispatcher.
type Server struct {
	requests chan<- *Request
}

// NewServer creates a boundary that feeds the given dispatcher channel.
func NewServer(requests chan<- *Request) *Server {
	return &Server{requests: requests}
}

// Handler builds the boundary's HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(brotliEncode)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/*", http.HandlerFunc(s.forward))
	return r
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	reply := make(chan *Response, 1)
	s.requests <- &Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Body:   body,
		Reply:  reply,
	}
	resp := <-reply
	if resp == nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if resp.Location != "" {
		w.Header().Set("Location", resp.Location)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// ListenAndServe starts the HTTP listener, and the HTTPS listener when TLS
// is configured, then blocks until either fails.
func (s *Server) ListenAndServe(settings *Settings) error {
	handler := s.Handler()

	var tlsConf *tls.Config
	if settings.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(settings.TLSPublicCertificatePath, settings.TLSPrivateKeyPath)
		if err != nil {
			return fmt.Errorf("loading TLS identity: %w", err)
		}
		tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	errc := make(chan error, 2)
	serve := func(addr string, conf *tls.Config, scheme string) {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			errc <- fmt.Errorf("binding %s: %w", addr, err)
			return
		}
		if settings.MaxConnections > 0 {
			ln = netutil.LimitListener(ln, settings.MaxConnections)
		}
		if conf != nil {
			ln = tls.NewListener(ln, conf)
		}
		log.Printf("jsaas will listen on %s (%s)", addr, scheme)
		errc <- (&http.Server{Handler: handler}).Serve(ln)
	}

	go serve(settings.BindAddr, nil, "HTTP")
	if tlsConf != nil {
		go serve(settings.TLSBindAddr, tlsConf, "HTTPS")
	}
	return <-errc
}

// ListenAndServe wires the registry, pool, dispatcher, and boundary together
// and serves until a listener fails. The dispatcher is running before the
// first connection is accepted.
func ListenAndServe(settings *Settings) error {
	registry := NewScriptRegistry(settings.ScriptExpiration)
	pool := NewPool(settings.PoolSize)
	dispatcher := NewDispatcher(registry, pool, settings.ScriptCompletion)
	go dispatcher.Run()
	return NewServer(dispatcher.Requests()).ListenAndServe(settings)
}

// brotliEncode compresses response bodies when the client advertises
// brotli support.
func brotliEncode(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
			next.ServeHTTP(w, r)
			return
		}
		bw := brotli.NewWriter(w)
		defer bw.Close()
		w.Header().Set("Content-Encoding", "br")
		w.Header().Add("Vary", "Accept-Encoding")
		next.ServeHTTP(&brotliResponseWriter{ResponseWriter: w, bw: bw}, r)
	})
}

type brotliResponseWriter struct {
	http.ResponseWriter
	bw *brotli.Writer
}

// WriteHeader drops any Content-Length set by an inner handler; it would
// describe the uncompressed body.
func (w *brotliResponseWriter) WriteHeader(status int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(status)
}

func (w *brotliResponseWriter) Write(b []byte) (int, error) {
	return w.bw.Write(b)
}
