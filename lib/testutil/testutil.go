package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type Response struct {
	Status int
	Header map[string]string
	Body   []byte
}

func HTML(body string) Response {
	return Response{
		Status: http.StatusOK,
		Header: map[string]string{"Content-Type": "text/html; charset=utf-8"},
		Body:   []byte(body),
	}
}

func Status(code int) Response {
	return Response{Status: code, Body: []byte(http.StatusText(code))}
}

// Server is an httptest server with scripted responses per request uri.
type Server struct {
	*httptest.Server

	mutex    sync.Mutex
	routes   map[string][]Response
	hits     map[string]int
	requests []*http.Request
}

// NewServer starts a server that is closed when the test ends. Requests to
// routes that were never registered get a 404.
func NewServer(t testing.TB) *Server {
	s := &Server{
		routes: map[string][]Response{},
		hits:   map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Route registers the responses for uri (path plus query), the n-th request
// gets the n-th response and the last response repeats forever.
func (s *Server) Route(uri string, responses ...Response) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.routes[uri] = responses
}

func (s *Server) Hits(uri string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.hits[uri]
}

// Requests returns every request received, in order.
func (s *Server) Requests() []*http.Request {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]*http.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) Path(uri string) string {
	return s.URL + uri
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.RequestURI()

	s.mutex.Lock()
	responses, ok := s.routes[uri]
	n := s.hits[uri]
	s.hits[uri]++
	s.requests = append(s.requests, r.Clone(r.Context()))
	s.mutex.Unlock()

	if !ok || len(responses) == 0 {
		http.NotFound(w, r)
		return
	}
	res := responses[min(n, len(responses)-1)]
	for k, v := range res.Header {
		w.Header().Set(k, v)
	}
	w.WriteHeader(res.Status)
	w.Write(res.Body)
}
