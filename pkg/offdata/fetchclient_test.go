package offdata

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFetchClientHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", "image/png")
		if r.Method == http.MethodHead {
			return
		}
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	c := NewHTTPFetchClient(nil)
	resp, err := c.Fetch(context.Background(), FetchRequest{Method: "HEAD", URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch HEAD: %v", err)
	}
	if !resp.OK || resp.StatusCode != 200 {
		t.Fatalf("resp = %+v, want OK 200", resp)
	}
	if resp.Body != nil {
		t.Fatalf("HEAD response must have a nil body")
	}
	if resp.header("Accept-Ranges") != "bytes" {
		t.Fatalf("Accept-Ranges header = %q, want bytes", resp.header("Accept-Ranges"))
	}
	if resp.header("Content-Type") != "image/png" {
		t.Fatalf("Content-Type header = %q, want image/png", resp.header("Content-Type"))
	}
}

func TestHTTPFetchClientRangeGet(t *testing.T) {
	payload := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if rng != "bytes=2-5" {
			t.Errorf("server saw Range = %q, want bytes=2-5", rng)
		}
		w.Header().Set("Content-Range", "bytes 2-5/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[2:6])
	}))
	defer srv.Close()

	c := NewHTTPFetchClient(nil)
	resp, err := c.Fetch(context.Background(), FetchRequest{
		Method:  "GET",
		URL:     srv.URL,
		Headers: map[string]string{"Range": "bytes=2-5"},
	})
	if err != nil {
		t.Fatalf("Fetch GET range: %v", err)
	}
	if resp.StatusCode != 206 {
		t.Fatalf("StatusCode = %d, want 206", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "2345" {
		t.Fatalf("body = %q, want \"2345\"", body)
	}
}

func TestHTTPFetchClientFullBodyGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	c := NewHTTPFetchClient(nil)
	resp, err := c.Fetch(context.Background(), FetchRequest{Method: "GET", URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch GET: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "hello world" {
		t.Fatalf("body = %q", body)
	}
}

func TestHTTPFetchClientGzipEncodingIsVisibleOnHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Length", "999")
		gz := gzip.NewWriter(w)
		gz.Write([]byte("compressible compressible compressible"))
		gz.Close()
	}))
	defer srv.Close()

	c := NewHTTPFetchClient(nil)
	resp, err := c.Fetch(context.Background(), FetchRequest{Method: "GET", URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch GET: %v", err)
	}
	resp.Body.Close()

	if contentLengthUnlessEncoded(resp) != nil {
		t.Fatalf("contentLengthUnlessEncoded should be nil when Content-Encoding is gzip")
	}
}

func TestHTTPFetchClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPFetchClient(nil)
	resp, err := c.Fetch(context.Background(), FetchRequest{Method: "GET", URL: srv.URL})
	if err != nil {
		t.Fatalf("Fetch should not itself error on a 500: %v", err)
	}
	if resp.OK {
		t.Fatalf("OK = true for a 500 response")
	}
	resp.Body.Close()
}

func TestHTTPFetchClientCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewHTTPFetchClient(nil)
	_, err := c.Fetch(ctx, FetchRequest{Method: "GET", URL: srv.URL})
	if err == nil {
		t.Fatalf("Fetch with an already-canceled context should error")
	}
}

func TestContentLengthUnlessEncodedIdentity(t *testing.T) {
	resp := &FetchResponse{Headers: map[string]string{
		"content-length":   "42",
		"content-encoding": "identity",
	}}
	total := contentLengthUnlessEncoded(resp)
	if total == nil || *total != 42 {
		t.Fatalf("contentLengthUnlessEncoded = %v, want 42", total)
	}
}

func TestContentTypeTokenStripsParams(t *testing.T) {
	resp := &FetchResponse{Headers: map[string]string{"content-type": "text/html; charset=utf-8"}}
	token := contentTypeToken(resp)
	if token == nil || *token != "text/html" {
		t.Fatalf("contentTypeToken = %v, want text/html", token)
	}
}

func TestResolveMimeOrder(t *testing.T) {
	registryMime := "application/pdf"
	headMime := "text/plain"
	getMime := "application/octet-stream"

	if got := resolveMime(&registryMime, &headMime, &getMime); got != registryMime {
		t.Fatalf("resolveMime = %q, want registry-specified to win", got)
	}
	if got := resolveMime(nil, &headMime, &getMime); got != headMime {
		t.Fatalf("resolveMime = %q, want HEAD-probed to win when registry is nil", got)
	}
	if got := resolveMime(nil, nil, &getMime); got != getMime {
		t.Fatalf("resolveMime = %q, want GET-response to win when others are nil", got)
	}
	if got := resolveMime(nil, nil, nil); got != "application/octet-stream" {
		t.Fatalf("resolveMime = %q, want the default fallback", got)
	}
}

func TestSchemeRouterDispatchesByScheme(t *testing.T) {
	r := NewSchemeRouter()
	for _, scheme := range []string{"http", "https", "ftp", "ftps", "sftp"} {
		client, err := r.ClientFor(scheme + "://example.com/file.bin")
		if err != nil {
			t.Fatalf("ClientFor(%s): %v", scheme, err)
		}
		if client == nil {
			t.Fatalf("ClientFor(%s) returned a nil client", scheme)
		}
	}
}

func TestSchemeRouterUnknownScheme(t *testing.T) {
	r := NewSchemeRouter()
	_, err := r.ClientFor("gopher://example.com/x")
	if err == nil {
		t.Fatalf("ClientFor(gopher) should fail")
	}
}

func TestSchemeRouterRegisterOverride(t *testing.T) {
	r := NewSchemeRouter()
	called := false
	r.Register("http", func() (FetchClient, error) {
		called = true
		return NewHTTPFetchClient(nil), nil
	})
	if _, err := r.ClientFor("http://example.com"); err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	if !called {
		t.Fatalf("Register did not override the http factory")
	}
}
