package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// echoHandler отвечает телом запроса с тем же Content-Type.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	w.Header().Set("Content-Type", contentType)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("echo: " + string(body)))
}

func gzipBytes(t *testing.T, s string) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(s)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return &buf
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()

	var r io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(res.Body)
		if err != nil {
			t.Fatalf("new gzip reader: %v", err)
		}
		defer gr.Close()
		r = gr
	}

	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestCompressAndGzipMiddleware(t *testing.T) {
	tests := []struct {
		name            string
		body            string
		gzipRequest     bool
		acceptEncoding  string
		contentType     string
		wantEncoding    string
		wantBodyContain string
	}{
		{
			name:            "json response is compressed",
			body:            `{"payload":"ORD123"}`,
			acceptEncoding:  "gzip",
			contentType:     "application/json",
			wantEncoding:    "gzip",
			wantBodyContain: `echo: {"payload":"ORD123"}`,
		},
		{
			name:            "text response is compressed",
			body:            "Order placed!",
			acceptEncoding:  "gzip",
			contentType:     "text/plain; charset=utf-8",
			wantEncoding:    "gzip",
			wantBodyContain: "echo: Order placed!",
		},
		{
			name:            "client without gzip gets plain body",
			body:            "plain",
			contentType:     "application/json",
			wantEncoding:    "",
			wantBodyContain: "echo: plain",
		},
		{
			name:            "png is never compressed",
			body:            "png",
			acceptEncoding:  "gzip",
			contentType:     "image/png",
			wantEncoding:    "",
			wantBodyContain: "echo: png",
		},
		{
			name:            "gzip request body is unpacked",
			body:            `{"error":"no code in frame"}`,
			gzipRequest:     true,
			acceptEncoding:  "gzip",
			contentType:     "application/json",
			wantEncoding:    "gzip",
			wantBodyContain: `echo: {"error":"no code in frame"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reqBody io.Reader = strings.NewReader(tt.body)
			if tt.gzipRequest {
				reqBody = gzipBytes(t, tt.body)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/staff/scan/decode", reqBody)
			req.Header.Set("Content-Type", tt.contentType)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			if tt.gzipRequest {
				req.Header.Set("Content-Encoding", "gzip")
			}

			w := httptest.NewRecorder()
			Compress()(GzipMiddleware(http.HandlerFunc(echoHandler))).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			if res.StatusCode != http.StatusOK {
				t.Fatalf("status: got %d want %d", res.StatusCode, http.StatusOK)
			}
			if ct := res.Header.Get("Content-Type"); ct != tt.contentType {
				t.Fatalf("content-type: got %q want %q", ct, tt.contentType)
			}
			if ce := res.Header.Get("Content-Encoding"); ce != tt.wantEncoding {
				t.Fatalf("content-encoding: got %q want %q", ce, tt.wantEncoding)
			}
			if body := readBody(t, res); !strings.Contains(body, tt.wantBodyContain) {
				t.Fatalf("body %q does not contain %q", body, tt.wantBodyContain)
			}
		})
	}
}

func TestGzipMiddleware_InvalidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/staff/scan/decode", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()

	GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGzipMiddleware_PlainBodyPassesThrough(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/staff/scan/decode", strings.NewReader(`{"payload":"ORD1"}`))
	w := httptest.NewRecorder()

	GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d want %d", w.Code, http.StatusOK)
	}
	if got := w.Body.String(); got != `echo: {"payload":"ORD1"}` {
		t.Fatalf("body: got %q", got)
	}
}
