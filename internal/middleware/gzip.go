package middleware

import (
	"compress/gzip"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
)

const compressLevel = 5

// compressibleTypes перечисляет типы ответов, которые сжимаются. Изображения отдаются как есть.
var compressibleTypes = []string{"application/json", "text/*"}

// Compress сжимает JSON и текстовые ответы, если клиент их принимает.
func Compress() func(http.Handler) http.Handler {
	return chimw.Compress(compressLevel, compressibleTypes...)
}

// GzipMiddleware распаковывает тела запросов, сжатые gzip.
func GzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, "invalid gzip body", http.StatusBadRequest)
			return
		}
		defer zr.Close()

		r.Body = zr
		r.Header.Del("Content-Encoding")
		r.ContentLength = -1
		next.ServeHTTP(w, r)
	})
}
