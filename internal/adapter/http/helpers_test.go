package http

import (
	"net/http"
	"strconv"
	"strings"
)

func okHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}

// rangeHandler serves byte-range requests against a fixed body, always
// answering with 206 Partial Content as real HTTP servers with range
// support do.
func rangeHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if !strings.HasPrefix(rangeHeader, "bytes=") {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(body))
			return
		}

		spec := strings.TrimPrefix(rangeHeader, "bytes=")
		parts := strings.SplitN(spec, "-", 2)
		start, _ := strconv.Atoi(parts[0])
		end := len(body) - 1
		if len(parts) > 1 && parts[1] != "" {
			end, _ = strconv.Atoi(parts[1])
		}
		if end >= len(body) {
			end = len(body) - 1
		}

		w.Header().Set("Content-Range", "bytes "+spec+"/"+strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(body[start : end+1]))
	}
}
