package media

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const contentType = "video/mp4"

var errUnsatisfiable = errors.New("range not satisfiable")

// Server streams the one media file, honouring single byte-range requests.
// It keeps no per-request state and is safe for concurrent use.
type Server struct {
	path string
	log  *zap.Logger
}

// NewServer resolves path once; later moves of the working directory do
// not affect which file is served.
func NewServer(path string, log *zap.Logger) (*Server, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve media path %q: %w", path, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{path: abs, log: log}, nil
}

func (s *Server) Path() string { return s.path }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	st, err := os.Stat(s.path)
	if err != nil || st.IsDir() {
		s.log.Warn("media file unavailable", zap.String("path", s.path), zap.Error(err))
		http.Error(w, "video file not found", http.StatusNotFound)
		return
	}
	size := st.Size()

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		f, err := os.Open(s.path)
		if err != nil {
			http.Error(w, "video file not found", http.StatusNotFound)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
		s.copy(w, f, size)
		return
	}

	br, err := parseRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	f, err := os.Open(s.path)
	if err != nil {
		http.Error(w, "video file not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	length := br.end - br.start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", br.start, br.end, size))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusPartialContent)
	s.copy(w, io.NewSectionReader(f, br.start, length), length)
}

func (s *Server) copy(w io.Writer, src io.Reader, want int64) {
	n, err := io.Copy(w, src)
	if err != nil || n != want {
		// Usually the viewer aborted the request while seeking.
		s.log.Debug("media copy ended early", zap.Int64("sent", n), zap.Int64("want", want), zap.Error(err))
	}
}

type byteRange struct {
	start, end int64 // inclusive
}

// parseRange accepts a single "bytes=start-end", "bytes=start-" or
// "bytes=-suffix" range and checks 0 <= start <= end < size.
func parseRange(header string, size int64) (byteRange, error) {
	set, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return byteRange{}, errUnsatisfiable
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(set), "-")
	if !ok {
		return byteRange{}, errUnsatisfiable
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	var br byteRange
	switch {
	case startStr == "":
		suffix, err := parseBound(endStr)
		if err != nil {
			return byteRange{}, errUnsatisfiable
		}
		br.start = max(size-suffix, 0)
		br.end = size - 1

	case endStr == "":
		start, err := parseBound(startStr)
		if err != nil {
			return byteRange{}, errUnsatisfiable
		}
		br.start = start
		br.end = size - 1

	default:
		start, err := parseBound(startStr)
		if err != nil {
			return byteRange{}, errUnsatisfiable
		}
		end, err := parseBound(endStr)
		if err != nil {
			return byteRange{}, errUnsatisfiable
		}
		br.start, br.end = start, end
	}

	if br.start < 0 || br.start > br.end || br.end >= size {
		return byteRange{}, errUnsatisfiable
	}
	return br, nil
}

// parseBound accepts only plain decimal digits; ParseInt alone would also
// take a sign.
func parseBound(s string) (int64, error) {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return 0, errUnsatisfiable
	}
	return strconv.ParseInt(s, 10, 64)
}
