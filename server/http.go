package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gammadia/gpumux/api"
	"github.com/gammadia/gpumux/inventory"
	"github.com/gammadia/gpumux/jobstore"
	schedulerpkg "github.com/gammadia/gpumux/scheduler"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/samber/lo"
)

const requestIDHeader = "X-Request-Id"

// maxRequestSize bounds queue update bodies.
const maxRequestSize = 8 << 20

type httpServer struct {
	name      string
	startedAt time.Time
	dataRoot  string
	scheduler *schedulerpkg.Scheduler
	pool      *inventory.Pool
	store     *jobstore.Store
	logger    *slog.Logger
}

func (s *httpServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status.json", s.handleStatus)
	mux.HandleFunc("POST /queue/update.json", s.handleUpdateQueue)
	mux.HandleFunc("POST /queue/append.json", s.handleAppendQueue)
	mux.HandleFunc("GET /job/{id}", s.handleJobLog)

	return s.withRequestID(gzhttp.GzipHandler(mux))
}

func (s *httpServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.buildStatus(r.Context()))
}

func (s *httpServer) handleUpdateQueue(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateQueueRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.scheduler.Propose(req.Pending)
	s.logger.InfoContext(r.Context(), "Pending queue replacement received", "size", len(schedulerpkg.ParseQueue(req.Pending)))
	writeJSON(w, http.StatusAccepted, api.Response{Status: "ok"})
}

func (s *httpServer) handleAppendQueue(w http.ResponseWriter, r *http.Request) {
	var req api.AppendQueueRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(lo.Filter(req.Commands, func(c string, _ int) bool { return c != "" })) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no command to append"))
		return
	}

	s.scheduler.Enqueue(req.Commands...)
	s.logger.InfoContext(r.Context(), "Commands appended to the queue", "commands", req.Commands)
	writeJSON(w, http.StatusAccepted, api.Response{Status: "ok"})
}

func (s *httpServer) handleJobLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid job id '%s'", r.PathValue("id")))
		return
	}

	tail := 0
	if value := r.URL.Query().Get("tail"); value != "" {
		if tail, err = strconv.Atoi(value); err != nil || tail < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid tail '%s'", value))
			return
		}
	}

	reader, err := s.store.OpenLog(r.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer func() {
		if err := reader.Close(); err != nil {
			s.logger.Warn("Error closing log reader", "job", id, "error", err)
		}
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to read log of job %d: %w", id, err))
		return
	}
	if tail > 0 {
		data = lastLines(data, tail)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// lastLines returns the last n lines of data. A missing trailing newline does not count as an extra line.
func lastLines(data []byte, n int) []byte {
	end := len(data)
	if end > 0 && data[end-1] == '\n' {
		end--
	}
	for i := end - 1; i >= 0; i-- {
		if data[i] == '\n' {
			n--
			if n == 0 {
				return data[i+1:]
			}
		}
	}
	return data
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *httpServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.DebugContext(r.Context(), "Request served",
			"request", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", time.Since(start),
		)
	})
}

func readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, api.Response{Status: "error", Error: err.Error()})
}
