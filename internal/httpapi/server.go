package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"brokerd/internal/broker"
	"brokerd/internal/feature"
	"brokerd/pkg/types"
)

// Engine defines the broker methods required by the HTTP API layer.
type Engine interface {
	Status(ctx context.Context) broker.Status
	StartTime() time.Time
	Query(ctx context.Context, prompt string, opts broker.Options) (broker.Result, error)
	QueryWithImage(ctx context.Context, prompt string, image []byte, opts broker.Options) (broker.Result, error)
	Stream(ctx context.Context, prompt string, opts broker.Options, onChunk func(string)) (broker.Result, error)
	Cancel(id string) bool
}

// Features defines the feature methods exposed over HTTP.
type Features interface {
	Chat(ctx context.Context, message string) (feature.Reply, error)
	Vision(ctx context.Context, prompt string, image []byte) (feature.Reply, error)
	Chain(ctx context.Context, steps []string) ([]feature.Reply, error)
	Extract(ctx context.Context, text string) (feature.Reply, error)
}

// NewMux builds the router: broker endpoints under /v1, status and health
// probes at the root, Prometheus metrics at /metrics.
func NewMux(eng Engine, feats Features) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		st := eng.Status(r.Context())
		writeJSON(w, http.StatusOK, types.StatusResponse{
			Installed:      st.Installed,
			Version:        st.Version,
			Authenticated:  st.Authenticated,
			Account:        st.Account,
			ActiveSlots:    st.ActiveSlots,
			Capacity:       st.Capacity,
			Queued:         st.Queued,
			LastError:      st.LastError,
			UptimeSeconds:  int64(time.Since(eng.StartTime()).Seconds()),
			ServerTimeUnix: time.Now().Unix(),
		})
	})

	r.Post("/v1/query", func(w http.ResponseWriter, r *http.Request) {
		var req types.QueryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		res, err := eng.Query(r.Context(), req.Prompt, optionsFrom(req))
		writeQueryResult(w, res, err)
	})

	r.Post("/v1/query-image", func(w http.ResponseWriter, r *http.Request) {
		var req types.QueryImageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil || len(image) == 0 {
			writeJSONError(w, http.StatusBadRequest, "image_base64 must be non-empty base64")
			return
		}
		res, qerr := eng.QueryWithImage(r.Context(), req.Prompt, image, optionsFrom(req.QueryRequest))
		writeQueryResult(w, res, qerr)
	})

	r.Post("/v1/stream", func(w http.ResponseWriter, r *http.Request) {
		var req types.QueryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		opts := optionsFrom(req)
		if opts.RequestID == "" {
			opts.RequestID = middleware.GetReqID(r.Context())
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writeLine := func(v any) {
			b, _ := json.Marshal(v)
			_, _ = w.Write(append(b, '\n'))
			if flush != nil {
				flush()
			}
		}
		writeLine(map[string]any{"type": "start", "request_id": opts.RequestID})
		res, err := eng.Stream(r.Context(), req.Prompt, opts, func(chunk string) {
			writeLine(map[string]any{"type": "chunk", "text": chunk})
		})
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			writeLine(map[string]any{
				"type": "done", "success": false,
				"error_kind": broker.Kind(err), "error": err.Error(),
			})
			return
		}
		writeLine(map[string]any{"type": "done", "success": true, "content": res.Content})
	})

	r.Post("/v1/cancel/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		writeJSON(w, http.StatusOK, types.CancelResponse{Cancelled: eng.Cancel(id)})
	})

	r.Post("/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			writeJSONError(w, http.StatusBadRequest, "message is required")
			return
		}
		writeFeatureResult(w, func() (feature.Reply, error) {
			return feats.Chat(r.Context(), req.Message)
		})
	})

	r.Post("/v1/vision", func(w http.ResponseWriter, r *http.Request) {
		var req types.VisionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil || len(image) == 0 {
			writeJSONError(w, http.StatusBadRequest, "image_base64 must be non-empty base64")
			return
		}
		writeFeatureResult(w, func() (feature.Reply, error) {
			return feats.Vision(r.Context(), req.Prompt, image)
		})
	})

	r.Post("/v1/chain", func(w http.ResponseWriter, r *http.Request) {
		var req types.ChainRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.Steps) == 0 {
			writeJSONError(w, http.StatusBadRequest, "steps is required")
			return
		}
		replies, err := feats.Chain(r.Context(), req.Steps)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, err.Error())
			return
		}
		resp := types.ChainResponse{Steps: make([]types.FeatureResponse, 0, len(replies))}
		for _, rep := range replies {
			resp.Steps = append(resp.Steps, types.FeatureResponse{Content: rep.Content, ViaCLI: rep.ViaCLI})
		}
		if len(replies) > 0 {
			resp.Content = replies[len(replies)-1].Content
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/v1/extract", func(w http.ResponseWriter, r *http.Request) {
		var req types.ExtractRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeJSONError(w, http.StatusBadRequest, "text is required")
			return
		}
		writeFeatureResult(w, func() (feature.Reply, error) {
			return feats.Extract(r.Context(), req.Text)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		st := eng.Status(r.Context())
		if st.Installed && st.Authenticated {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		// The remote fallback can still serve; report degraded, not down.
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("degraded"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func optionsFrom(req types.QueryRequest) broker.Options {
	return broker.Options{
		RequestID: req.RequestID,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Timeout:   time.Duration(req.TimeoutSeconds) * time.Second,
	}
}

// decodeJSON enforces content type and body size, then decodes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// statusForKind maps broker error kinds to HTTP status codes.
func statusForKind(kind string) int {
	switch kind {
	case broker.KindNotInstalled, broker.KindNotAuthenticated, broker.KindShutdown:
		return http.StatusServiceUnavailable
	case broker.KindTooBusy:
		return http.StatusTooManyRequests
	case broker.KindTimeout:
		return http.StatusGatewayTimeout
	case broker.KindCancelled:
		return http.StatusConflict
	case broker.KindSpawnFailure, broker.KindRuntimeFailure, broker.KindMalformedOutput:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeQueryResult(w http.ResponseWriter, res broker.Result, err error) {
	if err != nil {
		kind := broker.Kind(err)
		if kind == broker.KindTooBusy {
			IncrementBackpressure("queue_full")
		}
		writeJSON(w, statusForKind(kind), types.QueryResponse{
			RequestID: res.RequestID,
			ErrorKind: kind,
			Error:     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, types.QueryResponse{
		Success:   true,
		RequestID: res.RequestID,
		Content:   res.Content,
	})
}

func writeFeatureResult(w http.ResponseWriter, fn func() (feature.Reply, error)) {
	reply, err := fn()
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.FeatureResponse{Content: reply.Content, ViaCLI: reply.ViaCLI})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}
