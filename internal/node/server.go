package node

import (
	"encoding/json"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"

	"catalogkv/internal/session"
	"catalogkv/internal/storage"
)

const sessionHeader = "X-Session-ID"

// consistencyHeader reports whether the session guarantee was met.
const consistencyHeader = "X-Consistency"

// httpHandler adapts a Node to the JSON HTTP API.
type httpHandler struct {
	node *Node
}

// NewHTTPHandler wires the node operations into a chi router.
func NewHTTPHandler(n *Node) http.Handler {
	h := &httpHandler{node: n}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node": n.Name()})
	})
	r.Get("/api", h.exportAll)
	r.Get("/read", h.readByQuery)
	r.Post("/write", h.writeByForm)
	r.Get("/products", h.keys)
	r.Get("/products/{key}", h.readByPath)
	r.Put("/products/{key}", h.writeByPath)
	r.Get("/sync", h.sync)
	r.Post("/sync", h.sync)
	r.Get("/ops", h.ops)
	r.Get("/sessions", h.sessions)
	r.Get("/sessions/{id}", h.token)
	r.Method(http.MethodGet, "/metrics", n.metrics.Handler())

	return r
}

// productRequest is the body of a write. product_id is only read by /write.
type productRequest struct {
	ProductID string            `json:"product_id"`
	Name      string            `json:"name"`
	Stock     int64             `json:"stock"`
	Price     float64           `json:"price"`
	Location  string            `json:"location"`
	Extra     map[string]string `json:"extra,omitempty"`
}

func (p productRequest) product() storage.Product {
	return storage.Product{
		Name:     p.Name,
		Stock:    p.Stock,
		Price:    p.Price,
		Location: p.Location,
		Extra:    p.Extra,
	}
}

type operationResponse struct {
	Node        string            `json:"node"`
	Session     string            `json:"session"`
	Key         string            `json:"key"`
	Found       bool              `json:"found"`
	Record      *wireRecord       `json:"record"`
	Consistency string            `json:"consistency"`
	Sweeps      int               `json:"sweeps"`
	Lagging     map[string]uint64 `json:"lagging,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *httpHandler) exportAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshotToWire(h.node.ExportAll()))
}

func (h *httpHandler) readByQuery(w http.ResponseWriter, r *http.Request) {
	var key string
	if err := runtime.BindQueryParameter("form", true, true, "product_id", r.URL.Query(), &key); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.read(w, r, strings.TrimSpace(key))
}

func (h *httpHandler) readByPath(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.read(w, r, key)
}

func (h *httpHandler) read(w http.ResponseWriter, r *http.Request, key string) {
	if key == "" {
		writeError(w, http.StatusBadRequest, errors.New("key cannot be empty"))
		return
	}
	sessionID, err := sessionFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res := h.node.Read(sessionID, key)
	resp := h.response(sessionID, key, res.Guarantee)
	resp.Found = res.Found
	if res.Found {
		rec := recordToWire(res.Record)
		resp.Record = &rec
	}
	writeOperation(w, resp)
}

func (h *httpHandler) writeByForm(w http.ResponseWriter, r *http.Request) {
	req, err := decodeProduct(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.write(w, r, strings.TrimSpace(req.ProductID), req.product())
}

func (h *httpHandler) writeByPath(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := decodeProduct(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.write(w, r, key, req.product())
}

func (h *httpHandler) write(w http.ResponseWriter, r *http.Request, key string, product storage.Product) {
	if key == "" {
		writeError(w, http.StatusBadRequest, errors.New("key cannot be empty"))
		return
	}
	sessionID, err := sessionFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res := h.node.Write(sessionID, key, product)
	resp := h.response(sessionID, key, res.Guarantee)
	resp.Found = true
	rec := recordToWire(res.Record)
	resp.Record = &rec
	writeOperation(w, resp)
}

func (h *httpHandler) response(sessionID, key string, g session.Guarantee) operationResponse {
	consistency := "satisfied"
	if !g.Satisfied {
		consistency = "degraded"
	}
	return operationResponse{
		Node:        h.node.Name(),
		Session:     normalizeSession(sessionID),
		Key:         key,
		Consistency: consistency,
		Sweeps:      g.Sweeps,
		Lagging:     g.Lagging,
	}
}

func (h *httpHandler) sync(w http.ResponseWriter, r *http.Request) {
	result := h.node.Sync()
	failed := result.Failed
	if failed == nil {
		failed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node":   h.node.Name(),
		"merged": result.Merged,
		"failed": failed,
	})
}

func (h *httpHandler) keys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node": h.node.Name(),
		"keys": h.node.Keys(),
	})
}

func (h *httpHandler) ops(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node": h.node.Name(),
		"ops":  opsToWire(h.node.ExportOps()),
	})
}

func (h *httpHandler) sessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node":     h.node.Name(),
		"sessions": h.node.Sessions(),
	})
}

func (h *httpHandler) token(w http.ResponseWriter, r *http.Request) {
	var id string
	if err := runtime.BindStyledParameterWithLocation("simple", false, "id", runtime.ParamLocationPath, chi.URLParam(r, "id"), &id); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tok, ok := h.node.Token(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.Newf("unknown session %s", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": id,
		"token":   tok,
	})
}

func pathKey(r *http.Request) (string, error) {
	var key string
	err := runtime.BindStyledParameterWithLocation("simple", false, "key", runtime.ParamLocationPath, chi.URLParam(r, "key"), &key)
	return strings.TrimSpace(key), err
}

// sessionFrom reads the session id from the "session" query parameter,
// falling back to the X-Session-ID header.
func sessionFrom(r *http.Request) (string, error) {
	var sessionID string
	if err := runtime.BindQueryParameter("form", true, false, "session", r.URL.Query(), &sessionID); err != nil {
		return "", err
	}
	if sessionID == "" {
		sessionID = r.Header.Get(sessionHeader)
	}
	return strings.TrimSpace(sessionID), nil
}

// decodeProduct accepts either a JSON body or an HTML form post. Form
// fields stock and price must be numeric when present.
func decodeProduct(r *http.Request) (productRequest, error) {
	var req productRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return req, errors.Wrap(err, "invalid form")
		}
		req.ProductID = r.PostForm.Get("product_id")
		req.Name = r.PostForm.Get("name")
		req.Location = r.PostForm.Get("location")
		if s := strings.TrimSpace(r.PostForm.Get("stock")); s != "" {
			stock, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return req, errors.Newf("stock must be an integer, got %q", s)
			}
			req.Stock = stock
		}
		if s := strings.TrimSpace(r.PostForm.Get("price")); s != "" {
			price, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return req, errors.Newf("price must be a number, got %q", s)
			}
			req.Price = price
		}
		return req, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errors.Wrap(err, "invalid product body")
	}
	return req, nil
}

func writeOperation(w http.ResponseWriter, resp operationResponse) {
	w.Header().Set(consistencyHeader, resp.Consistency)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
