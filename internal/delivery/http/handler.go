// JSON REST surface for web service provisioning:
// POST/GET /iot/webservices, GET/PUT/DELETE /iot/webservices/{webServiceID}, GET /health
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"webservice-io/internal/core/health"
	"webservice-io/internal/core/ngsi"
	"webservice-io/internal/core/webservices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
)

// ProvisioningMiddleware can rewrite a web service before it is registered.
type ProvisioningMiddleware func(ctx context.Context, ws *webservices.WebService) (*webservices.WebService, error)

type Handler struct {
	router http.Handler
	svc    *webservices.Service
	alarms *health.Alarms
	lg     zerolog.Logger

	mu          sync.RWMutex
	middlewares []ProvisioningMiddleware
	provision   ProvisioningMiddleware
}

// webService is the provisioning API representation of a web service.
type webService struct {
	WebServiceID     string                  `json:"web_service_id" example:"ws-weather"`
	Service          string                  `json:"service,omitempty"`
	ServicePath      string                  `json:"service_path,omitempty"`
	EntityName       string                  `json:"entity_name,omitempty"`
	EntityType       string                  `json:"entity_type,omitempty" example:"WeatherObserved"`
	Prefix           string                  `json:"entity_id_prefix,omitempty"`
	Expression       string                  `json:"entity_id_expression,omitempty"`
	Timezone         string                  `json:"timezone,omitempty"`
	Endpoint         string                  `json:"endpoint,omitempty"`
	Attributes       []webservices.Attribute `json:"attributes,omitempty"`
	Lazy             []webservices.Attribute `json:"lazy,omitempty"`
	Commands         []webservices.Attribute `json:"commands,omitempty"`
	StaticAttributes []webservices.Attribute `json:"static_attributes,omitempty"`
}

// provisionRequest defines the shape of the request body for provisioning.
type provisionRequest struct {
	Services []webService `json:"services"`
}

type listResponse struct {
	Count       int64        `json:"count"`
	WebServices []webService `json:"webServices"`
}

type healthResponse struct {
	Healthy bool           `json:"healthy"`
	Alarms  []health.Alarm `json:"alarms"`
}

func New(svc *webservices.Service, alarms *health.Alarms, lg zerolog.Logger) *Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := &Handler{router: r, svc: svc, alarms: alarms, lg: lg.With().Str("component", "api").Logger()}

	// --- API Routes ---
	r.Route("/iot/webservices", func(r chi.Router) {
		r.Use(requireTenant)
		r.Use(correlate)
		r.Post("/", h.handleProvision)
		r.Get("/", h.handleList)
		r.Get("/{webServiceID}", h.handleGet)
		r.Put("/{webServiceID}", h.handleUpdate)
		r.Delete("/{webServiceID}", h.handleDelete)
	})
	r.Get("/health", h.handleHealth)

	// --- Swagger Docs Route ---
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/index.html", http.StatusMovedPermanently)
	})
	r.Get("/docs/*", httpSwagger.WrapHandler)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.router.ServeHTTP(w, r) }

// AddProvisioningMiddleware appends mw to the chain run before registration.
func (h *Handler) AddProvisioningMiddleware(mw ProvisioningMiddleware) {
	h.mu.Lock()
	h.middlewares = append(h.middlewares, mw)
	h.mu.Unlock()
}

// SetProvisioningHandler installs the last hook run before registration.
func (h *Handler) SetProvisioningHandler(fn ProvisioningMiddleware) {
	h.mu.Lock()
	h.provision = fn
	h.mu.Unlock()
}

// ClearProvisioningHooks drops every middleware and the provisioning handler.
func (h *Handler) ClearProvisioningHooks() {
	h.mu.Lock()
	h.middlewares = nil
	h.provision = nil
	h.mu.Unlock()
}

func (h *Handler) runHooks(ctx context.Context, ws *webservices.WebService) (*webservices.WebService, error) {
	h.mu.RLock()
	chain := append([]ProvisioningMiddleware(nil), h.middlewares...)
	if h.provision != nil {
		chain = append(chain, h.provision)
	}
	h.mu.RUnlock()

	var err error
	for _, mw := range chain {
		if ws, err = mw(ctx, ws); err != nil {
			return nil, err
		}
	}
	return ws, nil
}

// handleProvision registers every web service in the body, stopping at the
// first failure.
// @Summary      Provision web services
// @Description  Registers web services in the registry and creates their entities in the context broker.
// @Tags         webservices
// @Accept       json
// @Produce      json
// @Param        Fiware-Service      header  string            true  "Tenant"
// @Param        Fiware-ServicePath  header  string            true  "Sub-tenant"
// @Param        body                body    provisionRequest  true  "Web services"
// @Success      201  {object}  object
// @Failure      400  {string}  string "Bad Request"
// @Failure      409  {string}  string "Duplicate web service"
// @Failure      500  {string}  string "Internal Server Error"
// @Router       /iot/webservices [post]
func (h *Handler) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Services) == 0 {
		http.Error(w, `body must be {"services":[...]}`, http.StatusBadRequest)
		return
	}
	service, subservice := tenant(r)

	for _, body := range req.Services {
		if body.WebServiceID == "" {
			h.fail(w, "provision", &webservices.MissingAttributesError{Msg: "web_service_id"})
			return
		}
		ws := body.toWebService(service, subservice)
		ws, err := h.runHooks(r.Context(), ws)
		if err != nil {
			h.fail(w, "provision", err)
			return
		}
		if _, err := h.svc.Register(r.Context(), ws); err != nil {
			h.fail(w, "provision", err)
			return
		}
	}
	writeJSONStatus(w, http.StatusCreated, struct{}{})
}

// handleList lists the web services of the tenant.
// @Summary      List web services
// @Tags         webservices
// @Produce      json
// @Param        limit   query  int  false  "Maximum number of entries"
// @Param        offset  query  int  false  "Entries to skip"
// @Success      200  {object}  listResponse
// @Failure      400  {string}  string "Bad Request"
// @Router       /iot/webservices [get]
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	service, subservice := tenant(r)

	res, err := h.svc.List(r.Context(), service, subservice, limit, offset)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	out := listResponse{Count: res.Count, WebServices: make([]webService, len(res.WebServices))}
	for i, ws := range res.WebServices {
		out.WebServices[i] = fromWebService(ws)
	}
	writeJSON(w, out)
}

// handleGet returns one web service.
// @Summary      Get a web service
// @Tags         webservices
// @Produce      json
// @Param        webServiceID  path  string  true  "Web service ID"
// @Success      200  {object}  webService
// @Failure      404  {string}  string "Not Found"
// @Router       /iot/webservices/{webServiceID} [get]
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	service, subservice := tenant(r)
	ws, err := h.svc.Get(r.Context(), chi.URLParam(r, "webServiceID"), service, subservice)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	writeJSON(w, fromWebService(ws))
}

// handleUpdate applies a partial update to a web service.
// @Summary      Update a web service
// @Description  Fields absent from the body keep their value. New attributes are created in the context broker.
// @Tags         webservices
// @Accept       json
// @Param        webServiceID  path  string      true  "Web service ID"
// @Param        body          body  webService  true  "Fields to change"
// @Success      204  {string}  string "No Content"
// @Failure      400  {string}  string "Bad Request"
// @Failure      404  {string}  string "Not Found"
// @Router       /iot/webservices/{webServiceID} [put]
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body webService
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if body.WebServiceID != "" {
		http.Error(w, "can't change the ID of a provisioned web service", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "webServiceID")
	service, subservice := tenant(r)

	current, err := h.svc.Get(r.Context(), id, service, subservice)
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	upd := body.toWebService(service, subservice)
	upd.ID = id
	if upd.Type == "" {
		upd.Type = current.Type
	}
	if _, err := h.svc.UpdateRegister(r.Context(), upd); err != nil {
		h.fail(w, "update", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDelete removes a web service.
// @Summary      Remove a web service
// @Description  Cancels its subscriptions, removes its context broker entity and deletes the record.
// @Tags         webservices
// @Param        webServiceID  path  string  true  "Web service ID"
// @Success      204  {string}  string "No Content"
// @Failure      404  {string}  string "Not Found"
// @Failure      500  {string}  string "Internal Server Error"
// @Router       /iot/webservices/{webServiceID} [delete]
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	service, subservice := tenant(r)
	if err := h.svc.Unregister(r.Context(), chi.URLParam(r, "webServiceID"), service, subservice); err != nil {
		h.fail(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth reports the raised alarms.
// @Summary      Health
// @Tags         health
// @Produce      json
// @Success      200  {object}  healthResponse
// @Failure      503  {object}  healthResponse
// @Router       /health [get]
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	res := healthResponse{Healthy: h.alarms.Healthy(), Alarms: h.alarms.Active()}
	code := http.StatusOK
	if !res.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, code, res)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	ev := h.lg.Warn()
	if code >= http.StatusInternalServerError {
		ev = h.lg.Error()
	}
	ev.Err(err).Str("op", op).Int("status", code).Msg("request failed")
	http.Error(w, err.Error(), code)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, webservices.ErrDuplicateID), errors.Is(err, webservices.ErrDuplicateName),
		errors.Is(err, webservices.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, webservices.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, webservices.ErrMissingAttributes):
		return http.StatusBadRequest
	case errors.Is(err, webservices.ErrRegistryNotAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requireTenant rejects requests without the tenant headers.
func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, hdr := range []string{"Fiware-Service", "Fiware-ServicePath"} {
			if r.Header.Get(hdr) == "" {
				http.Error(w, "missing header "+hdr, http.StatusBadRequest)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// correlate forwards an incoming Fiware-Correlator to broker calls.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("Fiware-Correlator"); id != "" {
			r = r.WithContext(ngsi.WithCorrelator(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func tenant(r *http.Request) (string, string) {
	return r.Header.Get("Fiware-Service"), r.Header.Get("Fiware-ServicePath")
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func (b webService) toWebService(service, subservice string) *webservices.WebService {
	return &webservices.WebService{
		ID:               b.WebServiceID,
		Type:             b.EntityType,
		Name:             b.EntityName,
		Service:          service,
		Subservice:       subservice,
		Prefix:           b.Prefix,
		Expression:       b.Expression,
		Endpoint:         b.Endpoint,
		Timezone:         b.Timezone,
		Active:           b.Attributes,
		Lazy:             b.Lazy,
		Commands:         b.Commands,
		StaticAttributes: b.StaticAttributes,
	}
}

func fromWebService(ws *webservices.WebService) webService {
	return webService{
		WebServiceID:     ws.ID,
		Service:          ws.Service,
		ServicePath:      ws.Subservice,
		EntityName:       ws.Name,
		EntityType:       ws.Type,
		Prefix:           ws.Prefix,
		Expression:       ws.Expression,
		Timezone:         ws.Timezone,
		Endpoint:         ws.Endpoint,
		Attributes:       ws.Active,
		Lazy:             ws.Lazy,
		Commands:         ws.Commands,
		StaticAttributes: ws.StaticAttributes,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
