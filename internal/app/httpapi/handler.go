package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/sailfish-mobile/storefront/internal/app"
	"github.com/sailfish-mobile/storefront/internal/app/domain/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/metrics"
	"github.com/sailfish-mobile/storefront/internal/app/services/activation"
	"github.com/sailfish-mobile/storefront/internal/app/services/catalog"
	ownershipsvc "github.com/sailfish-mobile/storefront/internal/app/services/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/services/purchases"
	"github.com/sailfish-mobile/storefront/internal/app/services/users"
	"github.com/sailfish-mobile/storefront/internal/httputil"
	"github.com/sailfish-mobile/storefront/internal/middleware"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

// maxNotificationBody bounds provider notification payloads.
const maxNotificationBody = 64 << 10

// Options configures the HTTP surface around the routes.
type Options struct {
	CORSOrigins []string
	// Limiter rate limits callers; nil disables limiting.
	Limiter *middleware.RateLimiter
	// AdminToken enables the audit journal endpoint when set.
	AdminToken string
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns the storefront API wrapped in its middleware chain.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ipn", h.notification).Methods(http.MethodPost)

	r.HandleFunc("/products", h.listProducts).Methods(http.MethodGet)
	r.HandleFunc("/products/{id}", h.getProduct).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(middleware.RequireUserID)
	authed.HandleFunc("/products/{id}/purchases", h.purchase).Methods(http.MethodPost)
	authed.HandleFunc("/purchases/{id}", h.getPurchase).Methods(http.MethodGet)
	authed.HandleFunc("/me", h.getProfile).Methods(http.MethodGet)
	authed.HandleFunc("/me", h.updateProfile).Methods(http.MethodPut)
	authed.HandleFunc("/me/products", h.myProducts).Methods(http.MethodGet)
	authed.HandleFunc("/me/products/{id}/activation", h.activationCode).Methods(http.MethodGet)
	authed.HandleFunc("/me/products/{id}/activation/verify", h.verifyActivation).Methods(http.MethodPost)
	authed.HandleFunc("/me/products/{id}/installations", h.listInstallations).Methods(http.MethodGet)
	authed.HandleFunc("/me/products/{id}/installations", h.registerInstallation).Methods(http.MethodPost)

	if opts.AdminToken != "" {
		admin := r.PathPrefix("/admin").Subrouter()
		admin.Use(requireBearer(opts.AdminToken))
		admin.HandleFunc("/ipn/journal", h.journal).Methods(http.MethodGet)
	}

	var chain http.Handler = r
	if opts.Limiter != nil {
		chain = opts.Limiter.Handler(chain)
	}
	chain = middleware.Identity(chain)
	chain = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(chain)
	chain = middleware.NewTracingMiddleware(log).Handler(chain)
	return metrics.InstrumentHandler(chain)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "services": h.app.Services()})
}

// notification handles the payment provider's IPN callback. Any processed
// outcome is acknowledged with 200 so the provider stops redelivering; only
// infrastructure faults answer 500.
func (h *handler) notification(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	raw, err := httputil.ReadAllStrict(r.Body, maxNotificationBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err)
		return
	}

	result, err := h.app.Reconciler.Process(r.Context(), raw)
	if err != nil {
		h.log.WithError(err).Error("ipn processing failed")
		writeError(w, http.StatusInternalServerError, errors.New("notification not processed"))
		return
	}
	w.Header().Set("X-IPN-Outcome", string(result.Outcome))
	w.WriteHeader(http.StatusOK)
}

func (h *handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.app.Catalog.ListAvailable(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *handler) getProduct(w http.ResponseWriter, r *http.Request) {
	prod, err := h.app.Catalog.GetAvailable(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, prod)
}

type purchaseResponse struct {
	Transaction purchase.Transaction   `json:"transaction"`
	Checkout    *purchases.Checkout    `json:"checkout,omitempty"`
	UserProduct *ownership.UserProduct `json:"user_product,omitempty"`
}

// purchase records purchase intent. Paid products answer with the provider
// checkout form; free products are granted immediately.
func (h *handler) purchase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PIN string `json:"pin"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	productID := mux.Vars(r)["id"]

	owned, err := h.app.Ownership.Owns(ctx, userID, productID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if owned {
		writeError(w, http.StatusConflict, fmt.Errorf("product %s already owned", productID))
		return
	}

	tx, prod, err := h.app.Purchases.Prepare(ctx, productID, userID, payload.PIN)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if prod.IsFreeware() {
		result, err := h.app.Reconciler.GrantFree(ctx, tx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !result.Granted() {
			writeError(w, http.StatusConflict, fmt.Errorf("free claim not granted: %s", result.Reason))
			return
		}
		writeJSON(w, http.StatusCreated, purchaseResponse{Transaction: result.Transaction, UserProduct: result.UserProduct})
		return
	}

	checkout := h.app.Purchases.Checkout(tx, prod)
	writeJSON(w, http.StatusCreated, purchaseResponse{Transaction: tx, Checkout: &checkout})
}

func (h *handler) getPurchase(w http.ResponseWriter, r *http.Request) {
	tx, err := h.app.Purchases.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	// other users' transactions are reported as missing
	if tx.UserID != middleware.GetUserID(r.Context()) {
		writeError(w, http.StatusNotFound, purchases.ErrTransactionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *handler) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Users.Get(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PreferredEmail string   `json:"preferred_email"`
		Emails         []string `json:"emails"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := h.app.Users.Update(r.Context(), middleware.GetUserID(r.Context()), payload.PreferredEmail, payload.Emails)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) myProducts(w http.ResponseWriter, r *http.Request) {
	owned, err := h.app.Ownership.ListForUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if owned == nil {
		owned = []ownership.UserProduct{}
	}
	writeJSON(w, http.StatusOK, owned)
}

func (h *handler) activationCode(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	code, err := h.app.Activation.Code(r.Context(), middleware.GetUserID(r.Context()), productID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"product_id": productID, "code": code})
}

func (h *handler) verifyActivation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	valid, err := h.app.Activation.Verify(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], payload.Code)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (h *handler) listInstallations(w http.ResponseWriter, r *http.Request) {
	keys, err := h.app.Ownership.Installations(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if keys == nil {
		keys = []ownership.InstallationKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *handler) registerInstallation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PIN string `json:"pin"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key, err := h.app.Ownership.RegisterInstallation(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], payload.PIN)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (h *handler) journal(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.app.Journal.List(limit))
}

func requireBearer(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, errors.New("invalid admin token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrProductUnavailable),
		errors.Is(err, purchases.ErrTransactionNotFound),
		errors.Is(err, ownershipsvc.ErrNotOwned),
		errors.Is(err, users.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, purchases.ErrInvalidPIN),
		errors.Is(err, users.ErrInvalidEmail),
		errors.Is(err, activation.ErrEmptyPIN):
		return http.StatusBadRequest
	case errors.Is(err, activation.ErrEmptySecret):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
