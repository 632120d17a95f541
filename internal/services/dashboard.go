package services

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Riboost-Studio/order-print-desk/internal/receipt"
)

// Dashboard exposes the App over a local HTTP API plus the push socket.
type Dashboard struct {
	app    *App
	hub    *Hub
	logger *logrus.Logger
}

func NewDashboard(app *App, hub *Hub, logger *logrus.Logger) *Dashboard {
	return &Dashboard{app: app, hub: hub, logger: logger}
}

func (d *Dashboard) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", d.health).Methods("GET")
	router.HandleFunc("/ws", d.hub.HandleWebSocket)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/login", d.login).Methods("POST")
	api.HandleFunc("/logout", d.logout).Methods("POST")
	api.HandleFunc("/session", d.session).Methods("GET")
	api.HandleFunc("/orders/pending", d.pendingOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}/print", d.printOrder).Methods("POST")
	api.HandleFunc("/print", d.silentPrint).Methods("POST")
	api.HandleFunc("/printers", d.printers).Methods("GET")
	api.HandleFunc("/settings/printer", d.savedPrinter).Methods("GET")
	api.HandleFunc("/settings", d.saveSetting).Methods("PUT")
	api.HandleFunc("/settings/pdf-path", d.pdfPath).Methods("GET")
	api.HandleFunc("/settings/select-directory", d.selectDirectory).Methods("POST")
	api.HandleFunc("/status", d.status).Methods("GET")

	router.Use(loggingMiddleware(d.logger), d.localOnly)
	return router
}

// Serve runs the dashboard on addr until ctx is done.
func (d *Dashboard) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     d.Router(),
		ReadTimeout: 15 * time.Second,
		// print requests wait for the render and the spooler
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		d.logger.WithField("addr", addr).Info("Starting dashboard")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.logger.WithError(err).Error("Dashboard forced to shutdown")
		return err
	}
	d.logger.Info("Dashboard stopped")
	return nil
}

func (d *Dashboard) health(w http.ResponseWriter, r *http.Request) {
	d.respondWithJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"dashboards": d.hub.ClientCount(),
		"realtime":   d.app.Feed.State().String(),
	})
}

func (d *Dashboard) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		d.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res := d.app.Login(r.Context(), body.Email, body.Password)
	code := http.StatusOK
	if res.Error != "" {
		code = http.StatusUnauthorized
	}
	d.respondWithJSON(w, code, res)
}

func (d *Dashboard) logout(w http.ResponseWriter, r *http.Request) {
	d.respondWithJSON(w, http.StatusOK, d.app.Logout(r.Context()))
}

func (d *Dashboard) session(w http.ResponseWriter, r *http.Request) {
	d.respondWithJSON(w, http.StatusOK, d.app.GetSession(r.Context()))
}

func (d *Dashboard) pendingOrders(w http.ResponseWriter, r *http.Request) {
	res := d.app.GetPendingOrders(r.Context())
	code := http.StatusOK
	if res.Error != "" {
		code = http.StatusBadGateway
	}
	d.respondWithJSON(w, code, res)
}

func (d *Dashboard) printOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		d.respondWithError(w, http.StatusBadRequest, "Invalid order id")
		return
	}
	d.respondWithJSON(w, http.StatusOK, d.app.PrintOrder(r.Context(), id))
}

func (d *Dashboard) silentPrint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Document receipt.Document `json:"document"`
		OrderID  string           `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		d.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.OrderID == "" {
		body.OrderID = body.Document.OrderID
	}
	d.respondWithJSON(w, http.StatusOK, d.app.SilentPrintOrder(r.Context(), body.Document, body.OrderID))
}

func (d *Dashboard) printers(w http.ResponseWriter, r *http.Request) {
	d.respondWithJSON(w, http.StatusOK, d.app.GetPrinters(r.Context()))
}

func (d *Dashboard) savedPrinter(w http.ResponseWriter, r *http.Request) {
	d.respondWithJSON(w, http.StatusOK, d.app.GetSavedPrinterName())
}

func (d *Dashboard) saveSetting(w http.ResponseWriter, r *http.Request) {
	var req SaveSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res := d.app.SaveSetting(req)
	code := http.StatusOK
	if !res.Success {
		code = http.StatusInternalServerError
	}
	d.respondWithJSON(w, code, res)
}

func (d *Dashboard) pdfPath(w http.ResponseWriter, r *http.Request) {
	d.respondWithJSON(w, http.StatusOK, d.app.GetPdfSavePath())
}

func (d *Dashboard) selectDirectory(w http.ResponseWriter, r *http.Request) {
	d.respondWithJSON(w, http.StatusOK, d.app.SelectDirectory(r.Context()))
}

func (d *Dashboard) status(w http.ResponseWriter, r *http.Request) {
	d.respondWithJSON(w, http.StatusOK, d.app.Status())
}

func (d *Dashboard) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		d.logger.WithError(err).Error("Failed to marshal response")
		code = http.StatusInternalServerError
		response = []byte(`{"success":false,"message":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (d *Dashboard) respondWithError(w http.ResponseWriter, code int, message string) {
	d.respondWithJSON(w, code, map[string]any{
		"success": false,
		"message": message,
	})
}

// localOnly admits requests addressed to a loopback host and sent from a
// loopback page or no page at all. Writes must declare a JSON body, which a
// cross-site page cannot send without a preflight the server never grants.
func (d *Dashboard) localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !loopbackHost(r.Host) || !localOrigin(r) {
			d.logger.WithFields(logrus.Fields{
				"host":   r.Host,
				"origin": r.Header.Get("Origin"),
				"path":   r.URL.Path,
			}).Warn("Rejected non-local dashboard request")
			d.respondWithError(w, http.StatusForbidden, "Forbidden")
			return
		}
		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && !jsonContent(r) {
			d.respondWithError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonContent(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).Milliseconds(),
			}).Debug("Request completed")
		})
	}
}
