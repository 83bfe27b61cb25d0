/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontends
  5. Actor:      X-Actor-ID header -> inventory.WithActor

ROUTE GROUPS:
  /api/stock/*          Levels, history, valuation, verify, thresholds
  /api/movements/*      Adjustments and receipts
  /api/orders/*         Order lifecycle
  /api/reservations/*   Direct reservation release/commit
  /api/products         Catalog
  /api/warehouses       Catalog
  /api/scenarios/*      Demo seed data
  /healthz              Liveness

SECURITY NOTE:
  The actor header is trusted as-is. Capability checks happen inside the
  engine through its Authorizer; requests without the header act as
  "anonymous".

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/inventory-engine/inventory"
)

// ActorHeader carries the acting user's identity.
const ActorHeader = "X-Actor-ID"

// AnonymousActor is used when a request has no actor header.
const AnonymousActor inventory.ActorID = "anonymous"

// RouterOptions tunes the router.
type RouterOptions struct {
	AllowedOrigins []string
	RequestLogging bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if opts.RequestLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))
	r.Use(actorMiddleware)

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Stock routes
		r.Route("/stock/{warehouse}/{product}", func(r chi.Router) {
			r.Get("/", h.GetLevel)
			r.Get("/history", h.GetHistory)
			r.Get("/valuation", h.GetValuation)
			r.Post("/verify", h.VerifyLevel)
			r.Put("/threshold", h.SetThreshold)
		})

		// Movement routes
		r.Route("/movements", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)
			r.Post("/receipts", h.CreateReceipt)
		})

		// Order routes
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Get("/{id}/transitions", h.GetTransitions)
			r.Post("/{id}/transitions", h.ApplyTransition)
			r.Get("/{id}/reservations", h.GetOrderReservations)
			r.Get("/{id}/movements", h.GetOrderMovements)
		})

		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/{id}/release", h.ReleaseReservation)
			r.Post("/{id}/commit", h.CommitReservation)
		})

		// Catalog routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.SaveProduct)
		})
		r.Route("/warehouses", func(r chi.Router) {
			r.Get("/", h.ListWarehouses)
			r.Post("/", h.SaveWarehouse)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// actorMiddleware puts the request's actor into the context.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := inventory.ActorID(r.Header.Get(ActorHeader))
		if actor == "" {
			actor = AnonymousActor
		}
		next.ServeHTTP(w, r.WithContext(inventory.WithActor(r.Context(), actor)))
	})
}
