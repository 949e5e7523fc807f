// Package httpapi serves the dashboard views as JSON over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"treasury-lens/internal/dca"
	"treasury-lens/internal/observability"
	"treasury-lens/internal/price"
	"treasury-lens/internal/reserve"
	"treasury-lens/internal/staking"
	"treasury-lens/internal/storage"
	"treasury-lens/internal/swaps"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// Dashboard serves the views exposed by the API.
type Dashboard interface {
	StakingInfo(ctx context.Context, owner string) (staking.Info, error)
	Account(ctx context.Context, address string) (reserve.AccountSnapshot, error)
	ReserveSummary(ctx context.Context) (reserve.Summary, error)
	DCAStatus(ctx context.Context, owner string) (dca.Status, error)
	SwapHistory(ctx context.Context, address string) ([]swaps.Transaction, error)
	Prices(ctx context.Context, symbols ...string) price.Book
}

// Options contains configuration for creating the router.
type Options struct {
	Dashboard Dashboard
	// Snapshots and Wallets are optional; their routes answer 404 when unset.
	Snapshots storage.SnapshotSink
	Wallets   storage.WalletStore
	Logger    zerolog.Logger
	Now       func() time.Time
}

type api struct {
	dash      Dashboard
	snapshots storage.SnapshotSink
	wallets   storage.WalletStore
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	a := &api{
		dash:      opts.Dashboard,
		snapshots: opts.Snapshots,
		wallets:   opts.Wallets,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", a.health)
	r.Handle("/metrics", observability.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/reserve", a.reserve)
		r.Get("/accounts/{address}", a.account)
		r.Get("/staking/{owner}", a.staking)
		r.Get("/dca/{owner}", a.dca)
		r.Get("/swaps/{address}", a.swaps)
		r.Get("/prices", a.prices)
		if a.snapshots != nil {
			r.Get("/snapshots", a.listSnapshots)
		}
		if a.wallets != nil {
			r.Get("/wallets", a.getWallets)
			r.Put("/wallets", a.putWallets)
		}
	})
	return r
}

type ctxKey struct{}

// RequestIDFrom returns the request ID stored by the middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// requestID keeps a caller-supplied request ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (a *api) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		observability.RecordAPIRequest(route, status, elapsed.Seconds())

		ev := a.logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = a.logger.Warn()
		}
		ev.Str("request_id", RequestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}
