package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"treasury-lens/internal/solana"
	"treasury-lens/internal/storage"
)

// DefaultSnapshotWindow is the range served when "from" is omitted.
const DefaultSnapshotWindow = 7 * 24 * time.Hour

// maxWalletsBody bounds PUT /wallets request bodies.
const maxWalletsBody = 1 << 20

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/v1/reserve
func (a *api) reserve(w http.ResponseWriter, r *http.Request) {
	sum, err := a.dash.ReserveSummary(r.Context())
	if err != nil {
		respondFetchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sum)
}

// GET /api/v1/accounts/{address}
func (a *api) account(w http.ResponseWriter, r *http.Request) {
	snap, err := a.dash.Account(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		respondFetchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// GET /api/v1/staking/{owner}
func (a *api) staking(w http.ResponseWriter, r *http.Request) {
	info, err := a.dash.StakingInfo(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		respondFetchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// GET /api/v1/dca/{owner}
func (a *api) dca(w http.ResponseWriter, r *http.Request) {
	st, err := a.dash.DCAStatus(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		respondFetchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// GET /api/v1/swaps/{address}
func (a *api) swaps(w http.ResponseWriter, r *http.Request) {
	history, err := a.dash.SwapHistory(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		respondFetchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"transactions": history})
}

// GET /api/v1/prices?symbols=SOL,PYTH
func (a *api) prices(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	for _, s := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	respondJSON(w, http.StatusOK, a.dash.Prices(r.Context(), symbols...))
}

// GET /api/v1/snapshots?from=2026-10-01T00:00:00Z (or unix seconds)
func (a *api) listSnapshots(w http.ResponseWriter, r *http.Request) {
	from := a.now().Add(-DefaultSnapshotWindow)
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, ok := parseTime(raw)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid_input", "from must be RFC 3339 or unix seconds")
			return
		}
		from = t
	}

	points, err := a.snapshots.QueryRange(r.Context(), from)
	if err != nil {
		a.logger.Error().Err(err).Msg("query snapshots")
		respondStorageError(w, err)
		return
	}
	if points == nil {
		points = []storage.SnapshotPoint{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"from": from.UTC(), "points": points})
}

func parseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}

type walletsBody struct {
	Saved   bool             `json:"saved"`
	Wallets []storage.Wallet `json:"wallets"`
}

// GET /api/v1/wallets
func (a *api) getWallets(w http.ResponseWriter, r *http.Request) {
	list, err := a.wallets.Load(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("load wallets")
		respondStorageError(w, err)
		return
	}
	body := walletsBody{Saved: list != nil, Wallets: list}
	if body.Wallets == nil {
		body.Wallets = []storage.Wallet{}
	}
	respondJSON(w, http.StatusOK, body)
}

// PUT /api/v1/wallets with {"wallets":[{"address":"...","label":"..."}]}
func (a *api) putWallets(w http.ResponseWriter, r *http.Request) {
	var body walletsBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWalletsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_input", "malformed wallet list")
		return
	}

	now := a.now().UTC()
	list := make([]storage.Wallet, 0, len(body.Wallets))
	for _, wl := range body.Wallets {
		wl.Address = strings.TrimSpace(wl.Address)
		if err := solana.ValidateAddress(wl.Address); err != nil {
			respondFetchError(w, err)
			return
		}
		if wl.AddedAt.IsZero() {
			wl.AddedAt = now
		}
		list = append(list, wl)
	}

	if err := a.wallets.Save(r.Context(), list); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, walletsBody{Saved: true, Wallets: list})
}
