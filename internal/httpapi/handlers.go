package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ateliergems/cartcore/internal/cart"
	"github.com/ateliergems/cartcore/internal/domain"
	"github.com/ateliergems/cartcore/internal/syncer"
)

type CartHandler struct {
	registry *Registry
	log      zerolog.Logger
}

func NewCartHandler(registry *Registry) *CartHandler {
	return &CartHandler{registry: registry, log: registry.cfg.Log}
}

type AddItemRequestDTO struct {
	ItemID    int64           `json:"item_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type LoginRequestDTO struct {
	UserID string `json:"user_id"`
}

type ExportDesignRequestDTO struct {
	Name       string            `json:"name"`
	BasePrice  decimal.Decimal   `json:"base_price"`
	Design     json.RawMessage   `json:"design"`
	Components []DesignComponent `json:"components"`
}

type DesignComponent struct {
	ItemID   int64           `json:"item_id"`
	Quantity int32           `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type UndoRedoResponseDTO struct {
	Applied bool             `json:"applied"`
	Cart    domain.CartState `json:"cart"`
}

func (h *CartHandler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_session", "X-Session-ID header is required")
		return nil, false
	}
	return h.registry.Session(r.Context(), sessionID), true
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var state domain.CartState
	s.Do(func(mgr *cart.Manager, _ *syncer.Coordinator) {
		state = mgr.State()
	})
	h.respondJSON(w, http.StatusOK, state)
}

func (h *CartHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var summary domain.Summary
	s.Do(func(mgr *cart.Manager, _ *syncer.Coordinator) {
		summary = mgr.Summary()
	})
	h.respondJSON(w, http.StatusOK, summary)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ItemID <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid_item_id", "item_id must be positive")
		return
	}

	var (
		item domain.CartItem
		err  error
	)
	s.Do(func(mgr *cart.Manager, _ *syncer.Coordinator) {
		item, err = mgr.AddItem(cart.NewItem{
			ItemID:    req.ItemID,
			Name:      req.Name,
			UnitPrice: req.UnitPrice,
			Quantity:  req.Quantity,
		})
	})
	if err != nil {
		h.handleCartError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, item)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	lineID := chi.URLParam(r, "line_id")

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var (
		found bool
		err   error
		state domain.CartState
	)
	s.Do(func(mgr *cart.Manager, _ *syncer.Coordinator) {
		found, err = mgr.UpdateQuantity(lineID, req.Quantity)
		state = mgr.State()
	})
	if err != nil {
		h.handleCartError(w, err)
		return
	}
	if !found {
		h.respondError(w, http.StatusNotFound, "line_not_found", "no such cart line")
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	lineID := chi.URLParam(r, "line_id")

	var (
		found bool
		state domain.CartState
	)
	s.Do(func(mgr *cart.Manager, _ *syncer.Coordinator) {
		found = mgr.RemoveItem(lineID)
		state = mgr.State()
	})
	if !found {
		h.respondError(w, http.StatusNotFound, "line_not_found", "no such cart line")
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var state domain.CartState
	s.Do(func(mgr *cart.Manager, _ *syncer.Coordinator) {
		mgr.Clear()
		state = mgr.State()
	})
	h.respondJSON(w, http.StatusOK, state)
}

func (h *CartHandler) Undo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var resp UndoRedoResponseDTO
	s.Do(func(mgr *cart.Manager, _ *syncer.Coordinator) {
		resp.Cart, resp.Applied = mgr.Undo()
		if !resp.Applied {
			resp.Cart = mgr.State()
		}
	})
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *CartHandler) Redo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var resp UndoRedoResponseDTO
	s.Do(func(mgr *cart.Manager, _ *syncer.Coordinator) {
		resp.Cart, resp.Applied = mgr.Redo()
		if !resp.Applied {
			resp.Cart = mgr.State()
		}
	})
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *CartHandler) ExportDesign(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ExportDesignRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "invalid_design", "design name is required")
		return
	}

	components := make([]domain.DesignComponent, 0, len(req.Components))
	for _, c := range req.Components {
		components = append(components, domain.DesignComponent{
			ItemID:   c.ItemID,
			Quantity: c.Quantity,
			UnitCost: c.UnitCost,
		})
	}

	var (
		item domain.CartItem
		err  error
	)
	s.Do(func(mgr *cart.Manager, _ *syncer.Coordinator) {
		item, err = mgr.ExportDesign(req.Design, cart.DesignMetadata{
			Name:       req.Name,
			BasePrice:  req.BasePrice,
			Components: components,
		})
	})
	if err != nil {
		h.handleCartError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, item)
}

func (h *CartHandler) Login(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req LoginRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.UserID == "" {
		h.respondError(w, http.StatusBadRequest, "invalid_user_id", "user_id is required")
		return
	}

	var (
		err   error
		state domain.CartState
	)
	s.Do(func(mgr *cart.Manager, coord *syncer.Coordinator) {
		err = coord.OnLogin(r.Context(), req.UserID)
		state = mgr.State()
	})
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "merge_failed", "failed to merge carts")
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}

func (h *CartHandler) Sync(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var err error
	s.Do(func(_ *cart.Manager, coord *syncer.Coordinator) {
		err = coord.Flush(r.Context())
	})
	if err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "sync_failed", "failed to persist cart")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (h *CartHandler) Validate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var (
		report domain.ValidationReport
		err    error
	)
	s.Do(func(mgr *cart.Manager, coord *syncer.Coordinator) {
		report, err = coord.ValidateCart(r.Context(), mgr.State())
	})
	if err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "validation_failed", "failed to check inventory")
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

func (h *CartHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var (
		result domain.ReservationResult
		err    error
	)
	s.Do(func(mgr *cart.Manager, coord *syncer.Coordinator) {
		result, err = coord.ReserveForCheckout(r.Context(), mgr.State())
	})
	if err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "reserve_failed", "failed to reserve inventory")
		return
	}
	if !result.OK {
		// 409 so the client can surface the shortfalls and let the shopper
		// adjust quantities.
		h.respondJSON(w, http.StatusConflict, result)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *CartHandler) Release(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var err error
	s.Do(func(mgr *cart.Manager, coord *syncer.Coordinator) {
		err = coord.ReleaseReservation(r.Context(), mgr.State())
	})
	if err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "release_failed", "failed to release reservation")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "released"})
}
