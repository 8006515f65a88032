package network

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linkbroker/linkbroker/internal/httpserver"
	"github.com/linkbroker/linkbroker/internal/listing"
	"github.com/linkbroker/linkbroker/internal/storage"
)

// Handler provides HTTP handlers for the networks API.
type Handler struct {
	svc *Service
}

// NewHandler creates a network Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns a chi.Router with all network routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
	})
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.svc.Create(r.Context(), req)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create network")
		return
	}
	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "network not found")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get network")
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.svc.Update(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "network not found")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update network")
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "network not found")
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete network")
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := listing.ParseParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	header := []string{"id", "unit_id", "code", "name", "host_uri", "info", "created_at", "updated_at"}
	listing.Stream(w, r, header, toCSVRow, params, func(opts storage.ListOptions) (storage.Page[Row], error) {
		return h.svc.List(r.Context(), opts)
	})
}

func toCSVRow(row Row) []string {
	resp := row.ToResponse()
	return []string{
		resp.ID,
		resp.UnitID,
		resp.Code,
		resp.Name,
		resp.HostURI,
		listing.JSONCell(resp.Info),
		resp.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		resp.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
