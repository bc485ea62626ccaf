package override

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"attendance-service/api"
	"attendance-service/internal/models"
	"attendance-service/pkg/middleware/identity"
	"attendance-service/pkg/response"
	"attendance-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Overrider interface {
	AdminOverride(ctx context.Context, actor models.Actor, req *api.OverrideRequest) (*api.BulkMarkResponse, error)
}

type Request struct {
	api.OverrideRequest
}

type Response struct {
	response.Response
	Success bool `json:"success"`
	api.BulkMarkResponse
}

func New(log *slog.Logger, overrider Overrider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attendance.override.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		actor, ok := identity.Actor(r.Context())
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "missing identity context"))
			return
		}

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "failed to decode request"))
			return
		}

		log.Info("Request body decoded",
			slog.Int("students", len(req.StudentIDs)),
			slog.String("slot_id", req.SlotID),
		)

		if err := validator.New().Struct(req.OverrideRequest); err != nil {
			var validateErr validator.ValidationErrors
			if errors.As(err, &validateErr) {
				log.Error("Invalid request", sl.Err(err))
				w.WriteHeader(http.StatusBadRequest)
				render.JSON(w, r, response.ValidationError(validateErr))
				return
			}

			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "invalid request"))
			return
		}

		result, err := overrider.AdminOverride(r.Context(), actor, &req.OverrideRequest)

		var permErr *response.PermissionError
		if errors.As(err, &permErr) {
			log.Info("Override denied", slog.String("reason", permErr.Reason))
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error(string(response.PERMISSION_DENIED), permErr.Reason))
			return
		}

		if errors.Is(err, response.ErrOverrideReason) {
			log.Error("override without reason")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "override requires a non-empty reason"))
			return
		}

		if errors.Is(err, response.ErrInvalidKey) {
			log.Error("invalid record key", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.INVALID_KEY), err.Error()))
			return
		}

		if errors.Is(err, response.ErrCatalogUnavailable) {
			log.Error("catalog unavailable")
			w.WriteHeader(http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error(string(response.CATALOG_UNAVAILABLE), "slot catalog unavailable, retry"))
			return
		}

		if err != nil {
			log.Error("Failed to apply override", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to apply override"))
			return
		}

		log.Info("Override finished",
			slog.Int("marked", result.MarkedCount),
			slog.Int("failed", result.FailedCount),
		)

		render.JSON(w, r, Response{
			Success:          true,
			BulkMarkResponse: *result,
		})
	}
}
