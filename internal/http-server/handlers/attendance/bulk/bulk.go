package bulk

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

type BulkMarker interface {
	MarkBulk(ctx context.Context, actor models.Actor, req *api.MarkBulkRequest) (*api.BulkMarkResponse, error)
}

type Request struct {
	api.MarkBulkRequest
}

// Partial failure is the expected common case: the batch reports success
// with per-student errors rather than aborting on the first one.
type Response struct {
	response.Response
	Success bool `json:"success"`
	api.BulkMarkResponse
}

func New(log *slog.Logger, marker BulkMarker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attendance.bulk.New"

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

		log.Info("Request body decoded", slog.Int("students", len(req.StudentIDs)))

		if err := validator.New().Struct(req.MarkBulkRequest); err != nil {
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

		result, err := marker.MarkBulk(r.Context(), actor, &req.MarkBulkRequest)

		var permErr *response.PermissionError
		if errors.As(err, &permErr) {
			log.Info("Bulk mark denied", slog.String("reason", permErr.Reason))
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error(string(response.PERMISSION_DENIED), permErr.Reason))
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
			log.Error("Failed to bulk mark attendance", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to bulk mark attendance"))
			return
		}

		log.Info("Bulk mark finished",
			slog.Int("marked", result.MarkedCount),
			slog.Int("failed", result.FailedCount),
		)

		render.JSON(w, r, Response{
			Success:          true,
			BulkMarkResponse: *result,
		})
	}
}
