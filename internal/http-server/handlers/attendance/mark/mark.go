package mark

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

type Marker interface {
	Mark(ctx context.Context, actor models.Actor, req *api.MarkRequest) (*api.AttendanceRecordResponse, error)
}

type Request struct {
	api.MarkRequest
}

type Response struct {
	response.Response
	Record *api.AttendanceRecordResponse `json:"record,omitempty"`
}

func New(log *slog.Logger, marker Marker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attendance.mark.New"

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

		log.Info("Request body decoded", slog.Any("request", req))

		if err := validator.New().Struct(req.MarkRequest); err != nil {
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

		record, err := marker.Mark(r.Context(), actor, &req.MarkRequest)

		var permErr *response.PermissionError
		if errors.As(err, &permErr) {
			log.Info("Mark denied", slog.String("reason", permErr.Reason))
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error(string(response.PERMISSION_DENIED), permErr.Reason))
			return
		}

		if errors.Is(err, response.ErrInvalidStatus) {
			log.Error("invalid status")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.INVALID_STATUS), "invalid attendance status"))
			return
		}

		if errors.Is(err, response.ErrInvalidKey) {
			log.Error("invalid record key", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.INVALID_KEY), err.Error()))
			return
		}

		if errors.Is(err, response.ErrOverrideReason) {
			log.Error("override without reason")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "override requires a non-empty reason"))
			return
		}

		if errors.Is(err, response.ErrWriteConflict) {
			log.Error("write conflict")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(response.WRITE_CONFLICT), "concurrent write, retry"))
			return
		}

		if errors.Is(err, response.ErrLocked) {
			log.Error("record is locked by another writer")
			w.WriteHeader(http.StatusLocked)
			render.JSON(w, r, response.Error(string(response.LOCKED), "record is locked, retry"))
			return
		}

		if errors.Is(err, response.ErrClockUnavailable) {
			log.Error("clock unavailable")
			w.WriteHeader(http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error(string(response.CLOCK_UNAVAILABLE), "server time unavailable, retry"))
			return
		}

		if errors.Is(err, response.ErrCatalogUnavailable) {
			log.Error("catalog unavailable")
			w.WriteHeader(http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error(string(response.CATALOG_UNAVAILABLE), "slot catalog unavailable, retry"))
			return
		}

		if err != nil {
			log.Error("Failed to mark attendance", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to mark attendance"))
			return
		}

		log.Info("Attendance marked", slog.Any("record", record))

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, Response{
			Record: record,
		})
	}
}
