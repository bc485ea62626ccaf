package audit

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
)

type TrailGetter interface {
	AuditTrail(ctx context.Context, actor models.Actor, slotID, date string) ([]*api.AuditEntryResponse, error)
}

type Response struct {
	response.Response
	Entries []*api.AuditEntryResponse `json:"entries,omitempty"`
}

func New(log *slog.Logger, getter TrailGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attendance.audit.New"

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

		slotID := r.URL.Query().Get("slot_id")
		date := r.URL.Query().Get("date")

		if slotID == "" || date == "" {
			log.Error("slot_id or date is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "slot_id and date are required"))
			return
		}

		entries, err := getter.AuditTrail(r.Context(), actor, slotID, date)

		var permErr *response.PermissionError
		if errors.As(err, &permErr) {
			log.Info("Audit read denied", slog.String("reason", permErr.Reason))
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error(string(response.PERMISSION_DENIED), permErr.Reason))
			return
		}

		if errors.Is(err, response.ErrInvalidKey) {
			log.Error("invalid query", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.INVALID_KEY), err.Error()))
			return
		}

		if err != nil {
			log.Error("Failed to read audit trail", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to read audit trail"))
			return
		}

		log.Info("Audit trail retrieved", slog.Int("count", len(entries)))

		render.JSON(w, r, Response{
			Entries: entries,
		})
	}
}
