package check

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"attendance-service/internal/models"
	"attendance-service/pkg/middleware/identity"
	"attendance-service/pkg/response"
	"attendance-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Checker interface {
	CheckPermission(ctx context.Context, actor models.Actor, slotID, date string, category models.AttendanceCategory) (*models.PermissionCheck, error)
}

type Response struct {
	response.Response
	Check *models.PermissionCheck `json:"check,omitempty"`
}

// New exposes the advisory permission check so UIs can disable controls
// proactively. The verdict is never trusted as authorization: the ledger
// re-checks at write time.
func New(log *slog.Logger, checker Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.permission.check.New"

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
		category := models.AttendanceCategory(r.URL.Query().Get("category"))

		if slotID == "" || date == "" {
			log.Error("slot_id or date is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "slot_id and date are required"))
			return
		}

		if category == "" {
			category = models.CategoryAcademic
		}
		if !category.Valid() {
			log.Error("invalid category", slog.String("category", string(category)))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "invalid category"))
			return
		}

		result, err := checker.CheckPermission(r.Context(), actor, slotID, date, category)

		if errors.Is(err, response.ErrInvalidKey) {
			log.Error("invalid query", sl.Err(err))
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
			log.Error("Failed to check permission", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to check permission"))
			return
		}

		log.Info("Permission checked",
			slog.String("slot_id", slotID),
			slog.Bool("can_mark", result.CanMark),
		)

		render.JSON(w, r, Response{
			Check: result,
		})
	}
}
