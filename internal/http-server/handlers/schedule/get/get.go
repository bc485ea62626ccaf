package get

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

type ScheduleGetter interface {
	TodaySchedule(ctx context.Context, actor models.Actor, scope models.Scope, date string) ([]*api.DailyScheduleItem, error)
}

type Response struct {
	response.Response
	Schedule []*api.DailyScheduleItem `json:"schedule"`
}

// New returns the day's slots for a scope plus, per slot, the calling
// actor's record status and whether they can mark right now. Scope defaults
// to the actor's own when the query omits it.
func New(log *slog.Logger, getter ScheduleGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.schedule.get.New"

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

		scope := models.Scope{
			Section: r.URL.Query().Get("section"),
			Branch:  r.URL.Query().Get("branch"),
			Year:    r.URL.Query().Get("year"),
		}
		if scope.Section == "" && scope.Branch == "" && scope.Year == "" {
			scope = models.Scope{Section: actor.Section, Branch: actor.Branch, Year: actor.Year}
		}

		date := r.URL.Query().Get("date")
		if date == "" {
			log.Error("date is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "date is required"))
			return
		}

		schedule, err := getter.TodaySchedule(r.Context(), actor, scope, date)

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
			log.Error("Failed to get schedule", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to get schedule"))
			return
		}

		log.Info("Schedule retrieved", slog.Int("slots", len(schedule)))

		// An empty schedule means nothing to mark today, not a fault.
		if schedule == nil {
			schedule = []*api.DailyScheduleItem{}
		}

		render.JSON(w, r, Response{
			Schedule: schedule,
		})
	}
}
