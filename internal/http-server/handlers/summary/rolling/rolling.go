package rolling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"attendance-service/internal/models"
	"attendance-service/pkg/middleware/identity"
	"attendance-service/pkg/response"
	"attendance-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Summarizer interface {
	RollingSummary(ctx context.Context, actor models.Actor, studentID string, scope models.Scope, windowWeeks int) (*models.StudentAttendanceSummary, error)
}

type Response struct {
	response.Response
	Summary *models.StudentAttendanceSummary `json:"summary,omitempty"`
}

func New(log *slog.Logger, summarizer Summarizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.summary.rolling.New"

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

		studentID := r.URL.Query().Get("student_id")
		if studentID == "" {
			studentID = actor.UserID
		}

		scope := models.Scope{
			Section: r.URL.Query().Get("section"),
			Branch:  r.URL.Query().Get("branch"),
			Year:    r.URL.Query().Get("year"),
		}
		if scope.Section == "" && scope.Branch == "" && scope.Year == "" {
			scope = models.Scope{Section: actor.Section, Branch: actor.Branch, Year: actor.Year}
		}

		weeks := 0
		if raw := r.URL.Query().Get("weeks"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				log.Error("invalid weeks parameter", slog.String("weeks", raw))
				w.WriteHeader(http.StatusBadRequest)
				render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "weeks must be a positive integer"))
				return
			}
			weeks = parsed
		}

		summary, err := summarizer.RollingSummary(r.Context(), actor, studentID, scope, weeks)

		var permErr *response.PermissionError
		if errors.As(err, &permErr) {
			log.Info("Summary denied", slog.String("reason", permErr.Reason))
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error(string(response.PERMISSION_DENIED), permErr.Reason))
			return
		}

		if errors.Is(err, response.ErrClockUnavailable) {
			log.Error("clock unavailable")
			w.WriteHeader(http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error(string(response.CLOCK_UNAVAILABLE), "server time unavailable, retry"))
			return
		}

		if err != nil {
			log.Error("Failed to compute summary", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to compute summary"))
			return
		}

		log.Info("Summary computed",
			slog.String("student_id", studentID),
			slog.Int("percentage", summary.Percentage),
		)

		render.JSON(w, r, Response{
			Summary: summary,
		})
	}
}
