package records

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

type RecordsGetter interface {
	RecordsForStudent(ctx context.Context, actor models.Actor, studentID, from, to string) ([]*api.AttendanceRecordResponse, error)
	RecordsForSlot(ctx context.Context, actor models.Actor, slotID, date string) ([]*api.AttendanceRecordResponse, error)
}

type Response struct {
	response.Response
	Records []*api.AttendanceRecordResponse `json:"records,omitempty"`
}

// New serves both read shapes: ?student_id=&from=&to= for a student range
// and ?slot_id=&date= for one slot on one day.
func New(log *slog.Logger, getter RecordsGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attendance.records.New"

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
		slotID := r.URL.Query().Get("slot_id")

		var records []*api.AttendanceRecordResponse
		var err error

		switch {
		case studentID != "":
			from := r.URL.Query().Get("from")
			to := r.URL.Query().Get("to")
			records, err = getter.RecordsForStudent(r.Context(), actor, studentID, from, to)
		case slotID != "":
			date := r.URL.Query().Get("date")
			records, err = getter.RecordsForSlot(r.Context(), actor, slotID, date)
		default:
			log.Error("neither student_id nor slot_id supplied")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "student_id or slot_id is required"))
			return
		}

		var permErr *response.PermissionError
		if errors.As(err, &permErr) {
			log.Info("Read denied", slog.String("reason", permErr.Reason))
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

		if errors.Is(err, response.ErrNotFound) {
			log.Error("resource not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "resource not found"))
			return
		}

		if err != nil {
			log.Error("Failed to read records", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to read records"))
			return
		}

		log.Info("Records retrieved", slog.Int("count", len(records)))

		render.JSON(w, r, Response{
			Records: records,
		})
	}
}
