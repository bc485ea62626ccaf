package subscribe

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"attendance-service/internal/models"
	"attendance-service/internal/pubsub"
	"attendance-service/pkg/response"
	"attendance-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// subscriber buffer; a consumer this far behind is dropped rather than
// allowed to stall the ledger's write path.
const eventBuffer = 64

// New streams ledger writes over SSE for one slot/date or one
// student/date-range. Any other transport can wrap the same bus.
func New(log *slog.Logger, bus *pubsub.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.subscribe.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		flusher, ok := w.(http.Flusher)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "streaming unsupported"))
			return
		}

		events := make(chan pubsub.Event, eventBuffer)
		push := func(e pubsub.Event) {
			select {
			case events <- e:
			default:
			}
		}

		var unsubscribe func()

		slotID := r.URL.Query().Get("slot_id")
		studentID := r.URL.Query().Get("student_id")

		switch {
		case slotID != "":
			date, err := time.Parse(models.DateLayout, r.URL.Query().Get("date"))
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "date is required as YYYY-MM-DD"))
				return
			}
			unsubscribe = bus.SubscribeSlot(slotID, date, push)
		case studentID != "":
			from, errFrom := time.Parse(models.DateLayout, r.URL.Query().Get("from"))
			to, errTo := time.Parse(models.DateLayout, r.URL.Query().Get("to"))
			if errFrom != nil || errTo != nil {
				w.WriteHeader(http.StatusBadRequest)
				render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "from and to are required as YYYY-MM-DD"))
				return
			}
			unsubscribe = bus.SubscribeStudent(studentID, from, to, push)
		default:
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "slot_id or student_id is required"))
			return
		}

		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		log.Info("Subscriber connected",
			slog.String("slot_id", slotID),
			slog.String("student_id", studentID),
		)

		heartbeat := time.NewTicker(30 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				log.Info("Subscriber disconnected")
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case event := <-events:
				payload, err := json.Marshal(event)
				if err != nil {
					log.Error("Failed to encode event", sl.Err(err))
					continue
				}

				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
		}
	}
}
