package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/handcricket-backend/internal/apperror"
	"github.com/DoyleJ11/handcricket-backend/internal/hub"
	"github.com/DoyleJ11/handcricket-backend/internal/room"
	"github.com/DoyleJ11/handcricket-backend/internal/types"
)

type roomStatus struct {
	Code     string                `json:"code"`
	Phase    room.Phase            `json:"phase"`
	GameMode string                `json:"gameMode,omitempty"`
	Overs    int                   `json:"overs"`
	Players  []types.PlayerSummary `json:"players"`
	Innings  int                   `json:"innings,omitempty"`
	Target   int                   `json:"target,omitempty"`
	Runs     map[string]int        `json:"runs,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GetRoom reports a room's lobby or match status without joining it.
func GetRoom(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := h.GetRoom(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		v, err := rm.View(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}

		st := roomStatus{
			Code:     v.Code,
			Phase:    v.Phase,
			GameMode: v.GameMode,
			Overs:    v.Overs,
			Players:  v.Players,
		}
		if st.Players == nil {
			st.Players = []types.PlayerSummary{}
		}
		if m := v.Match; m != nil {
			st.Innings = m.Innings
			st.Target = m.Target
			st.Runs = make(map[string]int, len(m.Score))
			for team, runs := range m.Score {
				st.Runs[string(team)] = runs
			}
		}
		writeJSON(w, logger, http.StatusOK, st)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperror.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, hub.ErrHubClosed):
		status = http.StatusServiceUnavailable
	default:
		logger.Error("room lookup failed", zap.Error(err))
	}
	writeJSON(w, logger, status, errorBody{Code: apperror.Code(err), Message: apperror.Message(err)})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response", zap.Error(err))
	}
}
