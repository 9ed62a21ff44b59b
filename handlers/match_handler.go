package handlers

import (
	"net/http"

	"github.com/Dosada05/tournament-engine/middleware"
	"github.com/Dosada05/tournament-engine/services"
)

type MatchHandler struct {
	matchService services.MatchService
}

func NewMatchHandler(matchService services.MatchService) *MatchHandler {
	return &MatchHandler{matchService: matchService}
}

func (h *MatchHandler) Play(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}
	tournamentID, err := parseUUIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	matchID, err := parseUUIDParam(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.PlayMatch(r.Context(), tournamentID, matchID, userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *MatchHandler) ListByTournament(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := parseUUIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	matches, err := h.matchService.ListByTournament(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"matches": matches}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *MatchHandler) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := parseUUIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	snapshot, err := h.matchService.LatestSnapshot(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"snapshot": snapshot}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *MatchHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := parseUUIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	snapshots, err := h.matchService.ListSnapshots(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"snapshots": snapshots}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
