package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Dosada05/tournament-engine/middleware"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/Dosada05/tournament-engine/services"
)

type TournamentHandler struct {
	tournamentService services.TournamentService
}

func NewTournamentHandler(tournamentService services.TournamentService) *TournamentHandler {
	return &TournamentHandler{tournamentService: tournamentService}
}

type createTournamentRequest struct {
	Name            string  `json:"name"`
	MinParticipants int     `json:"min_participants"`
	MaxParticipants int     `json:"max_participants"`
	IsPublic        *bool   `json:"is_public"`
	Passcode        *string `json:"passcode"`
}

func (h *TournamentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	var req createTournamentRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	tournament, err := h.tournamentService.Create(r.Context(), services.CreateTournamentInput{
		CreatorID:       userID,
		Name:            req.Name,
		MinParticipants: req.MinParticipants,
		MaxParticipants: req.MaxParticipants,
		IsPublic:        isPublic,
		Passcode:        req.Passcode,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"tournament": tournament}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *TournamentHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := parseUUIDParam(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.tournamentService.GetByID(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournament": tournament}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *TournamentHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repositories.ListTournamentsFilter{Limit: 50}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := models.TournamentStatus(statusStr)
		switch status {
		case models.StatusRecruiting, models.StatusInProgress, models.StatusFinished:
			filter.Status = &status
		default:
			badRequestResponse(w, r, errors.New("invalid status filter"))
			return
		}
	}

	tournaments, err := h.tournamentService.List(r.Context(), filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournaments": tournaments}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

type joinTournamentRequest struct {
	DisplayName *string `json:"display_name"`
	Passcode    *string `json:"passcode"`
}

func (h *TournamentHandler) Join(w http.ResponseWriter, r *http.Request) {
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

	var req joinTournamentRequest
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			badRequestResponse(w, r, err)
			return
		}
	}

	participant, err := h.tournamentService.Join(r.Context(), services.JoinTournamentInput{
		TournamentID: tournamentID,
		UserID:       userID,
		DisplayName:  req.DisplayName,
		Passcode:     req.Passcode,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"participant": participant}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *TournamentHandler) Leave(w http.ResponseWriter, r *http.Request) {
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

	if err := h.tournamentService.Leave(r.Context(), tournamentID, userID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *TournamentHandler) Start(w http.ResponseWriter, r *http.Request) {
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

	if err := h.tournamentService.Start(r.Context(), tournamentID, userID, models.StartReasonManual); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"status": models.StatusInProgress}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid " + name)
	}
	return id, nil
}
