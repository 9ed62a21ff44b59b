package services

import "errors"

// Ошибки сервисного слоя, сгруппированные по HTTP-категориям для маппинга в handlers.
var (
	// Not found
	ErrTournamentNotFound  = errors.New("tournament not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrMatchNotFound       = errors.New("match not found")
	ErrSnapshotNotFound    = errors.New("bracket snapshot not found")

	// Validation and business rules
	ErrValidationFailed          = errors.New("validation failed")
	ErrInvalidParticipantBounds  = errors.New("participant bounds must be powers of two with min not above max")
	ErrTournamentNotRecruiting   = errors.New("tournament is not recruiting")
	ErrTournamentNotInProgress   = errors.New("tournament is not in progress")
	ErrInvalidStartCount         = errors.New("participant count does not allow a start")
	ErrMatchPlayersNotReady      = errors.New("match does not have both players assigned")
	ErrWinnerNotInMatch          = errors.New("winner is not a player of this match")

	// Conflicts
	ErrTournamentFull         = errors.New("tournament registration is full")
	ErrAlreadyRegistered      = errors.New("user is already registered for this tournament")
	ErrTournamentNameConflict = errors.New("tournament name already exists")
	ErrMatchAlreadyStarted    = errors.New("match already has a running game")
	ErrMatchAlreadyCompleted  = errors.New("match is already completed")

	// Authorization
	ErrNotTournamentCreator = errors.New("only the tournament creator can perform this action")
	ErrNotMatchParticipant  = errors.New("only a player of the match can perform this action")
	ErrPasscodeRequired     = errors.New("tournament passcode is required")
	ErrInvalidPasscode      = errors.New("invalid tournament passcode")

	// Upstream
	ErrGameServiceUnavailable = errors.New("game service unavailable")
)

// IsPermanentGameResultError reports whether a game result can never be
// applied, so redelivering the event would not help.
func IsPermanentGameResultError(err error) bool {
	return errors.Is(err, ErrTournamentNotFound) ||
		errors.Is(err, ErrMatchNotFound) ||
		errors.Is(err, ErrWinnerNotInMatch) ||
		errors.Is(err, ErrValidationFailed)
}
