package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-engine/brackets"
	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/Dosada05/tournament-engine/storage"
)

type tournamentFixture struct {
	service         TournamentService
	tournamentRepo  *fakeTournamentRepo
	participantRepo *fakeParticipantRepo
	matchRepo       *fakeMatchRepo
	snapshotRepo    *fakeSnapshotRepo
	publisher       *capturingPublisher
	clock           *clockwork.FakeClock
}

func newTournamentFixture(t *testing.T) *tournamentFixture {
	t.Helper()
	f := &tournamentFixture{
		tournamentRepo:  newFakeTournamentRepo(),
		participantRepo: newFakeParticipantRepo(),
		matchRepo:       newFakeMatchRepo(),
		snapshotRepo:    newFakeSnapshotRepo(),
		publisher:       &capturingPublisher{},
		clock:           clockwork.NewFakeClock(),
	}
	f.service = NewTournamentService(
		fakeTxScope{},
		f.tournamentRepo,
		f.participantRepo,
		f.matchRepo,
		f.snapshotRepo,
		brackets.NewSingleEliminationGenerator(),
		f.publisher,
		NopNotifier{},
		storage.NopArchiver{},
		f.clock,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		time.Minute,
	)
	return f
}

func (f *tournamentFixture) create(t *testing.T, min, max int) (*models.Tournament, uuid.UUID) {
	t.Helper()
	creatorID := uuid.New()
	tournament, err := f.service.Create(context.Background(), CreateTournamentInput{
		CreatorID:       creatorID,
		Name:            "friday cup " + uuid.NewString(),
		MinParticipants: min,
		MaxParticipants: max,
		IsPublic:        true,
	})
	require.NoError(t, err)
	return tournament, creatorID
}

func TestCreateTournamentDefaultsAndValidation(t *testing.T) {
	f := newTournamentFixture(t)

	tournament, _ := f.create(t, 0, 0)
	assert.Equal(t, 2, tournament.MinParticipants)
	assert.Equal(t, 4, tournament.MaxParticipants)
	assert.Equal(t, models.StatusRecruiting, tournament.Status)
	assert.Equal(t, 1, tournament.CurrentParticipants)

	// Creator is registered automatically.
	count, err := f.participantRepo.CountByTournament(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Contains(t, f.publisher.subjects(), events.SubjectTournamentCreated)
}

func TestGetByIDLoadsParticipantsAndMatches(t *testing.T) {
	f := newTournamentFixture(t)
	tournament, _ := f.create(t, 2, 4)

	// While recruiting only the participants are loaded.
	loaded, err := f.service.GetByID(context.Background(), tournament.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Participants, 1)
	assert.Equal(t, 1, loaded.CurrentParticipants)
	assert.Empty(t, loaded.Matches)

	for i := 0; i < 3; i++ {
		_, err := f.service.Join(context.Background(), JoinTournamentInput{
			TournamentID: tournament.ID,
			UserID:       uuid.New(),
		})
		require.NoError(t, err)
	}

	loaded, err = f.service.GetByID(context.Background(), tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, loaded.Status)
	assert.Len(t, loaded.Participants, 4)
	assert.Equal(t, 4, loaded.CurrentParticipants)
	assert.Len(t, loaded.Matches, 3)

	_, err = f.service.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestCreateTournamentRejectsBadBounds(t *testing.T) {
	f := newTournamentFixture(t)

	tests := []struct {
		name string
		min  int
		max  int
	}{
		{name: "min not power of two", min: 3, max: 8},
		{name: "max not power of two", min: 2, max: 6},
		{name: "min above max", min: 8, max: 4},
		{name: "max above cap", min: 2, max: 128},
		{name: "min below two", min: 1, max: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Create(context.Background(), CreateTournamentInput{
				CreatorID:       uuid.New(),
				Name:            "bad bounds",
				MinParticipants: tt.min,
				MaxParticipants: tt.max,
				IsPublic:        true,
			})
			assert.ErrorIs(t, err, ErrInvalidParticipantBounds)
		})
	}
}

func TestCreatePrivateTournamentRequiresPasscode(t *testing.T) {
	f := newTournamentFixture(t)

	_, err := f.service.Create(context.Background(), CreateTournamentInput{
		CreatorID: uuid.New(),
		Name:      "secret cup",
		IsPublic:  false,
	})
	assert.ErrorIs(t, err, ErrPasscodeRequired)

	passcode := "hunter2"
	tournament, err := f.service.Create(context.Background(), CreateTournamentInput{
		CreatorID: uuid.New(),
		Name:      "secret cup",
		IsPublic:  false,
		Passcode:  &passcode,
	})
	require.NoError(t, err)
	require.NotNil(t, tournament.PasscodeHash)
	assert.NotEqual(t, passcode, *tournament.PasscodeHash)
}

func TestJoinSetsReadinessOnceMinReached(t *testing.T) {
	f := newTournamentFixture(t)
	tournament, _ := f.create(t, 2, 4)

	_, err := f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: tournament.ID,
		UserID:       uuid.New(),
	})
	require.NoError(t, err)

	stored, err := f.tournamentRepo.GetByID(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentParticipants)
	assert.True(t, stored.ReadyToStart)
	require.NotNil(t, stored.ReadyAt)
	require.NotNil(t, stored.StartTimeoutAt)
	assert.Equal(t, stored.ReadyAt.Add(time.Minute), *stored.StartTimeoutAt)

	// A later join keeps the original window.
	firstDeadline := *stored.StartTimeoutAt
	f.clock.Advance(10 * time.Second)
	_, err = f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: tournament.ID,
		UserID:       uuid.New(),
	})
	require.NoError(t, err)

	stored, err = f.tournamentRepo.GetByID(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	if stored.Status == models.StatusRecruiting {
		assert.Equal(t, firstDeadline, *stored.StartTimeoutAt)
	}
}

func TestJoinPublishesParticipantCount(t *testing.T) {
	f := newTournamentFixture(t)
	tournament, _ := f.create(t, 2, 4)

	_, err := f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: tournament.ID,
		UserID:       uuid.New(),
	})
	require.NoError(t, err)

	var payload *events.PlayerRegisteredPayload
	for _, e := range f.publisher.events {
		if e.subject == events.SubjectPlayerRegistered {
			p := e.payload.(events.PlayerRegisteredPayload)
			payload = &p
		}
	}
	require.NotNil(t, payload)
	assert.Equal(t, 2, payload.Participants)
}

func TestJoinRejectsDuplicateAndFull(t *testing.T) {
	f := newTournamentFixture(t)
	tournament, creatorID := f.create(t, 2, 4)

	_, err := f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: tournament.ID,
		UserID:       creatorID,
	})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: uuid.New(),
		UserID:       uuid.New(),
	})
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestJoinPrivateTournamentChecksPasscode(t *testing.T) {
	f := newTournamentFixture(t)
	passcode := "hunter2"
	tournament, err := f.service.Create(context.Background(), CreateTournamentInput{
		CreatorID: uuid.New(),
		Name:      "secret cup",
		IsPublic:  false,
		Passcode:  &passcode,
	})
	require.NoError(t, err)

	_, err = f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: tournament.ID,
		UserID:       uuid.New(),
	})
	assert.ErrorIs(t, err, ErrPasscodeRequired)

	wrong := "wrong"
	_, err = f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: tournament.ID,
		UserID:       uuid.New(),
		Passcode:     &wrong,
	})
	assert.ErrorIs(t, err, ErrInvalidPasscode)

	_, err = f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: tournament.ID,
		UserID:       uuid.New(),
		Passcode:     &passcode,
	})
	assert.NoError(t, err)
}

func TestJoinAtCapacityStartsImmediately(t *testing.T) {
	f := newTournamentFixture(t)
	tournament, _ := f.create(t, 2, 4)

	for i := 0; i < 3; i++ {
		_, err := f.service.Join(context.Background(), JoinTournamentInput{
			TournamentID: tournament.ID,
			UserID:       uuid.New(),
		})
		require.NoError(t, err)
	}

	stored, err := f.tournamentRepo.GetByID(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)

	matches, err := f.matchRepo.ListByTournament(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	assert.Len(t, matches, 3)

	snapshot, err := f.snapshotRepo.LatestByTournament(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Version)

	assert.Contains(t, f.publisher.subjects(), events.SubjectTournamentStarted)

	// A join after the start is rejected.
	_, err = f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: tournament.ID,
		UserID:       uuid.New(),
	})
	assert.ErrorIs(t, err, ErrTournamentNotRecruiting)
}

func TestLeaveBelowMinClearsReadiness(t *testing.T) {
	f := newTournamentFixture(t)
	tournament, _ := f.create(t, 2, 4)

	userID := uuid.New()
	_, err := f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: tournament.ID,
		UserID:       userID,
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Leave(context.Background(), tournament.ID, userID))

	stored, err := f.tournamentRepo.GetByID(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentParticipants)
	assert.False(t, stored.ReadyToStart)
	assert.Nil(t, stored.ReadyAt)
	assert.Nil(t, stored.StartTimeoutAt)
}

func TestLeaveByCreatorDisbandsTournament(t *testing.T) {
	f := newTournamentFixture(t)
	tournament, creatorID := f.create(t, 2, 4)

	_, err := f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: tournament.ID,
		UserID:       uuid.New(),
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Leave(context.Background(), tournament.ID, creatorID))

	_, err = f.tournamentRepo.GetByID(context.Background(), nil, tournament.ID)
	assert.ErrorIs(t, err, repositories.ErrTournamentNotFound)

	count, err := f.participantRepo.CountByTournament(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	matches, err := f.matchRepo.ListByTournament(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	assert.Empty(t, matches)

	snapshots, err := f.snapshotRepo.ListByTournament(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestLeaveUnknownParticipant(t *testing.T) {
	f := newTournamentFixture(t)
	tournament, _ := f.create(t, 2, 4)

	err := f.service.Leave(context.Background(), tournament.ID, uuid.New())
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestManualStartRequiresCreator(t *testing.T) {
	f := newTournamentFixture(t)
	tournament, creatorID := f.create(t, 2, 4)

	_, err := f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: tournament.ID,
		UserID:       uuid.New(),
	})
	require.NoError(t, err)

	err = f.service.Start(context.Background(), tournament.ID, uuid.New(), models.StartReasonManual)
	assert.ErrorIs(t, err, ErrNotTournamentCreator)

	err = f.service.Start(context.Background(), tournament.ID, creatorID, models.StartReasonManual)
	require.NoError(t, err)

	stored, err := f.tournamentRepo.GetByID(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
}

func TestStartRejectsUnsupportedCount(t *testing.T) {
	f := newTournamentFixture(t)
	tournament, creatorID := f.create(t, 2, 8)

	// Three participants: above min, below max, not startable.
	for i := 0; i < 2; i++ {
		_, err := f.service.Join(context.Background(), JoinTournamentInput{
			TournamentID: tournament.ID,
			UserID:       uuid.New(),
		})
		require.NoError(t, err)
	}

	err := f.service.Start(context.Background(), tournament.ID, creatorID, models.StartReasonManual)
	assert.ErrorIs(t, err, ErrInvalidStartCount)

	stored, err := f.tournamentRepo.GetByID(context.Background(), nil, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRecruiting, stored.Status)
}

func TestStartTwiceFails(t *testing.T) {
	f := newTournamentFixture(t)
	tournament, creatorID := f.create(t, 2, 4)

	_, err := f.service.Join(context.Background(), JoinTournamentInput{
		TournamentID: tournament.ID,
		UserID:       uuid.New(),
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Start(context.Background(), tournament.ID, creatorID, models.StartReasonManual))
	err = f.service.Start(context.Background(), tournament.ID, creatorID, models.StartReasonManual)
	assert.ErrorIs(t, err, ErrTournamentNotRecruiting)
}
