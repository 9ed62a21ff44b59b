package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
)

// In-memory fakes mirroring the postgres repositories, including their CAS
// error semantics, so services can be exercised without a database.

type fakeTxScope struct{}

func (fakeTxScope) WithinTransaction(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	return fn(nil)
}

type fakeTournamentRepo struct {
	mu          sync.Mutex
	tournaments map[uuid.UUID]*models.Tournament
}

func newFakeTournamentRepo() *fakeTournamentRepo {
	return &fakeTournamentRepo{tournaments: make(map[uuid.UUID]*models.Tournament)}
}

func (r *fakeTournamentRepo) Create(ctx context.Context, exec repositories.SQLExecutor, t *models.Tournament) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tournaments {
		if existing.CreatorID == t.CreatorID && existing.Name == t.Name {
			return repositories.ErrTournamentNameConflict
		}
	}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	copied := *t
	r.tournaments[t.ID] = &copied
	return nil
}

func (r *fakeTournamentRepo) get(id uuid.UUID) (*models.Tournament, error) {
	t, ok := r.tournaments[id]
	if !ok {
		return nil, repositories.ErrTournamentNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *fakeTournamentRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id uuid.UUID) (*models.Tournament, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *fakeTournamentRepo) GetByIDForUpdate(ctx context.Context, exec repositories.SQLExecutor, id uuid.UUID) (*models.Tournament, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *fakeTournamentRepo) List(ctx context.Context, filter repositories.ListTournamentsFilter) ([]*models.Tournament, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Tournament, 0)
	for _, t := range r.tournaments {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.CreatorID != nil && t.CreatorID != *filter.CreatorID {
			continue
		}
		copied := *t
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeTournamentRepo) UpdateRecruitingState(ctx context.Context, exec repositories.SQLExecutor, id uuid.UUID, count int, ready bool, readyAt, startTimeoutAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tournaments[id]
	if !ok || t.Status != models.StatusRecruiting {
		return repositories.ErrTournamentNotFound
	}
	t.CurrentParticipants = count
	t.ReadyToStart = ready
	t.ReadyAt = readyAt
	t.StartTimeoutAt = startTimeoutAt
	return nil
}

func (r *fakeTournamentRepo) MarkStarted(ctx context.Context, exec repositories.SQLExecutor, id uuid.UUID, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tournaments[id]
	if !ok {
		return repositories.ErrTournamentNotFound
	}
	if t.Status != models.StatusRecruiting {
		return repositories.ErrTournamentStateStale
	}
	t.Status = models.StatusInProgress
	t.StartedAt = &startedAt
	t.ReadyToStart = false
	t.ReadyAt = nil
	t.StartTimeoutAt = nil
	return nil
}

func (r *fakeTournamentRepo) MarkFinished(ctx context.Context, exec repositories.SQLExecutor, id uuid.UUID, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tournaments[id]
	if !ok {
		return repositories.ErrTournamentNotFound
	}
	if t.Status != models.StatusInProgress {
		return repositories.ErrTournamentStateStale
	}
	t.Status = models.StatusFinished
	t.FinishedAt = &finishedAt
	return nil
}

func (r *fakeTournamentRepo) Delete(ctx context.Context, exec repositories.SQLExecutor, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tournaments[id]; !ok {
		return repositories.ErrTournamentNotFound
	}
	delete(r.tournaments, id)
	return nil
}

func (r *fakeTournamentRepo) ListStartTimedOut(ctx context.Context, now time.Time) ([]*models.Tournament, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Tournament, 0)
	for _, t := range r.tournaments {
		if t.Status == models.StatusRecruiting && t.StartTimeoutAt != nil && !t.StartTimeoutAt.After(now) {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

type fakeParticipantRepo struct {
	mu           sync.Mutex
	participants map[uuid.UUID]*models.Participant
}

func newFakeParticipantRepo() *fakeParticipantRepo {
	return &fakeParticipantRepo{participants: make(map[uuid.UUID]*models.Participant)}
}

func (r *fakeParticipantRepo) Create(ctx context.Context, exec repositories.SQLExecutor, p *models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.participants {
		if existing.TournamentID == p.TournamentID && existing.UserID == p.UserID {
			return repositories.ErrParticipantConflict
		}
	}
	p.JoinedAt = time.Now().UTC()
	copied := *p
	r.participants[p.ID] = &copied
	return nil
}

func (r *fakeParticipantRepo) FindByUserAndTournament(ctx context.Context, exec repositories.SQLExecutor, userID, tournamentID uuid.UUID) (*models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants {
		if p.TournamentID == tournamentID && p.UserID == userID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, repositories.ErrParticipantNotFound
}

func (r *fakeParticipantRepo) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID uuid.UUID) ([]*models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Participant, 0)
	for _, p := range r.participants {
		if p.TournamentID == tournamentID {
			copied := *p
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *fakeParticipantRepo) CountByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID uuid.UUID) (int, error) {
	list, _ := r.ListByTournament(ctx, exec, tournamentID)
	return len(list), nil
}

func (r *fakeParticipantRepo) UpdateStatusByUser(ctx context.Context, exec repositories.SQLExecutor, tournamentID, userID uuid.UUID, status models.ParticipantStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants {
		if p.TournamentID == tournamentID && p.UserID == userID {
			p.Status = status
			return nil
		}
	}
	return repositories.ErrParticipantNotFound
}

func (r *fakeParticipantRepo) Delete(ctx context.Context, exec repositories.SQLExecutor, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[id]; !ok {
		return repositories.ErrParticipantNotFound
	}
	delete(r.participants, id)
	return nil
}

func (r *fakeParticipantRepo) DeleteByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.participants {
		if p.TournamentID == tournamentID {
			delete(r.participants, id)
		}
	}
	return nil
}

type fakeMatchRepo struct {
	mu      sync.Mutex
	matches map[uuid.UUID]*models.Match
}

func newFakeMatchRepo() *fakeMatchRepo {
	return &fakeMatchRepo{matches: make(map[uuid.UUID]*models.Match)}
}

func (r *fakeMatchRepo) CreateBatch(ctx context.Context, exec repositories.SQLExecutor, matches []*models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range matches {
		m.CreatedAt = time.Now().UTC()
		copied := *m
		r.matches[m.ID] = &copied
	}
	return nil
}

func (r *fakeMatchRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id uuid.UUID) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *fakeMatchRepo) GetByGameID(ctx context.Context, exec repositories.SQLExecutor, gameID string) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.matches {
		if m.GameID != nil && *m.GameID == gameID {
			copied := *m
			return &copied, nil
		}
	}
	return nil, repositories.ErrMatchNotFound
}

func (r *fakeMatchRepo) GetByRoundPosition(ctx context.Context, exec repositories.SQLExecutor, tournamentID uuid.UUID, round, position int) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.matches {
		if m.TournamentID == tournamentID && m.Round == round && m.MatchPosition == position {
			copied := *m
			return &copied, nil
		}
	}
	return nil, repositories.ErrMatchNotFound
}

func (r *fakeMatchRepo) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID uuid.UUID) ([]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Match, 0)
	for _, m := range r.matches {
		if m.TournamentID == tournamentID {
			copied := *m
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].MatchPosition < out[j].MatchPosition
	})
	return out, nil
}

func (r *fakeMatchRepo) MaxRound(ctx context.Context, exec repositories.SQLExecutor, tournamentID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, m := range r.matches {
		if m.TournamentID == tournamentID && m.Round > max {
			max = m.Round
		}
	}
	return max, nil
}

func (r *fakeMatchRepo) ClaimGame(ctx context.Context, exec repositories.SQLExecutor, matchID uuid.UUID, gameID string, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	if m.Status != models.MatchPending || m.GameID != nil {
		return repositories.ErrMatchAlreadyClaimed
	}
	m.GameID = &gameID
	m.Status = models.MatchInProgress
	m.StartedAt = &startedAt
	return nil
}

func (r *fakeMatchRepo) RecordResult(ctx context.Context, exec repositories.SQLExecutor, matchID, winnerID uuid.UUID, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	if m.Status == models.MatchFinished {
		return repositories.ErrMatchAlreadyFinished
	}
	m.Status = models.MatchFinished
	m.WinnerID = &winnerID
	m.FinishedAt = &finishedAt
	return nil
}

func (r *fakeMatchRepo) FillPlayerSlot(ctx context.Context, exec repositories.SQLExecutor, matchID uuid.UUID, slot int, playerID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	switch slot {
	case 1:
		if m.Player1ID != nil {
			return repositories.ErrMatchSlotTaken
		}
		m.Player1ID = &playerID
	case 2:
		if m.Player2ID != nil {
			return repositories.ErrMatchSlotTaken
		}
		m.Player2ID = &playerID
	}
	return nil
}

func (r *fakeMatchRepo) DeleteByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.matches {
		if m.TournamentID == tournamentID {
			delete(r.matches, id)
		}
	}
	return nil
}

type fakeSnapshotRepo struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID][]*models.BracketSnapshot
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{snapshots: make(map[uuid.UUID][]*models.BracketSnapshot)}
}

func (r *fakeSnapshotRepo) Create(ctx context.Context, exec repositories.SQLExecutor, tournamentID uuid.UUID, state json.RawMessage) (*models.BracketSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := &models.BracketSnapshot{
		ID:           uuid.New(),
		TournamentID: tournamentID,
		Version:      len(r.snapshots[tournamentID]) + 1,
		State:        state,
		CreatedAt:    time.Now().UTC(),
	}
	r.snapshots[tournamentID] = append(r.snapshots[tournamentID], snapshot)
	return snapshot, nil
}

func (r *fakeSnapshotRepo) LatestByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID uuid.UUID) (*models.BracketSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.snapshots[tournamentID]
	if len(list) == 0 {
		return nil, repositories.ErrSnapshotNotFound
	}
	return list[len(list)-1], nil
}

func (r *fakeSnapshotRepo) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID uuid.UUID) ([]*models.BracketSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[tournamentID], nil
}

func (r *fakeSnapshotRepo) DeleteByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snapshots, tournamentID)
	return nil
}

type publishedEvent struct {
	subject string
	payload interface{}
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *capturingPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{subject: subject, payload: payload})
	return nil
}

func (p *capturingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.subject)
	}
	return out
}

type fakeGameClient struct {
	mu      sync.Mutex
	calls   int
	nextErr error
	gameIDs []string
	// onCreate runs while the request is "in flight", before the result is
	// returned. Tests use it to act as a concurrent caller.
	onCreate func(matchID uuid.UUID)
}

func (c *fakeGameClient) CreateGame(ctx context.Context, tournamentID, matchID, playerID, opponentID uuid.UUID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.onCreate != nil {
		c.onCreate(matchID)
	}
	if c.nextErr != nil {
		err := c.nextErr
		c.nextErr = nil
		return "", err
	}
	gameID := "game-" + matchID.String()
	c.gameIDs = append(c.gameIDs, gameID)
	return gameID, nil
}
