package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"factduel/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultQuestionTotal is the number of answers after which a duel ends.
	DefaultQuestionTotal = 10

	// TieLabel is the winner label of a drawn duel.
	TieLabel = "It's a tie!"

	maxFinishAttempts = 3
)

// Broadcaster delivers notifications to the connections that joined a room.
type Broadcaster interface {
	BroadcastToRoom(roomID, messageType string, payload interface{})
	BroadcastToRoomExcept(roomID, userID, messageType string, payload interface{})
	SendToRoomMember(roomID, userID, messageType string, payload interface{})
}

type YourScorePayload struct {
	YourScore int `json:"yourScore"`
}

type OpponentScorePayload struct {
	OpponentScore int `json:"opponentScore"`
}

// EndGameResult is the outcome of a duel; it doubles as the endGame payload.
type EndGameResult struct {
	RoomID       string `json:"-"`
	Winner       string `json:"winner"`
	Player1Score int    `json:"player1Score"`
	Player2Score int    `json:"player2Score"`
}

type ScoreUpdateResult struct {
	RoomID   string
	UserID   string
	Side     models.Side
	Score    int
	Answered int
	Ended    *EndGameResult
}

// DuelService owns the active -> completed lifecycle of duel sessions.
type DuelService struct {
	store         SessionStore
	ledger        ScoreLedger
	directory     Directory
	questionTotal int
	now           func() time.Time
	tracer        trace.Tracer
}

func NewDuelService(store SessionStore, ledger ScoreLedger, directory Directory, questionTotal int) *DuelService {
	if questionTotal <= 0 {
		questionTotal = DefaultQuestionTotal
	}
	return &DuelService{
		store:         store,
		ledger:        ledger,
		directory:     directory,
		questionTotal: questionTotal,
		now:           time.Now,
		tracer:        otel.Tracer("factduel/services"),
	}
}

// DetermineWinner names the player with the higher score, or TieLabel.
func DetermineWinner(score1, score2 int, name1, name2 string) string {
	switch {
	case score1 > score2:
		return name1
	case score1 < score2:
		return name2
	}
	return TieLabel
}

// nextScore never lowers a score below zero on an incorrect answer.
func nextScore(score int, isCorrect bool) int {
	if isCorrect {
		return score + 1
	}
	return max(0, score)
}

// StartDuel creates the session for a freshly paired room.
func (s *DuelService) StartDuel(ctx context.Context, roomID, player1ID, player2ID string) (session *models.DuelSession, err error) {
	ctx, span := s.tracer.Start(ctx, "duel.start", trace.WithAttributes(
		attribute.String("duel.room_id", roomID),
	))
	defer func() { endSpan(span, err) }()

	if player1ID == "" || player2ID == "" || player1ID == player2ID {
		return nil, ErrInvalidPlayers
	}

	now := s.now()
	session = &models.DuelSession{
		RoomID:    roomID,
		Player1ID: player1ID,
		Player2ID: player2ID,
		Status:    models.DuelActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	log.Printf("New game session %d created for %s (%s vs %s)", session.ID, roomID, player1ID, player2ID)
	return session, nil
}

func (s *DuelService) GetSession(ctx context.Context, roomID string) (*models.DuelSession, error) {
	return s.store.FindByRoom(ctx, roomID)
}

// RecordAnswer applies one answer to the caller's side of the duel, ends the
// duel once either side has answered every question, and sends the score
// notifications.
func (s *DuelService) RecordAnswer(ctx context.Context, roomID, userID string, isCorrect bool, hub Broadcaster) (result *ScoreUpdateResult, err error) {
	ctx, span := s.tracer.Start(ctx, "duel.record_answer", trace.WithAttributes(
		attribute.String("duel.room_id", roomID),
		attribute.String("duel.user_id", userID),
		attribute.Bool("duel.correct", isCorrect),
	))
	defer func() { endSpan(span, err) }()

	session, err := s.store.FindByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if session.IsCompleted() {
		return nil, ErrSessionAlreadyCompleted
	}
	side := session.SideOf(userID)
	if side == models.SideNone {
		return nil, ErrUnknownParticipant
	}

	current := session.ScoreOf(side)
	delta := nextScore(current, isCorrect) - current

	matched, err := s.store.UpdateFields(ctx, roomID, SessionUpdate{
		Where: map[string]interface{}{FieldStatus: models.DuelActive},
		Set:   map[string]interface{}{FieldUpdatedAt: s.now()},
		Incr: map[string]int64{
			scoreField(side):    int64(delta),
			answeredField(side): 1,
		},
	})
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, s.rejection(ctx, roomID)
	}

	fresh, err := s.store.FindByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	result = &ScoreUpdateResult{
		RoomID:   roomID,
		UserID:   userID,
		Side:     side,
		Score:    fresh.ScoreOf(side),
		Answered: fresh.AnsweredOf(side),
	}
	log.Printf("Game session %s updated: player %s score=%d answered=%d", roomID, userID, result.Score, result.Answered)

	s.writeLedger(ctx, roomID, userID, result.Score)

	if fresh.Player1Answered >= s.questionTotal || fresh.Player2Answered >= s.questionTotal {
		ended, transitioned, err := s.finish(ctx, fresh)
		if err != nil {
			log.Printf("Error ending game session %s after last answer: %v", roomID, err)
		} else if transitioned {
			result.Ended = ended
			if hub != nil {
				hub.BroadcastToRoom(roomID, EventEndGame, ended)
			}
		}
	}

	if hub != nil {
		hub.SendToRoomMember(roomID, userID, EventScoreUpdate, YourScorePayload{YourScore: result.Score})
		hub.BroadcastToRoomExcept(roomID, userID, EventScoreUpdate, OpponentScorePayload{OpponentScore: result.Score})
	}

	return result, nil
}

// EndByRequest ends the duel in roomID on behalf of one of its players using
// the current scores. A duel that already ended is not recomputed: the
// stored result is sent back to the requester.
func (s *DuelService) EndByRequest(ctx context.Context, roomID, userID string, hub Broadcaster) (result *EndGameResult, err error) {
	ctx, span := s.tracer.Start(ctx, "duel.end_by_request", trace.WithAttributes(
		attribute.String("duel.room_id", roomID),
		attribute.String("duel.user_id", userID),
	))
	defer func() { endSpan(span, err) }()

	if roomID == "" {
		return nil, ErrNotInDuel
	}

	session, err := s.store.FindByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if session.SideOf(userID) == models.SideNone {
		return nil, ErrUnknownParticipant
	}

	result, transitioned, err := s.finish(ctx, session)
	if err != nil {
		return nil, err
	}

	if hub != nil {
		if transitioned {
			hub.BroadcastToRoom(roomID, EventEndGame, result)
		} else {
			hub.SendToRoomMember(roomID, userID, EventEndGame, result)
		}
	}
	return result, nil
}

// ExpireIdle ends active duels nobody has touched for idleFor and returns
// how many it ended.
func (s *DuelService) ExpireIdle(ctx context.Context, idleFor time.Duration, limit int, hub Broadcaster) (ended int, err error) {
	ctx, span := s.tracer.Start(ctx, "duel.expire_idle")
	defer func() { endSpan(span, err) }()

	stale, err := s.store.ListStale(ctx, s.now().Add(-idleFor), limit)
	if err != nil {
		return 0, err
	}

	for i := range stale {
		session := &stale[i]
		result, transitioned, err := s.finish(ctx, session)
		if err != nil {
			log.Printf("Error ending idle game session %s: %v", session.RoomID, err)
			continue
		}
		if !transitioned {
			continue
		}
		ended++
		log.Printf("Idle game session %s ended, winner: %s", session.RoomID, result.Winner)
		if hub != nil {
			hub.BroadcastToRoom(session.RoomID, EventEndGame, result)
		}
	}
	return ended, nil
}

// finish moves session to completed. The flip only applies while status and
// both scores still equal the snapshot the winner was computed from, so the
// stored winner always matches the stored scores. transitioned is false when
// the session had already been completed; result is then the stored one.
func (s *DuelService) finish(ctx context.Context, session *models.DuelSession) (result *EndGameResult, transitioned bool, err error) {
	snapshot := session
	for attempt := 0; attempt < maxFinishAttempts; attempt++ {
		if snapshot.IsCompleted() {
			return storedResult(snapshot), false, nil
		}

		winner := DetermineWinner(
			snapshot.Player1Score, snapshot.Player2Score,
			s.winnerName(ctx, snapshot.Player1ID), s.winnerName(ctx, snapshot.Player2ID),
		)
		now := s.now()

		matched, err := s.store.UpdateFields(ctx, snapshot.RoomID, SessionUpdate{
			Where: map[string]interface{}{
				FieldStatus:       models.DuelActive,
				FieldPlayer1Score: snapshot.Player1Score,
				FieldPlayer2Score: snapshot.Player2Score,
			},
			Set: map[string]interface{}{
				FieldStatus:      models.DuelCompleted,
				FieldWinner:      winner,
				FieldCompletedAt: now,
				FieldUpdatedAt:   now,
			},
		})
		if err != nil {
			return nil, false, err
		}
		if matched == 1 {
			log.Printf("Game session %s completed: winner=%q %d-%d", snapshot.RoomID, winner, snapshot.Player1Score, snapshot.Player2Score)
			return &EndGameResult{
				RoomID:       snapshot.RoomID,
				Winner:       winner,
				Player1Score: snapshot.Player1Score,
				Player2Score: snapshot.Player2Score,
			}, true, nil
		}

		snapshot, err = s.store.FindByRoom(ctx, snapshot.RoomID)
		if err != nil {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("%w: session %s kept changing while ending", ErrStoreUnavailable, session.RoomID)
}

// rejection explains why a conditional update on roomID matched nothing.
func (s *DuelService) rejection(ctx context.Context, roomID string) error {
	session, err := s.store.FindByRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if session.IsCompleted() {
		return ErrSessionAlreadyCompleted
	}
	return fmt.Errorf("%w: update of %s did not apply", ErrStoreUnavailable, roomID)
}

func (s *DuelService) writeLedger(ctx context.Context, roomID, userID string, score int) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Record(ctx, roomID, userID, score); err != nil {
		log.Printf("Ledger write failed for %s/%s (score %d): %v", roomID, userID, score, err)
	}
}

// winnerName falls back to the user id so a winner label always identifies
// one player.
func (s *DuelService) winnerName(ctx context.Context, userID string) string {
	if s.directory == nil {
		return userID
	}
	name, ok, err := s.directory.LookupDisplayName(ctx, userID)
	if err != nil {
		log.Printf("Could not fetch user details for %s: %v", userID, err)
		return userID
	}
	if !ok {
		return userID
	}
	return name
}

func storedResult(session *models.DuelSession) *EndGameResult {
	return &EndGameResult{
		RoomID:       session.RoomID,
		Winner:       session.Winner,
		Player1Score: session.Player1Score,
		Player2Score: session.Player2Score,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
