package score

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
	"github.com/victornm/gema/internal/event"
	"github.com/victornm/gema/internal/session"
	"github.com/victornm/gema/internal/store"
)

const accuracyPlaces = 4

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service records participant answers and keeps participant totals up to date.
type Service struct {
	store store.Store
	eb    *event.Bus
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		eb:    c.EventBus,
		now:   c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type SubmitAnswerRequest struct {
	Code          string
	ParticipantID string
	QuestionID    string
	Answers       []string
}

type SubmitAnswerResponse struct {
	Correct       bool
	Points        decimal.Decimal
	TotalScore    decimal.Decimal
	Accuracy      decimal.Decimal
	ResponseCount int
}

// SubmitAnswer scores one answer of a participant. Each question can be answered once.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	answers := normalizeAnswers(req.Answers)
	if len(answers) == 0 {
		return nil, errors.Validation("at least one answer is required")
	}

	var (
		resp *SubmitAnswerResponse
		ss   *domain.Session
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ss, err = tx.SessionByCode(ctx, session.NormalizeCode(req.Code))
		if stderrors.Is(err, store.ErrNotFound) {
			return errors.NotFound("session %s not found", session.NormalizeCode(req.Code))
		}
		if err != nil {
			return err
		}

		p, err := tx.ParticipantByID(ctx, ss.ID, req.ParticipantID)
		if stderrors.Is(err, store.ErrNotFound) {
			return errors.NotFound("participant %s not found", req.ParticipantID)
		}
		if err != nil {
			return err
		}
		if p.IsKicked {
			return errors.Forbidden("removed from session")
		}

		quiz, err := tx.QuizByID(ctx, ss.QuizID)
		if err != nil {
			return err
		}
		q := findQuestion(quiz, req.QuestionID)
		if q == nil {
			return errors.NotFound("question %s not found", req.QuestionID)
		}

		now := s.now().UTC()
		if err := checkAnswerable(ss, quiz, q, now); err != nil {
			return err
		}

		r := &domain.Response{
			SessionID:     ss.ID,
			ParticipantID: p.ID,
			QuestionID:    q.ID,
			Answers:       answers,
			IsCorrect:     sameSet(answers, normalizeAnswers(q.CorrectAnswers)),
			Points:        decimal.Zero,
			CreatedAt:     now,
		}
		if r.IsCorrect {
			r.Points = decimal.NewFromInt(int64(q.PointsIn(*quiz)))
		}

		if err := tx.InsertResponse(ctx, r); err != nil {
			if stderrors.Is(err, store.ErrConflict) {
				return errors.New(errors.CodeAlreadyExists,
					errors.WithMessagef("answer is already submitted: participant=%s question=%s", p.ID, q.ID),
					errors.WithCause(err),
				)
			}
			return err
		}

		correct, err := tx.CountCorrectResponses(ctx, p.ID)
		if err != nil {
			return err
		}

		p.Score = p.Score.Add(r.Points)
		p.ResponseCount++
		p.Accuracy = Accuracy(correct, p.ResponseCount)
		p.LastSeenAt = now
		if err := tx.UpdateParticipant(ctx, p); err != nil {
			return err
		}

		resp = &SubmitAnswerResponse{
			Correct:       r.IsCorrect,
			Points:        r.Points,
			TotalScore:    p.Score,
			Accuracy:      p.Accuracy,
			ResponseCount: p.ResponseCount,
		}
		return nil
	})
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			return nil, e
		}
		return nil, errors.Internal(fmt.Errorf("score: submit answer: %w", err))
	}

	slog.DebugContext(ctx, "score: answer recorded",
		"session", ss.Code,
		"participant_id", req.ParticipantID,
		"question_id", req.QuestionID,
		"correct", resp.Correct,
	)

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventAnswerSubmitted{
			SessionID:     ss.ID,
			SessionCode:   ss.Code,
			ParticipantID: req.ParticipantID,
			QuestionID:    req.QuestionID,
			Correct:       resp.Correct,
			Points:        resp.Points,
		})
	}

	return resp, nil
}

// Accuracy is the share of correct responses, rounded to four decimal places.
func Accuracy(correct, total int) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(correct)).
		DivRound(decimal.NewFromInt(int64(total)), accuracyPlaces)
}

func checkAnswerable(ss *domain.Session, quiz *domain.Quiz, q *domain.Question, now time.Time) error {
	if ss.Mode == domain.ModeHomework {
		if ss.HomeworkWindowStart != nil && now.Before(*ss.HomeworkWindowStart) {
			return errors.Forbidden("homework window not started")
		}
		if ss.HomeworkWindowEnd != nil && now.After(*ss.HomeworkWindowEnd) {
			return errors.Forbidden("homework window ended")
		}
		return nil
	}

	if ss.Status != domain.StatusActive {
		return errors.InvalidState("session %s is not accepting answers", ss.Code)
	}
	if ss.CurrentQuestionID == nil || *ss.CurrentQuestionID != q.ID {
		return errors.InvalidState("question %s is not in play", q.ID)
	}
	if quiz.TimePerQuestion > 0 && ss.CurrentQuestionStartedAt != nil {
		deadline := ss.CurrentQuestionStartedAt.Add(time.Duration(quiz.TimePerQuestion) * time.Second)
		if now.After(deadline) {
			return errors.InvalidState("time is up for question %s", q.ID)
		}
	}
	return nil
}

func findQuestion(quiz *domain.Quiz, id string) *domain.Question {
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == id {
			return &quiz.Questions[i]
		}
	}
	return nil
}

// normalizeAnswers trims answers and drops blanks and duplicates, keeping order.
func normalizeAnswers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}
