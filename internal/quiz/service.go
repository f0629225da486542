package quiz

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
	"github.com/victornm/gema/internal/session"
	"github.com/victornm/gema/internal/store"
)

const defaultPoints = 1000

type Config struct {
	Store store.Store
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service manages the question sets that sessions are played from.
type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		now:   c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateQuizRequest struct {
	Caller          *domain.Identity
	Title           string
	Description     string
	DefaultPoints   *int
	TimePerQuestion int
	Questions       []QuestionInput
}

type QuestionInput struct {
	Prompt         string
	Choices        []string
	CorrectAnswers []string
	Explanation    *string
	Points         *int
}

// CreateQuiz stores a quiz. Questions are ordered as given, starting at 0.
func (s *Service) CreateQuiz(ctx context.Context, req CreateQuizRequest) (*domain.Quiz, error) {
	if err := session.RequireStaff(req.Caller); err != nil {
		return nil, err
	}

	q, err := build(req)
	if err != nil {
		return nil, err
	}
	q.CreatedAt = s.now().UTC()

	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertQuiz(ctx, q)
	})
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			return nil, e
		}
		return nil, errors.Internal(fmt.Errorf("quiz: create: %w", err))
	}

	slog.InfoContext(ctx, fmt.Sprintf("quiz: created %q", q.Title),
		"quiz_id", q.ID,
		"questions", len(q.Questions),
		"actor", req.Caller.ID,
	)
	return q, nil
}

func build(req CreateQuizRequest) (*domain.Quiz, error) {
	q := &domain.Quiz{
		Title:           strings.TrimSpace(req.Title),
		Description:     strings.TrimSpace(req.Description),
		DefaultPoints:   defaultPoints,
		TimePerQuestion: req.TimePerQuestion,
	}
	if q.Title == "" {
		return nil, errors.Validation("title is required")
	}
	if req.DefaultPoints != nil {
		if *req.DefaultPoints < 0 {
			return nil, errors.Validation("default points must not be negative")
		}
		q.DefaultPoints = *req.DefaultPoints
	}
	if q.TimePerQuestion < 0 {
		return nil, errors.Validation("time per question must not be negative")
	}

	for i, in := range req.Questions {
		qq, err := buildQuestion(in)
		if err != nil {
			return nil, errors.Validation("question %d: %s", i+1, errors.Convert(err).Message)
		}
		qq.Order = i
		q.Questions = append(q.Questions, *qq)
	}
	return q, nil
}

func buildQuestion(in QuestionInput) (*domain.Question, error) {
	qq := &domain.Question{
		Prompt:      strings.TrimSpace(in.Prompt),
		Explanation: in.Explanation,
		Points:      in.Points,
	}
	if qq.Prompt == "" {
		return nil, errors.Validation("prompt is required")
	}
	if qq.Points != nil && *qq.Points < 0 {
		return nil, errors.Validation("points must not be negative")
	}

	choices := make(map[string]struct{}, len(in.Choices))
	for _, c := range in.Choices {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, errors.Validation("choices must not be blank")
		}
		if _, ok := choices[c]; ok {
			return nil, errors.Validation("duplicate choice %q", c)
		}
		choices[c] = struct{}{}
		qq.Choices = append(qq.Choices, c)
	}
	if len(qq.Choices) == 0 {
		return nil, errors.Validation("at least one choice is required")
	}

	for _, a := range in.CorrectAnswers {
		a = strings.TrimSpace(a)
		if _, ok := choices[a]; !ok {
			return nil, errors.Validation("correct answer %q is not a choice", a)
		}
		qq.CorrectAnswers = append(qq.CorrectAnswers, a)
	}
	if len(qq.CorrectAnswers) == 0 {
		return nil, errors.Validation("at least one correct answer is required")
	}
	return qq, nil
}
