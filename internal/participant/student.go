package participant

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
	"github.com/victornm/gema/internal/session"
	"github.com/victornm/gema/internal/store"
)

type RegisterStudentRequest struct {
	Caller        *domain.Identity
	StudentNumber string
	Name          string
}

// RegisterStudent adds a student account that join requests can link to.
func (s *Service) RegisterStudent(ctx context.Context, req RegisterStudentRequest) (*domain.Student, error) {
	if err := session.RequireStaff(req.Caller); err != nil {
		return nil, err
	}

	st := &domain.Student{
		StudentNumber: strings.TrimSpace(req.StudentNumber),
		Name:          strings.TrimSpace(req.Name),
	}
	if st.StudentNumber == "" {
		return nil, errors.Validation("student number is required")
	}
	if st.Name == "" {
		return nil, errors.Validation("name is required")
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertStudent(ctx, st)
	})
	if stderrors.Is(err, store.ErrConflict) {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("student number %s is already registered", st.StudentNumber),
			errors.WithCause(err),
		)
	}
	if err != nil {
		return nil, wrap("register student", err)
	}
	return st, nil
}
