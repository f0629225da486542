package session

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"math/big"
	"strings"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
	"github.com/victornm/gema/internal/store"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NormalizeCode returns the canonical (trimmed, uppercase) form of a session code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewCode returns a random session code without look-alike characters (0/O, 1/I).
func NewCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// RequireStaff fails with Unauthenticated unless the caller may host sessions.
func RequireStaff(caller *domain.Identity) error {
	if caller == nil {
		return errors.Unauthorized("authentication required")
	}
	if !caller.IsStaff() {
		return errors.Unauthorized("staff identity required")
	}
	return nil
}

// LockHostedSession locks the session for the rest of tx. A session hosted by someone
// else is reported as not found so its existence is not revealed.
func LockHostedSession(ctx context.Context, tx store.Tx, code string, caller *domain.Identity) (*domain.Session, error) {
	ss, err := tx.LockSessionByCode(ctx, NormalizeCode(code))
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errSessionNotFound(code)
	}
	if err != nil {
		return nil, err
	}

	if caller == nil || ss.HostID != caller.ID {
		return nil, errSessionNotFound(code)
	}
	return ss, nil
}

func errSessionNotFound(code string) error {
	return errors.NotFound("session %s not found", NormalizeCode(code))
}
