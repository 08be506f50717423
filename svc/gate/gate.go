package gate

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"pastelock/pkg/domain"
)

type Outcome int

const (
	// Allow grants the read. Side effects (counter, burn, tracking) are
	// the caller's responsibility.
	Allow Outcome = iota
	// NotFound covers both absent and expired pastes; callers surface it
	// as "doesn't exist", never as an access denial.
	NotFound
	// Forbidden is a private paste with no admin session, no usable key
	// and no password gate.
	Forbidden
	// PasswordRequired is recoverable: the caller should prompt rather
	// than hard-fail.
	PasswordRequired
	// KeyDenied is a private paste where a key was supplied but did not
	// validate; Decision.KeyResult carries the precise reason.
	KeyDenied
)

type Decision struct {
	Outcome   Outcome
	KeyResult domain.VerifyResult
}

// Err maps a decision to the domain error a handler should surface.
// Allow maps to nil.
func (d Decision) Err() error {
	switch d.Outcome {
	case Allow:
		return nil
	case NotFound:
		return domain.ErrPasteNotFound
	case PasswordRequired:
		return domain.ErrPasswordRequired
	case KeyDenied:
		switch d.KeyResult {
		case domain.KeyIsRevoked:
			return domain.ErrKeyRevoked
		case domain.KeyOriginMismatch:
			return domain.ErrKeyOriginMismatch
		default:
			return domain.ErrKeyInvalid
		}
	default:
		return domain.ErrForbidden
	}
}

// KeyVerifier validates an access key against the requester's origin.
// *keys.Service satisfies it.
type KeyVerifier interface {
	Verify(ctx context.Context, key, origin string) (domain.VerifyResult, error)
}

// PasswordVerifier compares a supplied password against a stored hash.
// *auth.Hasher satisfies it.
type PasswordVerifier interface {
	Verify(password, encoded string) (bool, error)
}

type Gate struct {
	keys      KeyVerifier
	passwords PasswordVerifier
	now       func() time.Time
}

func New(keys KeyVerifier, passwords PasswordVerifier) *Gate {
	if keys == nil || passwords == nil {
		panic("gate: nil verifier")
	}
	return &Gate{keys: keys, passwords: passwords, now: time.Now}
}

// Evaluate decides whether a requester may read a paste. The rules run
// in a fixed order:
//
//  1. a missing or expired paste is NotFound;
//  2. a private paste needs an admin session, a valid access key, or,
//     when the paste carries its own password, the password gate below
//     stands in for the key requirement;
//  3. a password-gated paste needs an exact match, except that admins
//     opening the paste to edit it skip the prompt;
//  4. everything else is allowed.
//
// Evaluate has no side effects. Verifier infrastructure failures
// propagate as errors, never as a silent allow.
func (g *Gate) Evaluate(ctx context.Context, paste *domain.Paste, creds domain.Credentials) (Decision, error) {
	if paste == nil || paste.Expired(g.now()) {
		return Decision{Outcome: NotFound}, nil
	}

	if !paste.IsPublic && !creds.IsAdmin && paste.PasswordHash == "" {
		if creds.AccessKey == "" {
			return Decision{Outcome: Forbidden}, nil
		}
		result, err := g.keys.Verify(ctx, creds.AccessKey, creds.Origin)
		if err != nil {
			return Decision{}, errors.Wrap(err, "gate: key verify")
		}
		if result != domain.KeyValid {
			return Decision{Outcome: KeyDenied, KeyResult: result}, nil
		}
	}

	if paste.PasswordHash != "" {
		if creds.IsAdmin && creds.EditIntent {
			return Decision{Outcome: Allow}, nil
		}
		if creds.Password == "" {
			return Decision{Outcome: PasswordRequired}, nil
		}
		match, err := g.passwords.Verify(creds.Password, paste.PasswordHash)
		if err != nil {
			return Decision{}, errors.Wrap(err, "gate: password verify")
		}
		if !match {
			return Decision{Outcome: PasswordRequired}, nil
		}
	}

	return Decision{Outcome: Allow}, nil
}
