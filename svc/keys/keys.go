package keys

import (
	"context"

	"github.com/pkg/errors"

	"pastelock/metrics"
	"pastelock/pkg/domain"
	"pastelock/svc/util"
)

// Store is the persistence surface the key service needs. *db.SQLite
// satisfies it.
type Store interface {
	CreateKey(ctx context.Context, key, identity string) (*domain.AccessKey, error)
	GetKey(ctx context.Context, key string) (*domain.AccessKey, error)
	ClaimOrigin(ctx context.Context, key, origin string) (bool, error)
	TouchKey(ctx context.Context, key string) error
	RevokeKey(ctx context.Context, id int64) error
	ListKeys(ctx context.Context) ([]domain.AccessKey, error)
	CreateRequest(ctx context.Context, identity, reason string) (*domain.AccessRequest, error)
	ListRequests(ctx context.Context) ([]domain.AccessRequest, error)
	ApproveRequest(ctx context.Context, id int64, key string) (*domain.AccessKey, error)
	DenyRequest(ctx context.Context, id int64) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	if store == nil {
		panic("keys service: nil store")
	}
	return &Service{store: store}
}

// Verify checks a key against its claimed origin. The first successful
// verification binds the key to the origin via a compare-and-set on the
// row, so exactly one origin can ever win the bind. Store failures
// propagate; they never degrade into a silent allow.
func (s *Service) Verify(ctx context.Context, key, origin string) (domain.VerifyResult, error) {
	k, err := s.store.GetKey(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrKeyInvalid) {
			metrics.KeyVerifications.WithLabelValues(domain.KeyInvalid.String()).Inc()
			return domain.KeyInvalid, nil
		}
		return domain.KeyInvalid, errors.Wrap(err, "verify: load key")
	}
	if k.Status != domain.KeyActive {
		metrics.KeyVerifications.WithLabelValues(domain.KeyIsRevoked.String()).Inc()
		return domain.KeyIsRevoked, nil
	}
	if k.ClaimedOrigin == "" {
		bound, err := s.store.ClaimOrigin(ctx, key, origin)
		if err != nil {
			return domain.KeyInvalid, errors.Wrap(err, "verify: claim origin")
		}
		if bound {
			util.Info().
				Str("key", util.RedactKey(key)).
				Str("origin", util.RedactIP(origin)).
				Msg("access key bound to first origin")
			metrics.KeyVerifications.WithLabelValues(domain.KeyValid.String()).Inc()
			return domain.KeyValid, nil
		}
		// Lost the bind race (or a concurrent revoke); re-read and fall
		// through to the plain comparison.
		k, err = s.store.GetKey(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrKeyInvalid) {
				metrics.KeyVerifications.WithLabelValues(domain.KeyInvalid.String()).Inc()
				return domain.KeyInvalid, nil
			}
			return domain.KeyInvalid, errors.Wrap(err, "verify: reload key")
		}
		if k.Status != domain.KeyActive {
			metrics.KeyVerifications.WithLabelValues(domain.KeyIsRevoked.String()).Inc()
			return domain.KeyIsRevoked, nil
		}
	}
	if k.ClaimedOrigin != origin {
		metrics.KeyVerifications.WithLabelValues(domain.KeyOriginMismatch.String()).Inc()
		return domain.KeyOriginMismatch, nil
	}
	if err := s.store.TouchKey(ctx, key); err != nil {
		// Last-used is advisory; a failed touch must not fail the read.
		util.Warn().Err(err).Str("key", util.RedactKey(key)).Msg("failed to update key last-used")
	}
	metrics.KeyVerifications.WithLabelValues(domain.KeyValid.String()).Inc()
	return domain.KeyValid, nil
}

func (s *Service) Generate(ctx context.Context, identity string) (*domain.AccessKey, error) {
	token, err := util.GenAccessKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key token")
	}
	k, err := s.store.CreateKey(ctx, token, identity)
	if err != nil {
		return nil, errors.Wrap(err, "persist key")
	}
	util.Info().Str("key", util.RedactKey(token)).Msg("access key generated")
	return k, nil
}

func (s *Service) Revoke(ctx context.Context, id int64) error {
	if err := s.store.RevokeKey(ctx, id); err != nil {
		return err
	}
	util.Info().Int64("key_id", id).Msg("access key revoked")
	return nil
}

func (s *Service) List(ctx context.Context) ([]domain.AccessKey, error) {
	return s.store.ListKeys(ctx)
}

func (s *Service) SubmitRequest(ctx context.Context, identity, reason string) (*domain.AccessRequest, error) {
	if identity == "" {
		identity = "Anonymous"
	}
	req, err := s.store.CreateRequest(ctx, identity, reason)
	if err != nil {
		return nil, err
	}
	util.Info().Str("identity", identity).Msg("new access request")
	return req, nil
}

func (s *Service) ListRequests(ctx context.Context) ([]domain.AccessRequest, error) {
	return s.store.ListRequests(ctx)
}

// Approve mints a fresh key for the requester and marks the request
// granted in one transaction.
func (s *Service) Approve(ctx context.Context, id int64) (*domain.AccessKey, error) {
	token, err := util.GenAccessKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key token")
	}
	k, err := s.store.ApproveRequest(ctx, id, token)
	if err != nil {
		return nil, err
	}
	util.Info().Int64("request_id", id).Str("key", util.RedactKey(token)).Msg("access request approved")
	return k, nil
}

func (s *Service) Deny(ctx context.Context, id int64) error {
	return s.store.DenyRequest(ctx, id)
}
