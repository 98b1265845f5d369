package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/vizboard/vizboard-backend/internal/clients/redis"
	"github.com/vizboard/vizboard-backend/internal/config"
	accountrepo "github.com/vizboard/vizboard-backend/internal/data/repos/account"
	types "github.com/vizboard/vizboard-backend/internal/domain/account"
	"github.com/vizboard/vizboard-backend/internal/pkg/apperr"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
)

const (
	DenyReasonTokens         = "insufficient_tokens"
	DenyReasonRateLimited    = "rate_limited"
	DenyReasonLimiterDown    = "rate_limiter_unavailable"
	DenyReasonUnconfiguredOp = "operation_class_not_configured"
)

// AdmissionDecision is the outcome of a check. Remaining and ResetAt give
// the caller actionable quota information on denials.
type AdmissionDecision struct {
	Allowed   bool
	Reason    string
	Tier      types.Tier
	Remaining int64
	ResetAt   time.Time
}

// AdmissionService is the single chokepoint for token-balance and rate-limit
// state. No other component reads or mutates accounts or rate windows.
//
// Per request: CHECK happens-before the costed operation happens-before
// CHARGE. Checks never mutate tokens_used; Charge is only called after the
// gated operation concretely succeeded.
type AdmissionService interface {
	CheckAdmission(ctx context.Context, userID uuid.UUID, class types.OperationClass, cost int64) (*AdmissionDecision, error)
	CheckBalance(ctx context.Context, userID uuid.UUID, cost int64) (*AdmissionDecision, error)
	CheckRateLimit(ctx context.Context, userID uuid.UUID, tier types.Tier, class types.OperationClass) (*AdmissionDecision, error)
	Charge(ctx context.Context, userID uuid.UUID, cost int64) error
	Usage(ctx context.Context, userID uuid.UUID) (*types.UsageAccount, error)
}

type admissionService struct {
	db       *gorm.DB
	log      *logger.Logger
	accounts accountrepo.UsageAccountRepo
	kv       redis.KV // nil means the limiter store is unconfigured: fail closed
	limits   *config.Limits

	sf  singleflight.Group
	now func() time.Time
}

func NewAdmissionService(db *gorm.DB, log *logger.Logger, accounts accountrepo.UsageAccountRepo, kv redis.KV, limits *config.Limits) AdmissionService {
	return &admissionService{
		db:       db,
		log:      log.With("service", "AdmissionService"),
		accounts: accounts,
		kv:       kv,
		limits:   limits,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// loadAccount returns the user's account, creating it lazily on first use and
// applying the lazy monthly reset when due. Concurrent first checks for the
// same user are collapsed through singleflight; the repo's unique-violation
// fallback covers races across processes.
func (s *admissionService) loadAccount(ctx context.Context, userID uuid.UUID) (*types.UsageAccount, error) {
	v, err, _ := s.sf.Do(userID.String(), func() (any, error) {
		now := s.now()
		acct, err := s.accounts.GetOrCreate(ctx, nil, &types.UsageAccount{
			UserID:      userID,
			Tier:        s.limits.DefaultTier,
			TokensLimit: s.limits.TokensLimit(s.limits.DefaultTier),
			ResetDate:   types.NextResetDate(now),
		})
		if err != nil {
			return nil, err
		}
		if !now.Before(acct.ResetDate) {
			next := types.NextResetDate(now)
			if err := s.accounts.ResetUsage(ctx, nil, acct.ID, next); err != nil {
				return nil, err
			}
			acct.TokensUsed = 0
			acct.ResetDate = next
		}
		return acct, nil
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeUpstreamUnavailable, "admission.loadAccount", err)
	}
	return v.(*types.UsageAccount), nil
}

func (s *admissionService) CheckBalance(ctx context.Context, userID uuid.UUID, cost int64) (*AdmissionDecision, error) {
	if userID == uuid.Nil {
		return nil, apperr.Newf(apperr.CodeUnauthenticated, "admission.CheckBalance", "missing user id")
	}
	if cost < 0 {
		return nil, apperr.Newf(apperr.CodeValidation, "admission.CheckBalance", "negative cost")
	}
	acct, err := s.loadAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.balanceDecision(acct, cost), nil
}

func (s *admissionService) balanceDecision(acct *types.UsageAccount, cost int64) *AdmissionDecision {
	remaining := acct.TokensLimit - acct.TokensUsed
	if remaining < 0 {
		remaining = 0
	}
	dec := &AdmissionDecision{
		Allowed:   acct.TokensUsed+cost <= acct.TokensLimit,
		Tier:      acct.Tier,
		Remaining: remaining,
		ResetAt:   acct.ResetDate,
	}
	if !dec.Allowed {
		dec.Reason = DenyReasonTokens
	}
	return dec
}

// CheckRateLimit is a fixed-window counter on the KV store. The first hit in
// a window sets the TTL; once the counter exceeds the configured ceiling the
// class is denied until the window expires. Any limiter-store failure denies:
// accounting unavailability is never a bypass.
func (s *admissionService) CheckRateLimit(ctx context.Context, userID uuid.UUID, tier types.Tier, class types.OperationClass) (*AdmissionDecision, error) {
	if userID == uuid.Nil {
		return nil, apperr.Newf(apperr.CodeUnauthenticated, "admission.CheckRateLimit", "missing user id")
	}
	if !types.ValidOperationClass(class) {
		return nil, apperr.Newf(apperr.CodeValidation, "admission.CheckRateLimit", "unknown operation class %q", class)
	}

	rl, ok := s.limits.Rate(tier, class)
	if !ok {
		return &AdmissionDecision{Allowed: false, Reason: DenyReasonUnconfiguredOp, Tier: tier}, nil
	}
	window := time.Duration(rl.WindowSeconds) * time.Second

	if s.kv == nil {
		s.log.Warn("Rate limiter store unconfigured, denying", "class", class, "user_id", userID)
		return &AdmissionDecision{Allowed: false, Reason: DenyReasonLimiterDown, Tier: tier, ResetAt: s.now().Add(window)}, nil
	}

	key := fmt.Sprintf("rl:%s:%s", class, userID)
	count, err := s.kv.Incr(ctx, key)
	if err != nil {
		s.log.Warn("Rate limiter store unreachable, denying", "class", class, "user_id", userID, "error", err)
		return &AdmissionDecision{Allowed: false, Reason: DenyReasonLimiterDown, Tier: tier, ResetAt: s.now().Add(window)}, nil
	}
	if count == 1 {
		if err := s.kv.Expire(ctx, key, window); err != nil {
			s.log.Warn("Rate window TTL set failed, denying", "class", class, "user_id", userID, "error", err)
			return &AdmissionDecision{Allowed: false, Reason: DenyReasonLimiterDown, Tier: tier, ResetAt: s.now().Add(window)}, nil
		}
	}

	ttl, err := s.kv.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		// Counter without expiry would lock the class out forever; repair it.
		ttl = window
		_ = s.kv.Expire(ctx, key, window)
	}

	dec := &AdmissionDecision{
		Allowed:   count <= int64(rl.Limit),
		Tier:      tier,
		Remaining: max64(int64(rl.Limit)-count, 0),
		ResetAt:   s.now().Add(ttl),
	}
	if !dec.Allowed {
		dec.Reason = DenyReasonRateLimited
	}
	return dec, nil
}

// CheckAdmission combines both gates. The account load is sequential (the
// rate ceiling depends on the tier); the lazy-reset write and the limiter
// round-trip then run concurrently. Two simultaneous requests can both pass
// before either charges; the transient overshoot is bounded by one in-flight
// cost and accepted.
func (s *admissionService) CheckAdmission(ctx context.Context, userID uuid.UUID, class types.OperationClass, cost int64) (*AdmissionDecision, error) {
	if userID == uuid.Nil {
		return nil, apperr.Newf(apperr.CodeUnauthenticated, "admission.CheckAdmission", "missing user id")
	}
	acct, err := s.loadAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	var rateDec *AdmissionDecision
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dec, rErr := s.CheckRateLimit(gctx, userID, acct.Tier, class)
		if rErr != nil {
			return rErr
		}
		rateDec = dec
		return nil
	})
	balanceDec := s.balanceDecision(acct, cost)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !rateDec.Allowed {
		return rateDec, nil
	}
	return balanceDec, nil
}

// Charge unconditionally adds cost to the ledger. Callers invoke it only
// after the gated operation succeeded; there is no rollback path.
func (s *admissionService) Charge(ctx context.Context, userID uuid.UUID, cost int64) error {
	if userID == uuid.Nil {
		return apperr.Newf(apperr.CodeUnauthenticated, "admission.Charge", "missing user id")
	}
	if cost == 0 {
		return nil
	}
	if err := s.accounts.IncrementUsage(ctx, nil, userID, cost); err != nil {
		return apperr.New(apperr.CodeUpstreamUnavailable, "admission.Charge", err)
	}
	return nil
}

func (s *admissionService) Usage(ctx context.Context, userID uuid.UUID) (*types.UsageAccount, error) {
	if userID == uuid.Nil {
		return nil, apperr.Newf(apperr.CodeUnauthenticated, "admission.Usage", "missing user id")
	}
	return s.loadAccount(ctx, userID)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
