package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bazaarhub/api/internal/repositories"
)

// CouponServiceDeps bundles dependencies required to construct a CouponService implementation.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type couponService struct {
	repo   repositories.CouponRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCouponService wires a CouponService backed by the provided repository.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, ErrCouponRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		repo:   deps.Coupons,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Validate checks a code against the cart subtotal. Rejections follow a
// fixed precedence: an already applied coupon short-circuits before any
// lookup, then unknown, inactive, expired, and finally below-minimum.
func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidationResult, error) {
	if s == nil || s.repo == nil {
		return CouponValidationResult{}, ErrCouponRepositoryMissing
	}

	normalized := normalizeCouponCode(cmd.Code)
	if normalized == "" {
		return CouponValidationResult{}, ErrCouponInvalidCode
	}
	if cmd.Subtotal < 0 {
		return CouponValidationResult{}, ErrCouponInvalidCode
	}
	if strings.TrimSpace(cmd.AppliedCode) != "" {
		return CouponValidationResult{}, ErrCouponAlreadyApplied
	}

	coupon, err := s.lookup(ctx, normalized)
	if err != nil {
		return CouponValidationResult{}, err
	}

	now := s.clock()
	if !coupon.Active {
		return CouponValidationResult{}, ErrCouponInactive
	}
	if couponExpired(coupon.ExpiresAt, now) {
		return CouponValidationResult{}, ErrCouponExpired
	}
	if cmd.Subtotal < coupon.MinPurchase {
		return CouponValidationResult{}, ErrCouponBelowMinimum
	}

	return CouponValidationResult{
		Code:     coupon.Code,
		Discount: couponDiscount(coupon, cmd.Subtotal),
	}, nil
}

// Revalidate recomputes the discount for a coupon already attached to a
// cart. The discount is always derived from scratch against the new
// subtotal; a coupon that stopped qualifying is reported as detached
// rather than as an error.
func (s *couponService) Revalidate(ctx context.Context, cmd RevalidateCouponCommand) (CouponRevalidationResult, error) {
	if s == nil || s.repo == nil {
		return CouponRevalidationResult{}, ErrCouponRepositoryMissing
	}

	normalized := normalizeCouponCode(cmd.Code)
	if normalized == "" || cmd.Subtotal < 0 {
		return CouponRevalidationResult{Code: normalized, Detached: true, Reason: CouponDetachInvalid}, nil
	}

	coupon, err := s.lookup(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return CouponRevalidationResult{Code: normalized, Detached: true, Reason: CouponDetachInvalid}, nil
		}
		return CouponRevalidationResult{}, err
	}

	now := s.clock()
	switch {
	case !coupon.Active:
		return CouponRevalidationResult{Code: coupon.Code, Detached: true, Reason: CouponDetachInactive}, nil
	case couponExpired(coupon.ExpiresAt, now):
		return CouponRevalidationResult{Code: coupon.Code, Detached: true, Reason: CouponDetachExpired}, nil
	case cmd.Subtotal < coupon.MinPurchase:
		return CouponRevalidationResult{Code: coupon.Code, Detached: true, Reason: CouponDetachBelowMinimum}, nil
	}

	return CouponRevalidationResult{
		Code:     coupon.Code,
		Discount: couponDiscount(coupon, cmd.Subtotal),
	}, nil
}

// RecordUsage bumps the per-user usage counter after checkout. Failures
// are logged and swallowed so a counter hiccup never breaks an order.
func (s *couponService) RecordUsage(ctx context.Context, code string, userID string) error {
	if s == nil || s.repo == nil {
		return ErrCouponRepositoryMissing
	}
	normalized := normalizeCouponCode(code)
	if normalized == "" {
		return ErrCouponInvalidCode
	}
	coupon, err := s.lookup(ctx, normalized)
	if err != nil {
		return err
	}
	if err := s.repo.IncrementUsage(ctx, coupon.ID, strings.TrimSpace(userID), s.clock()); err != nil {
		s.logger(ctx, "coupon.usage_record_failed", map[string]any{
			"code":  normalized,
			"error": err.Error(),
		})
	}
	return nil
}

func (s *couponService) lookup(ctx context.Context, code string) (Coupon, error) {
	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return Coupon{}, ErrCouponNotFound
		}
		return Coupon{}, ErrCouponUnavailable
	}
	return coupon, nil
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// couponExpired treats the expiry date as valid through the end of its
// day: the coupon dies at the first midnight after the stored timestamp.
func couponExpired(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil || expiresAt.IsZero() {
		return false
	}
	exp := expiresAt.UTC()
	dayEnd := time.Date(exp.Year(), exp.Month(), exp.Day()+1, 0, 0, 0, 0, time.UTC)
	return !now.Before(dayEnd)
}

func couponDiscount(coupon Coupon, subtotal int64) int64 {
	switch coupon.Type {
	case CouponTypeFlat:
		if coupon.Value > subtotal {
			return subtotal
		}
		return coupon.Value
	case CouponTypePercentage:
		// Uncapped: a 100% coupon zeroes the subtotal.
		return subtotal * coupon.Value / 100
	default:
		return 0
	}
}
