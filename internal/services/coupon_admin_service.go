package services

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/repositories"
)

// ErrCouponCodeTaken indicates an insert against an existing code.
var ErrCouponCodeTaken = errors.New("coupon admin: code already exists")

// CouponAdminService manages coupon definitions on behalf of administrators.
type CouponAdminService interface {
	Create(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	Update(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	Get(ctx context.Context, code string) (Coupon, error)
	List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[Coupon], error)
}

// UpsertCouponCommand carries the editable coupon fields. On update, nil
// pointers and zero values leave the stored value untouched.
type UpsertCouponCommand struct {
	Code        string
	Type        CouponType
	Value       int64
	MinPurchase *int64
	ExpiresAt   *time.Time
	Active      *bool
	Metadata    map[string]any
}

// CouponAdminServiceDeps bundles dependencies for NewCouponAdminService.
type CouponAdminServiceDeps struct {
	Coupons     repositories.CouponRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type couponAdminService struct {
	repo   repositories.CouponRepository
	clock  clock
	idGen  func() string
	logger func(context.Context, string, map[string]any)
}

// NewCouponAdminService wires a CouponAdminService backed by the provided repository.
func NewCouponAdminService(deps CouponAdminServiceDeps) (CouponAdminService, error) {
	if deps.Coupons == nil {
		return nil, ErrCouponRepositoryMissing
	}
	clk := deps.Clock
	if clk == nil {
		clk = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponAdminService{
		repo:   deps.Coupons,
		clock:  func() time.Time { return clk().UTC() },
		idGen:  idGen,
		logger: logger,
	}, nil
}

func (s *couponAdminService) Create(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	normalized := normalizeCouponCode(cmd.Code)
	if normalized == "" {
		return Coupon{}, ErrCouponInvalidCode
	}
	minPurchase := int64(0)
	if cmd.MinPurchase != nil {
		minPurchase = *cmd.MinPurchase
	}
	if err := validateCouponShape(cmd.Type, cmd.Value, minPurchase); err != nil {
		return Coupon{}, err
	}

	now := s.clock()
	coupon := Coupon{
		ID:          "coupon_" + s.idGen(),
		Code:        normalized,
		Type:        cmd.Type,
		Value:       cmd.Value,
		MinPurchase: minPurchase,
		ExpiresAt:   normalizeExpiry(cmd.ExpiresAt),
		Active:      true,
		Metadata:    cmd.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cmd.Active != nil {
		coupon.Active = *cmd.Active
	}

	if err := s.repo.Insert(ctx, coupon); err != nil {
		if isRepoConflict(err) {
			return Coupon{}, ErrCouponCodeTaken
		}
		return Coupon{}, ErrCouponUnavailable
	}

	s.logger(ctx, "coupon.created", map[string]any{
		"code": coupon.Code,
		"type": string(coupon.Type),
	})
	return coupon, nil
}

func (s *couponAdminService) Update(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	normalized := normalizeCouponCode(cmd.Code)
	if normalized == "" {
		return Coupon{}, ErrCouponInvalidCode
	}

	coupon, err := s.Get(ctx, normalized)
	if err != nil {
		return Coupon{}, err
	}

	if cmd.Type != "" {
		coupon.Type = cmd.Type
	}
	if cmd.Value > 0 {
		coupon.Value = cmd.Value
	}
	if cmd.MinPurchase != nil {
		coupon.MinPurchase = *cmd.MinPurchase
	}
	if cmd.ExpiresAt != nil {
		coupon.ExpiresAt = normalizeExpiry(cmd.ExpiresAt)
	}
	if cmd.Active != nil {
		coupon.Active = *cmd.Active
	}
	if cmd.Metadata != nil {
		coupon.Metadata = cmd.Metadata
	}
	if err := validateCouponShape(coupon.Type, coupon.Value, coupon.MinPurchase); err != nil {
		return Coupon{}, err
	}
	coupon.UpdatedAt = s.clock()

	if err := s.repo.Update(ctx, coupon); err != nil {
		if isRepoNotFound(err) {
			return Coupon{}, ErrCouponNotFound
		}
		return Coupon{}, ErrCouponUnavailable
	}

	s.logger(ctx, "coupon.updated", map[string]any{
		"code":   coupon.Code,
		"active": coupon.Active,
	})
	return coupon, nil
}

func (s *couponAdminService) Get(ctx context.Context, code string) (Coupon, error) {
	normalized := normalizeCouponCode(code)
	if normalized == "" {
		return Coupon{}, ErrCouponInvalidCode
	}
	coupon, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if isRepoNotFound(err) {
			return Coupon{}, ErrCouponNotFound
		}
		return Coupon{}, ErrCouponUnavailable
	}
	return coupon, nil
}

func (s *couponAdminService) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[Coupon], error) {
	page, err := s.repo.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Coupon]{}, ErrCouponUnavailable
	}
	return page, nil
}

func validateCouponShape(couponType CouponType, value, minPurchase int64) error {
	switch couponType {
	case CouponTypeFlat, CouponTypePercentage:
	default:
		return ErrCouponInvalidCode
	}
	if value <= 0 || minPurchase < 0 {
		return ErrCouponInvalidCode
	}
	if couponType == CouponTypePercentage && value > 100 {
		return ErrCouponInvalidCode
	}
	return nil
}

// normalizeExpiry stores expiry timestamps in UTC; validation treats the
// coupon as live through the end of that calendar day.
func normalizeExpiry(expiresAt *time.Time) *time.Time {
	if expiresAt == nil || expiresAt.IsZero() {
		return nil
	}
	utc := expiresAt.UTC()
	return &utc
}
