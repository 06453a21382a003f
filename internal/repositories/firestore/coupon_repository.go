package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/bazaarhub/api/internal/domain"
	pfirestore "github.com/bazaarhub/api/internal/platform/firestore"
	"github.com/bazaarhub/api/internal/platform/pagination"
	"github.com/bazaarhub/api/internal/repositories"
)

const couponCollection = "coupons"

// CouponRepository stores coupon definitions and their usage counters.
// Codes are persisted uppercase; lookups normalise before querying so the
// match is case-insensitive.
type CouponRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponCollection, nil, nil)
	return &CouponRepository{provider: provider, base: base}, nil
}

// Insert creates a coupon document. An existing ID or a duplicate code is a
// conflict.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.provider == nil {
		return errors.New("coupon repository not initialised")
	}
	id := strings.TrimSpace(coupon.ID)
	if id == "" {
		return errors.New("coupon repository: coupon id is required")
	}
	code := normalisedCode(coupon.Code)
	if code == "" {
		return errors.New("coupon repository: coupon code is required")
	}

	doc := newCouponDocument(coupon)
	doc.Code = code

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		dupes := client.Collection(couponCollection).Where("code", "==", code).Limit(1)
		snaps, err := tx.Documents(dupes).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) > 0 && snaps[0].Ref.ID != id {
			return status.Errorf(codes.AlreadyExists, "coupon code %s already exists", code)
		}

		return tx.Create(ref, doc)
	})
	return pfirestore.WrapError("coupons.insert", err)
}

// Update rewrites an existing coupon definition. Usage counters are kept as
// written by IncrementUsage and never reset here.
func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	id := strings.TrimSpace(coupon.ID)
	if id == "" {
		return errors.New("coupon repository: coupon id is required")
	}

	doc := newCouponDocument(coupon)
	updates := []firestore.Update{
		{Path: "code", Value: doc.Code},
		{Path: "type", Value: doc.Type},
		{Path: "value", Value: doc.Value},
		{Path: "minPurchase", Value: doc.MinPurchase},
		{Path: "active", Value: doc.Active},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	if doc.ExpiresAt == nil {
		updates = append(updates, firestore.Update{Path: "expiresAt", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "expiresAt", Value: doc.ExpiresAt})
	}
	if len(doc.Metadata) == 0 {
		updates = append(updates, firestore.Update{Path: "metadata", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "metadata", Value: doc.Metadata})
	}

	_, err := r.base.Update(ctx, id, updates)
	return err
}

// FindByCode resolves a coupon by its normalised code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalised := normalisedCode(code)
	if normalised == "" {
		return domain.Coupon{}, status.Error(codes.NotFound, "coupon code is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalised).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, pfirestore.WrapError("coupons.findbycode", status.Errorf(codes.NotFound, "coupon %s not found", normalised))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List pages through coupon definitions ordered by code.
func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Coupon]{}, errors.New("coupon repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	var startAfter string
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeCouponPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, err
		}
		startAfter = decoded.Code
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		q = q.OrderBy("code", firestore.Asc)
		if startAfter != "" {
			q = q.StartAfter(startAfter)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}

	coupons := make([]domain.Coupon, 0, len(docs))
	for _, doc := range docs {
		coupons = append(coupons, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(coupons) > pageSize
	if hasMore {
		coupons = coupons[:pageSize]
	}
	var nextToken string
	if hasMore && len(coupons) > 0 {
		encoded, err := encodeCouponPageToken(couponPageToken{Code: coupons[len(coupons)-1].Code})
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, err
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Coupon]{Items: coupons, NextPageToken: nextToken}, nil
}

// IncrementUsage bumps the global and per-user usage counters for one
// redemption. Missing coupons fail with notFound.
func (r *CouponRepository) IncrementUsage(ctx context.Context, couponID string, userID string, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	id := strings.TrimSpace(couponID)
	if id == "" {
		return errors.New("coupon repository: coupon id is required")
	}

	updates := []firestore.Update{
		{Path: "usageCount", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if uid := strings.TrimSpace(userID); uid != "" {
		updates = append(updates, firestore.Update{
			FieldPath: firestore.FieldPath{"usedBy", uid},
			Value:     firestore.Increment(1),
		})
	}

	_, err := r.base.Update(ctx, id, updates)
	return err
}

// Document mapping -----------------------------------------------------------

type couponDocument struct {
	Code        string         `firestore:"code"`
	Type        string         `firestore:"type"`
	Value       int64          `firestore:"value"`
	MinPurchase int64          `firestore:"minPurchase"`
	ExpiresAt   *time.Time     `firestore:"expiresAt,omitempty"`
	Active      bool           `firestore:"active"`
	UsageCount  int64          `firestore:"usageCount"`
	UsedBy      map[string]int `firestore:"usedBy,omitempty"`
	Metadata    map[string]any `firestore:"metadata,omitempty"`
	CreatedAt   time.Time      `firestore:"createdAt"`
	UpdatedAt   time.Time      `firestore:"updatedAt"`
}

func newCouponDocument(coupon domain.Coupon) couponDocument {
	doc := couponDocument{
		Code:        normalisedCode(coupon.Code),
		Type:        string(coupon.Type),
		Value:       coupon.Value,
		MinPurchase: coupon.MinPurchase,
		Active:      coupon.Active,
		Metadata:    cloneAnyMap(coupon.Metadata),
		CreatedAt:   coupon.CreatedAt.UTC(),
		UpdatedAt:   coupon.UpdatedAt.UTC(),
	}
	if coupon.ExpiresAt != nil {
		expires := coupon.ExpiresAt.UTC()
		doc.ExpiresAt = &expires
	}
	return doc
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	coupon := domain.Coupon{
		ID:          id,
		Code:        d.Code,
		Type:        domain.CouponType(d.Type),
		Value:       d.Value,
		MinPurchase: d.MinPurchase,
		Active:      d.Active,
		Metadata:    cloneAnyMap(d.Metadata),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.ExpiresAt != nil {
		expires := *d.ExpiresAt
		coupon.ExpiresAt = &expires
	}
	return coupon
}

type couponPageToken struct {
	Code string
}

func encodeCouponPageToken(token couponPageToken) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{StartAfter: []any{token.Code}})
}

func decodeCouponPageToken(encoded string) (*couponPageToken, error) {
	cursor, err := pagination.DecodeToken(encoded)
	if err != nil {
		return nil, err
	}
	if len(cursor.StartAfter) != 1 {
		return nil, fmt.Errorf("%w: malformed coupon cursor", pagination.ErrInvalidPageToken)
	}
	code, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: malformed coupon cursor", pagination.ErrInvalidPageToken)
	}
	return &couponPageToken{Code: code}, nil
}

func normalisedCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
