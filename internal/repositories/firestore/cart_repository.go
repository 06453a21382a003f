package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/bazaarhub/api/internal/domain"
	pfirestore "github.com/bazaarhub/api/internal/platform/firestore"
	"github.com/bazaarhub/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists carts in Firestore. One document per owner key,
// items inlined, so guest and user carts share a single code path and a
// cart read never fans out.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// UpsertCart writes the full cart document under its owner key. When
// expectedUpdate is provided the write is guarded by the document's last
// update time, so a stale writer fails with a conflict instead of
// clobbering a concurrent change.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	ownerKey := strings.TrimSpace(cart.OwnerKey)
	if ownerKey == "" {
		ownerKey = strings.TrimSpace(cart.ID)
	}
	if ownerKey == "" {
		return domain.Cart{}, errors.New("cart repository: owner key is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}

	doc := newCartDocument(cart, now)

	var result pfirestore.MutationResult
	var err error
	if expectedUpdate == nil || expectedUpdate.IsZero() {
		result, err = r.base.Set(ctx, ownerKey, doc)
	} else {
		// Set carries no preconditions, so the guarded path replaces every
		// field through Update with a LastUpdateTime guard.
		result, err = r.guardedReplace(ctx, ownerKey, doc, expectedUpdate.UTC())
	}
	if err != nil {
		return domain.Cart{}, err
	}

	saved := doc.toDomain(ownerKey)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// guardedReplace rewrites every cart field behind a LastUpdateTime
// precondition. Field deletes clear data the new state no longer carries.
func (r *CartRepository) guardedReplace(ctx context.Context, ownerKey string, doc cartDocument, expected time.Time) (pfirestore.MutationResult, error) {
	updates := []firestore.Update{
		{Path: "ownerKey", Value: doc.OwnerKey},
		{Path: "currency", Value: doc.Currency},
		{Path: "items", Value: doc.Items},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	if doc.UserID == "" {
		updates = append(updates, firestore.Update{Path: "userId", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "userId", Value: doc.UserID})
	}
	if doc.Coupon == nil {
		updates = append(updates, firestore.Update{Path: "coupon", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "coupon", Value: doc.Coupon})
	}
	if doc.Estimate == nil {
		updates = append(updates, firestore.Update{Path: "estimate", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "estimate", Value: doc.Estimate})
	}
	if len(doc.Metadata) == 0 {
		updates = append(updates, firestore.Update{Path: "metadata", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "metadata", Value: doc.Metadata})
	}
	return r.base.Update(ctx, ownerKey, updates, firestore.LastUpdateTime(expected))
}

// GetCart loads the cart document for the given owner key.
func (r *CartRepository) GetCart(ctx context.Context, ownerKey string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(ownerKey)
	if key == "" {
		return domain.Cart{}, errors.New("cart repository: owner key is required")
	}

	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := doc.Data.toDomain(doc.ID)
	if !doc.UpdateTime.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}
	return cart, nil
}

// ReplaceItems swaps the cart's item list in one write, creating the
// document when the owner has no cart yet.
func (r *CartRepository) ReplaceItems(ctx context.Context, ownerKey string, items []domain.CartItem) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(ownerKey)
	if key == "" {
		return domain.Cart{}, errors.New("cart repository: owner key is required")
	}

	ref, err := r.base.DocumentRef(ctx, key)
	if err != nil {
		return domain.Cart{}, err
	}

	now := time.Now().UTC()
	payload := map[string]any{
		"ownerKey":  key,
		"items":     newCartItemDocuments(items),
		"updatedAt": now,
	}
	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.replaceitems", err)
	}

	return r.GetCart(ctx, key)
}

// Delete drops the owner's cart document. Deleting a missing cart succeeds.
func (r *CartRepository) Delete(ctx context.Context, ownerKey string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	key := strings.TrimSpace(ownerKey)
	if key == "" {
		return errors.New("cart repository: owner key is required")
	}
	return r.base.Delete(ctx, key)
}

// Document mapping -----------------------------------------------------------

type cartDocument struct {
	OwnerKey  string              `firestore:"ownerKey"`
	UserID    string              `firestore:"userId,omitempty"`
	Currency  string              `firestore:"currency"`
	Coupon    *cartCouponDocument `firestore:"coupon,omitempty"`
	Items     []cartItemDocument  `firestore:"items"`
	Estimate  *cartEstimateDoc    `firestore:"estimate,omitempty"`
	Metadata  map[string]any      `firestore:"metadata,omitempty"`
	UpdatedAt time.Time           `firestore:"updatedAt"`
}

type cartCouponDocument struct {
	Code           string `firestore:"code"`
	DiscountAmount int64  `firestore:"discountAmount"`
	Applied        bool   `firestore:"applied"`
}

type cartItemDocument struct {
	ID        string         `firestore:"id"`
	ProductID string         `firestore:"productId"`
	SellerID  string         `firestore:"sellerId"`
	Name      string         `firestore:"name"`
	Size      string         `firestore:"size,omitempty"`
	Color     string         `firestore:"color,omitempty"`
	Quantity  int            `firestore:"qty"`
	UnitPrice int64          `firestore:"unitPrice"`
	Currency  string         `firestore:"currency,omitempty"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	AddedAt   time.Time      `firestore:"addedAt"`
	UpdatedAt *time.Time     `firestore:"updatedAt,omitempty"`
}

type cartEstimateDoc struct {
	Subtotal int64 `firestore:"subtotal"`
	Discount int64 `firestore:"discount"`
	Tax      int64 `firestore:"tax"`
	Shipping int64 `firestore:"shipping"`
	Fees     int64 `firestore:"fees"`
	Total    int64 `firestore:"total"`
}

func newCartDocument(cart domain.Cart, updatedAt time.Time) cartDocument {
	doc := cartDocument{
		OwnerKey:  strings.TrimSpace(firstNonEmpty(cart.OwnerKey, cart.ID)),
		UserID:    strings.TrimSpace(cart.UserID),
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:     newCartItemDocuments(cart.Items),
		Metadata:  cloneAnyMap(cart.Metadata),
		UpdatedAt: updatedAt,
	}
	if cart.Coupon != nil {
		doc.Coupon = &cartCouponDocument{
			Code:           strings.TrimSpace(cart.Coupon.Code),
			DiscountAmount: cart.Coupon.DiscountAmount,
			Applied:        cart.Coupon.Applied,
		}
	}
	if cart.Estimate != nil {
		doc.Estimate = &cartEstimateDoc{
			Subtotal: cart.Estimate.Subtotal,
			Discount: cart.Estimate.Discount,
			Tax:      cart.Estimate.Tax,
			Shipping: cart.Estimate.Shipping,
			Fees:     cart.Estimate.Fees,
			Total:    cart.Estimate.Total,
		}
	}
	return doc
}

func newCartItemDocuments(items []domain.CartItem) []cartItemDocument {
	docs := make([]cartItemDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, cartItemDocument{
			ID:        item.ID,
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Name:      item.Name,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Currency:  item.Currency,
			Metadata:  cloneAnyMap(item.Metadata),
			AddedAt:   item.AddedAt.UTC(),
			UpdatedAt: item.UpdatedAt,
		})
	}
	return docs
}

func (d cartDocument) toDomain(id string) domain.Cart {
	cart := domain.Cart{
		ID:        id,
		OwnerKey:  strings.TrimSpace(firstNonEmpty(d.OwnerKey, id)),
		UserID:    strings.TrimSpace(d.UserID),
		Currency:  strings.ToUpper(strings.TrimSpace(d.Currency)),
		Items:     make([]domain.CartItem, 0, len(d.Items)),
		Metadata:  cloneAnyMap(d.Metadata),
		UpdatedAt: d.UpdatedAt,
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Name:      item.Name,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Currency:  item.Currency,
			Metadata:  cloneAnyMap(item.Metadata),
			AddedAt:   item.AddedAt,
			UpdatedAt: item.UpdatedAt,
		})
	}
	if d.Coupon != nil {
		cart.Coupon = &domain.CartCoupon{
			Code:           d.Coupon.Code,
			DiscountAmount: d.Coupon.DiscountAmount,
			Applied:        d.Coupon.Applied,
		}
	}
	if d.Estimate != nil {
		cart.Estimate = &domain.CartEstimate{
			Subtotal: d.Estimate.Subtotal,
			Discount: d.Estimate.Discount,
			Tax:      d.Estimate.Tax,
			Shipping: d.Estimate.Shipping,
			Fees:     d.Estimate.Fees,
			Total:    d.Estimate.Total,
		}
	}
	return cart
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

var _ repositories.CartRepository = (*CartRepository)(nil)
