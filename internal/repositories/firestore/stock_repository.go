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
	"github.com/bazaarhub/api/internal/repositories"
)

const stockCollection = "stock"

// StockRepository tracks per-variant availability. Documents are keyed by
// the variant line key so the same identity addresses carts, orders, and
// stock. Decrements run inside Firestore transactions; two checkouts racing
// for the last unit cannot both win.
type StockRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[stockDocument]
}

// NewStockRepository constructs a Firestore-backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[stockDocument](provider, stockCollection, nil, nil)
	return &StockRepository{provider: provider, base: base}, nil
}

// GetLevel fetches availability for one variant.
func (r *StockRepository) GetLevel(ctx context.Context, productID, size, color string) (domain.StockLevel, error) {
	if r == nil || r.base == nil {
		return domain.StockLevel{}, errors.New("stock repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockLevel{}, repositories.NewStockError(repositories.StockErrorNotFound, "stock: product id is required", nil)
	}

	doc, err := r.base.Get(ctx, domain.LineKey(productID, size, color))
	if err != nil {
		return domain.StockLevel{}, wrapStockError("stock.get", err)
	}
	return doc.Data.toDomain(), nil
}

// GetLevels fetches availability for many variants in one round trip.
// Variants without a stock record are absent from the result.
func (r *StockRepository) GetLevels(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("stock repository not initialised")
	}
	if len(keys) == 0 {
		return map[string]domain.StockLevel{}, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]*firestore.DocumentRef, 0, len(keys))
	for _, key := range keys {
		refs = append(refs, client.Collection(stockCollection).Doc(domain.LineKey(key.ProductID, key.Size, key.Color)))
	}

	snapshots, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("stock.getall", err)
	}

	levels := make(map[string]domain.StockLevel, len(snapshots))
	for _, snap := range snapshots {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode stock %s: %w", snap.Ref.ID, err)
		}
		level := doc.toDomain()
		levels[domain.LineKey(level.ProductID, level.Size, level.Color)] = level
	}
	return levels, nil
}

// Decrement atomically reduces availability for every line or none. A line
// that is missing, retired, or short of stock aborts the whole batch with a
// conflict so the caller can re-surface the cart.
func (r *StockRepository) Decrement(ctx context.Context, lines []repositories.StockDecrementLine, now time.Time) error {
	return r.adjust(ctx, lines, now, false)
}

// Restore atomically adds quantities back after a cancellation or an
// abandoned checkout.
func (r *StockRepository) Restore(ctx context.Context, lines []repositories.StockDecrementLine, now time.Time) error {
	return r.adjust(ctx, lines, now, true)
}

func (r *StockRepository) adjust(ctx context.Context, lines []repositories.StockDecrementLine, now time.Time, restore bool) error {
	if r == nil || r.provider == nil {
		return errors.New("stock repository not initialised")
	}
	if len(lines) == 0 {
		return nil
	}
	for _, line := range lines {
		if strings.TrimSpace(line.Key.ProductID) == "" {
			return repositories.NewStockError(repositories.StockErrorNotFound, "stock: product id is required", nil)
		}
		if line.Quantity <= 0 {
			return repositories.NewStockError(repositories.StockErrorUnknown, fmt.Sprintf("stock: quantity for %s must be > 0", line.Key.ProductID), nil)
		}
	}

	apply := func(ctx context.Context, tx *firestore.Transaction) error {
		return r.applyAdjustment(ctx, tx, lines, now.UTC(), restore)
	}

	var err error
	if tx, ok := transactionFrom(ctx); ok {
		err = apply(ctx, tx)
	} else {
		err = r.provider.RunTransaction(ctx, apply)
	}
	if err != nil {
		op := "stock.decrement"
		if restore {
			op = "stock.restore"
		}
		return wrapStockError(op, err)
	}
	return nil
}

func (r *StockRepository) applyAdjustment(ctx context.Context, tx *firestore.Transaction, lines []repositories.StockDecrementLine, now time.Time, restore bool) error {
	type pendingWrite struct {
		ref *firestore.DocumentRef
		doc stockDocument
	}

	// All reads first; Firestore transactions forbid reads after a write.
	writes := make([]pendingWrite, 0, len(lines))
	for _, line := range lines {
		id := domain.LineKey(line.Key.ProductID, line.Key.Size, line.Key.Color)
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", id), err)
			}
			return err
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode stock %s: %w", id, err)
		}

		if restore {
			doc.Available += line.Quantity
		} else {
			if !doc.Active {
				return repositories.NewStockError(repositories.StockErrorInactive, fmt.Sprintf("stock %s is retired", id), nil)
			}
			if doc.Available < line.Quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", id), nil)
			}
			doc.Available -= line.Quantity
		}
		doc.UpdatedAt = now
		writes = append(writes, pendingWrite{ref: ref, doc: doc})
	}

	for _, write := range writes {
		if err := tx.Set(write.ref, write.doc); err != nil {
			return err
		}
	}
	return nil
}

type stockDocument struct {
	ProductID        string    `firestore:"productId"`
	Size             string    `firestore:"size,omitempty"`
	Color            string    `firestore:"color,omitempty"`
	Available        int       `firestore:"available"`
	UnitPrice        int64     `firestore:"unitPrice"`
	Currency         string    `firestore:"currency,omitempty"`
	SellerID         string    `firestore:"sellerId"`
	Name             string    `firestore:"name,omitempty"`
	Active           bool      `firestore:"active"`
	ReturnWindowDays int       `firestore:"returnWindowDays,omitempty"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func (d stockDocument) toDomain() domain.StockLevel {
	return domain.StockLevel{
		ProductID:        strings.TrimSpace(d.ProductID),
		Size:             d.Size,
		Color:            d.Color,
		Available:        d.Available,
		UnitPrice:        d.UnitPrice,
		Currency:         d.Currency,
		SellerID:         strings.TrimSpace(d.SellerID),
		Name:             d.Name,
		Active:           d.Active,
		ReturnWindowDays: d.ReturnWindowDays,
		UpdatedAt:        d.UpdatedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.StockRepository = (*StockRepository)(nil)
