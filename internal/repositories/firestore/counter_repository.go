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

	pfirestore "github.com/bazaarhub/api/internal/platform/firestore"
	"github.com/bazaarhub/api/internal/repositories"
)

const countersCollection = "counters"

// sequenceDoc is the persisted shape of one named counter. Order
// numbers draw from the "orders" counter; each tenant can add its own.
type sequenceDoc struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out monotonic sequence numbers via Firestore
// transactions, so concurrent checkouts never see the same value.
type CounterRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[sequenceDoc]
}

// NewCounterRepository builds the repository on top of provider.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[sequenceDoc](provider, countersCollection, nil, nil),
	}, nil
}

// Next advances counterID by step and returns the new value. A zero or
// negative step falls back to the counter's configured step, then 1.
// Counters are created on first use.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	var next int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			first := step
			if first <= 0 {
				first = 1
			}
			doc := sequenceDoc{CurrentValue: first, Step: first, UpdatedAt: time.Now().UTC()}
			if err := tx.Create(ref, doc); err != nil {
				return err
			}
			next = first
			return nil
		}
		if err != nil {
			return err
		}

		var doc sequenceDoc
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode counter %s: %w", id, err)
		}

		inc := step
		if inc <= 0 {
			inc = doc.Step
			if inc <= 0 {
				inc = 1
			}
		}

		value := doc.CurrentValue + inc
		if doc.MaxValue != nil && value > *doc.MaxValue {
			return repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *doc.MaxValue), nil)
		}

		doc.CurrentValue = value
		doc.Step = inc
		doc.UpdatedAt = time.Now().UTC()
		if err := tx.Set(ref, doc, firestore.MergeAll); err != nil {
			return err
		}
		next = value
		return nil
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}

// Configure merges step, bound and seed settings onto a counter without
// touching fields the caller left unset.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if r == nil || r.provider == nil {
		return errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}

	patch := map[string]any{"updatedAt": time.Now().UTC()}
	if cfg.Step > 0 {
		patch["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		patch["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		patch["currentValue"] = *cfg.InitialValue
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, patch, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}
