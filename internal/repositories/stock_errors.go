package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates requested quantity exceeds availability.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorNotFound indicates the variant does not have a stock record.
	StockErrorNotFound StockErrorCode = "stock_not_found"
	// StockErrorInactive indicates the variant exists but is retired from sale.
	StockErrorInactive StockErrorCode = "stock_inactive"
)

// StockError wraps stock-specific failures with machine readable codes. It
// implements RepositoryError so services can classify without knowing the
// backing store.
type StockError struct {
	Op      string
	Code    StockErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the stock record is missing.
func (e *StockError) IsNotFound() bool {
	return e != nil && e.Code == StockErrorNotFound
}

// IsConflict reports whether the adjustment lost to concurrent demand.
func (e *StockError) IsConflict() bool {
	return e != nil && (e.Code == StockErrorInsufficient || e.Code == StockErrorInactive)
}

// IsUnavailable reports whether the backend could not serve the operation.
func (e *StockError) IsUnavailable() bool {
	return e != nil && e.Code == StockErrorUnknown
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
