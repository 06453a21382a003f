package services

import (
	"errors"

	"github.com/bazaarhub/api/internal/repositories"
)

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

// mapRepositoryError translates a persistence failure into the caller's
// sentinel triple. Unknown errors map to the unavailable sentinel.
func mapRepositoryError(err error, notFound, conflict, unavailable error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return notFound
		case repoErr.IsConflict():
			return conflict
		case repoErr.IsUnavailable():
			return unavailable
		}
	}
	return unavailable
}
