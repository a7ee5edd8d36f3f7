package repository

import (
	"fmt"
	"rival-tracker/internal/domain"
)

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}
