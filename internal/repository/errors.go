package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrConflict reports a write that collided with the uniqueness invariants:
// a duplicate feature key, or a second override for the same
// (feature, target_type, target_identifier) triple. The unique indexes are
// authoritative, so a race between two writers yields exactly one ErrConflict.
var ErrConflict = errors.New("record already exists")

// translateError maps driver-level duplicate-key violations onto ErrConflict.
// Requires gorm.Config{TranslateError: true} on the session. The sqlite
// dialector used in tests sometimes surfaces UNIQUE violations as plain-text
// errors instead of gorm.ErrDuplicatedKey, hence the string fallback.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	low := strings.ToLower(err.Error())
	if strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate entry") {
		return ErrConflict
	}
	return err
}
