package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"credit-billing/internal/model"
)

// Partial unique indexes that encode business rules rather than row identity.
var businessRuleIndexes = map[string]bool{
	"ledger_lines_one_active_interest": true,
	"ledger_lines_one_active_penalty":  true,
	"ledger_lines_one_active_reversal": true,
	"ledger_lines_one_active_purchase": true,
}

// mapError translates driver errors into the model taxonomy. Unknown errors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			if businessRuleIndexes[pqErr.Constraint] {
				return fmt.Errorf("%w: %s", model.ErrUniquenessViolation, pqErr.Constraint)
			}
			return fmt.Errorf("%w: %s", model.ErrAlreadyExists, pqErr.Constraint)
		case "check_violation":
			return fmt.Errorf("%w: %s", model.ErrInvalidAmount, pqErr.Message)
		case "foreign_key_violation":
			return fmt.Errorf("%w: %s", model.ErrNotFound, pqErr.Detail)
		case "restrict_violation":
			return model.ErrDeletionNotAllowed
		}
		switch pqErr.Code.Class() {
		case "08", "40", "55", "57":
			return model.Transient(err)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return model.Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.Transient(err)
	}
	return err
}
