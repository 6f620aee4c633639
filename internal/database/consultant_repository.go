package database

import (
	"database/sql"
	"fmt"
)

// ConsultantRepository reads the consultant payout directory. Identity and
// profile management live in a separate service; this table only mirrors
// what settlement needs: the payout account handle and the verification
// flag.
type ConsultantRepository struct {
	db DB
}

// NewConsultantRepository creates a new ConsultantRepository
func NewConsultantRepository(db DB) *ConsultantRepository {
	return &ConsultantRepository{db: db}
}

// PayoutAccount returns the consultant's payout account and whether their
// verification cleared. Unknown consultants are unverified.
func (r *ConsultantRepository) PayoutAccount(consultantID string) (string, bool, error) {
	var row struct {
		PayoutAccount string `db:"payout_account"`
		KYCVerified   bool   `db:"kyc_verified"`
	}
	err := r.db.Get(&row, `
		SELECT payout_account, kyc_verified
		FROM consultants
		WHERE id = $1
	`, consultantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to load consultant: %w", err)
	}
	return row.PayoutAccount, row.KYCVerified, nil
}
