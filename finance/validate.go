package finance

import "strings"

// Validate checks the fields the ledger relies on. Amount must already be
// normalized (non-negative).
func (t *Transaction) Validate() error {
	if !t.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "must be income, expense or transfer", Kind: ErrInvalidTransaction}
	}
	if t.AccountID == "" {
		return &ValidationError{Field: "account_id", Reason: "is required", Kind: ErrInvalidTransaction}
	}
	if t.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: "must not be negative", Kind: ErrInvalidTransaction}
	}
	if t.TransferAccountID != nil && *t.TransferAccountID == t.AccountID {
		return &ValidationError{Field: "transfer_account_id", Reason: "must differ from account_id", Kind: ErrInvalidTransaction}
	}
	if t.Type != TxTransfer && t.TransferAccountID != nil {
		return &ValidationError{Field: "transfer_account_id", Reason: "only allowed for transfers", Kind: ErrInvalidTransaction}
	}
	if strings.TrimSpace(t.Description) == "" {
		return &ValidationError{Field: "description", Reason: "is required", Kind: ErrInvalidTransaction}
	}
	return nil
}

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly,
		FrequencyQuarterly, FrequencySemiannual, FrequencyAnnual:
		return true
	}
	return false
}

// Validate checks a schedule before it is created.
func (s *Schedule) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required", Kind: ErrInvalidSchedule}
	}
	if !s.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "must be income, expense or transfer", Kind: ErrInvalidSchedule}
	}
	if s.AccountID == "" {
		return &ValidationError{Field: "account_id", Reason: "is required", Kind: ErrInvalidSchedule}
	}
	if s.Type == TxTransfer && s.TransferAccountID == nil {
		return &ValidationError{Field: "transfer_account_id", Reason: "is required for transfers", Kind: ErrInvalidSchedule}
	}
	if s.TransferAccountID != nil && *s.TransferAccountID == s.AccountID {
		return &ValidationError{Field: "transfer_account_id", Reason: "must differ from account_id", Kind: ErrInvalidSchedule}
	}
	if s.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: "must not be negative", Kind: ErrInvalidSchedule}
	}
	if !s.Frequency.Valid() {
		return &ValidationError{Field: "frequency", Reason: "is not supported", Kind: ErrInvalidSchedule}
	}
	if s.Interval < 1 || s.Interval > 365 {
		return &ValidationError{Field: "interval", Reason: "must be between 1 and 365", Kind: ErrInvalidSchedule}
	}
	if s.StartsOn != nil && s.EndsOn != nil && s.EndsOn.Before(*s.StartsOn) {
		return &ValidationError{Field: "ends_on", Reason: "must be on or after starts_on", Kind: ErrInvalidSchedule}
	}
	return nil
}
