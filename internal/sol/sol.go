package sol

import (
	"fmt"
	"time"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/errkind"
)

// DaysPerYear is the fixed year length used for SoL arithmetic.
//
// Known approximation: periods are converted as years*365 days with no
// leap-year adjustment. Historical outputs depend on this exact value, so it
// must not be "corrected" to calendar-year arithmetic.
const DaysPerYear = 365

// Account is the subset of an account row the rule engine needs.
type Account struct {
	AccountNumber string
	StateCode     string
	ContractDate  *time.Time
	ChargeOffDate *time.Time
}

// BaseDate applies the base-date policy: the contract date when present,
// otherwise the charge-off date.
func (a Account) BaseDate() (time.Time, bool) {
	if a.ContractDate != nil {
		return *a.ContractDate, true
	}
	if a.ChargeOffDate != nil {
		return *a.ChargeOffDate, true
	}
	return time.Time{}, false
}

// UnknownJurisdictionError is returned when an account's state has no rule.
type UnknownJurisdictionError struct {
	AccountNumber string
	StateCode     string
}

func (e *UnknownJurisdictionError) Error() string {
	return fmt.Sprintf("account %s: no statute of limitations rule for state %q", e.AccountNumber, e.StateCode)
}

func (e *UnknownJurisdictionError) Kind() errkind.Kind { return errkind.Domain }

// MissingBaseDateError is returned when neither contract nor charge-off date
// is present.
type MissingBaseDateError struct {
	AccountNumber string
}

func (e *MissingBaseDateError) Error() string {
	return fmt.Sprintf("account %s: both contract date and charge-off date are empty", e.AccountNumber)
}

func (e *MissingBaseDateError) Kind() errkind.Kind { return errkind.Domain }

// ComputeSoLDate returns base date + period*DaysPerYear days for the account.
func ComputeSoLDate(account Account, rules *Rules) (time.Time, error) {
	base, ok := account.BaseDate()
	if !ok {
		return time.Time{}, &MissingBaseDateError{AccountNumber: account.AccountNumber}
	}

	years, ok := rules.Period(account.StateCode)
	if !ok {
		return time.Time{}, &UnknownJurisdictionError{
			AccountNumber: account.AccountNumber,
			StateCode:     account.StateCode,
		}
	}

	return base.AddDate(0, 0, years*DaysPerYear), nil
}
