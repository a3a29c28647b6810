package domain

import (
	"strconv"
	"time"
)

// User is a row of the exported source table
type User struct {
	ID               int64     `db:"id"`
	Name             string    `db:"name"`
	Email            string    `db:"email"`
	SignupDate       time.Time `db:"signup_date"`
	CountryCode      string    `db:"country_code"`
	SubscriptionTier string    `db:"subscription_tier"`
	LifetimeValue    string    `db:"lifetime_value"`
}

// Value renders the named column of the user as text.
// Unknown columns render as an empty string.
func (u *User) Value(column string) string {
	switch column {
	case ColumnID:
		return strconv.FormatInt(u.ID, 10)
	case ColumnName:
		return u.Name
	case ColumnEmail:
		return u.Email
	case ColumnSignupDate:
		if u.SignupDate.IsZero() {
			return ""
		}
		return u.SignupDate.UTC().Format(time.RFC3339)
	case ColumnCountryCode:
		return u.CountryCode
	case ColumnSubscriptionTier:
		return u.SubscriptionTier
	case ColumnLifetimeValue:
		return u.LifetimeValue
	default:
		return ""
	}
}
