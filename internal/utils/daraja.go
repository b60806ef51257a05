package utils

import (
	"fmt"
	"time"

	"github.com/nyaruka/phonenumbers"
)

// DarajaTimestamp renders t in the YYYYMMDDHHMMSS shape used by STK
// passwords and callback metadata.
func DarajaTimestamp(t time.Time) string {
	return t.Format("20060102150405")
}

// CheckoutRequestID mints a ws_CO_{DDMMYYYYHHMMSS}{6 alphanumerics}
// identifier, the STK registry key.
func CheckoutRequestID(t time.Time, suffix string) string {
	return fmt.Sprintf("ws_CO_%s%s", t.Format("02012006150405"), suffix)
}

// ValidateKenyanMSISDN accepts 2547XXXXXXXX / 2541XXXXXXXX style numbers, the
// only PartyA shape the Daraja sandbox takes.
func ValidateKenyanMSISDN(phoneNumber string) error {
	if phoneNumber == "" {
		return fmt.Errorf("phone number cannot be empty")
	}
	parsed, err := phonenumbers.Parse("+"+phoneNumber, "")
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return fmt.Errorf("the provided phone number is not a valid MSISDN")
	}
	if parsed.GetCountryCode() != 254 {
		return fmt.Errorf("the provided phone number is not a Kenyan MSISDN")
	}
	return nil
}
