package validators

import (
	"strconv"

	"github.com/asaskevich/govalidator"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/utils"
)

// DarajaValidator validates the field shapes shared by the simulated Daraja
// endpoints.
type DarajaValidator struct {
	*Validator
}

func NewDarajaValidator() *DarajaValidator {
	return &DarajaValidator{Validator: NewValidator()}
}

// ValidateMSISDN checks a Kenyan 2547XXXXXXXX-style phone number.
func (v *DarajaValidator) ValidateMSISDN(key, phoneNumber string) {
	v.CheckError(utils.ValidateKenyanMSISDN(phoneNumber), key, "")
}

// ValidateAmount parses a positive whole-KES amount and returns it in cents.
func (v *DarajaValidator) ValidateAmount(key string, amount string) int64 {
	if amount == "" {
		v.AddError(key, "amount is required")
		return 0
	}
	value, err := strconv.ParseInt(amount, 10, 64)
	if err != nil {
		v.AddError(key, "amount must be a positive whole number")
		return 0
	}
	if value <= 0 {
		v.AddError(key, "amount must be greater than zero")
		return 0
	}
	return value * 100
}

// ValidateURL requires a well-formed http(s) URL.
func (v *DarajaValidator) ValidateURL(key, rawURL string) {
	if rawURL == "" {
		v.AddError(key, "url is required")
		return
	}
	v.Check(govalidator.IsURL(rawURL), key, "url is not valid")
}

// ValidateResponseType accepts the two C2B register values.
func (v *DarajaValidator) ValidateResponseType(key, responseType string) {
	v.Check(responseType == "Completed" || responseType == "Cancelled", key, `response type must be "Completed" or "Cancelled"`)
}
