package httphandler

import (
	"encoding/json"
	"fmt"
)

// FlexString decodes Daraja fields that arrive either as JSON strings or
// numbers, which real client libraries disagree on.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return fmt.Errorf("unmarshalling string field: %w", err)
		}
		*s = FlexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("unmarshalling numeric field: %w", err)
	}
	*s = FlexString(num.String())
	return nil
}

func (s FlexString) String() string {
	return string(s)
}
