package privacy

import (
	"strings"

	"chatrelay/internal/constants"
)

// MaskIdentity masks a user identity showing only the last few characters.
// Example: "alice-smith" -> "*******mith"
func MaskIdentity(identity string) string {
	return maskString(identity, constants.DefaultIdentityMaskLength)
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies identity masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{})
	for k, v := range fields {
		switch k {
		case "sender_id", "receiver_id", "user_id", "identity", "username", "reader_id":
			if s, ok := v.(string); ok {
				masked[k] = MaskIdentity(s)
			} else {
				masked[k] = v
			}
		default:
			masked[k] = v
		}
	}

	return masked
}
