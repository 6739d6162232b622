// Package identity classifies participant identifiers supplied by
// configuration or caller input.
package identity

import (
	"fmt"
	"regexp"
)

// Kind is the recognized class of a participant identifier.
type Kind int

const (
	// KindUnknown indicates the identifier matched no known pattern.
	KindUnknown Kind = iota
	// KindUser is a platform user identity.
	KindUser
	// KindPhone is an E.164-style phone number.
	KindPhone
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "Unknown"
	case KindUser:
		return "User"
	case KindPhone:
		return "Phone"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

var (
	// User identities look like "8:acs:<resource-guid>_<user-guid>".
	userPattern = regexp.MustCompile(`(?i)^8:acs:[0-9a-f]{8}-([0-9a-f]{4}-){3}[0-9a-f]{12}_[0-9a-f-]+$`)

	// Phone identities are + followed by 10 to 14 digits.
	phonePattern = regexp.MustCompile(`^\+\d{10,14}$`)
)

// Classify determines the Kind of a raw participant identifier.
func Classify(participant string) Kind {
	switch {
	case userPattern.MatchString(participant):
		return KindUser
	case phonePattern.MatchString(participant):
		return KindPhone
	default:
		return KindUnknown
	}
}
