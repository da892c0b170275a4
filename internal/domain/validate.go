package domain

import "regexp"

var (
	destinationPattern = regexp.MustCompile(`^0[6-9][0-9]{8}$`)
	identityPattern    = regexp.MustCompile(`^\+66[0-9]{9}$`)
)

// ValidateDestination checks a Thai mobile number in local form (0xxxxxxxxx).
func ValidateDestination(destination string) error {
	if !destinationPattern.MatchString(destination) {
		return ErrInvalidDestination
	}
	return nil
}

// ValidateIdentity checks a Thai mobile number in international form (+66xxxxxxxxx).
func ValidateIdentity(identity string) error {
	if !identityPattern.MatchString(identity) {
		return ErrInvalidIdentity
	}
	return nil
}
