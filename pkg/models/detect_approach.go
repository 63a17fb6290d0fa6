package models

import "fmt"

// DetectApproach selects the relationship detection strategy.
type DetectApproach string

const (
	NameBased             DetectApproach = "name_based"
	SignatureBased        DetectApproach = "signature_based"
	NameAndSignatureBased DetectApproach = "name_and_signature_based"
)

// ParseDetectApproach validates s. Empty input selects NameAndSignatureBased.
func ParseDetectApproach(s string) (DetectApproach, error) {
	switch a := DetectApproach(s); a {
	case NameBased, SignatureBased, NameAndSignatureBased:
		return a, nil
	case "":
		return NameAndSignatureBased, nil
	default:
		return "", fmt.Errorf("unknown detection approach %q", s)
	}
}

// RequiresSignatures reports whether column signatures must be computed first.
func (a DetectApproach) RequiresSignatures() bool {
	return a == SignatureBased || a == NameAndSignatureBased
}
