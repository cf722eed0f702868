// Package sequence defines the canonical scan sequence per service
// family and the positional diff between expected and actual scans.
package sequence

import (
	"fmt"
	"strings"

	"github.com/parcelops/scan-engine/internal/consignment"
	"github.com/parcelops/scan-engine/internal/taxonomy"
)

// Family is one of the four canonical service families.
type Family string

const (
	FamilyExpress       Family = "EXPRESS"
	FamilyGround        Family = "GROUND"
	FamilyOvernight     Family = "OVERNIGHT"
	FamilyInternational Family = "INTERNATIONAL"
)

// Severity classifies a discrepancy between expected and actual scans.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Discrepancy is a single mismatch at a given 1-based position.
// Actual is empty when the expected scan is missing entirely.
type Discrepancy struct {
	Position int      `json:"position"`
	Expected string   `json:"expected_type,omitempty"`
	Actual   string   `json:"actual_type,omitempty"`
	Severity Severity `json:"severity"`
	Note     string   `json:"note"`
}

// Result is the outcome of validating an actual scan list against the
// canonical sequence. Pure computation, never persisted.
type Result struct {
	IsValid       bool          `json:"is_valid"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	TotalExpected int           `json:"total_expected"`
	TotalActual   int           `json:"total_actual"`
}

// canonical expected sequences, pickup first and delivered last.
var expectedSequences = map[Family][]string{
	FamilyExpress: {
		taxonomy.TypePickup,
		taxonomy.TypeDepartedFacility,
		taxonomy.TypeArrivedFacility,
		taxonomy.TypeOutForDelivery,
		taxonomy.TypeDelivered,
	},
	FamilyGround: {
		taxonomy.TypePickup,
		taxonomy.TypeDepartedFacility,
		taxonomy.TypeInTransit,
		taxonomy.TypeArrivedFacility,
		taxonomy.TypeOutForDelivery,
		taxonomy.TypeDelivered,
	},
	FamilyOvernight: {
		taxonomy.TypePickup,
		taxonomy.TypeDepartedFacility,
		taxonomy.TypeOutForDelivery,
		taxonomy.TypeDelivered,
	},
	FamilyInternational: {
		taxonomy.TypePickup,
		taxonomy.TypeDepartedFacility,
		taxonomy.TypeInTransit,
		taxonomy.TypeCustomsClearance,
		taxonomy.TypeArrivedFacility,
		taxonomy.TypeOutForDelivery,
		taxonomy.TypeDelivered,
	},
}

// ResolveFamily normalizes a free-text service label to a canonical
// family. Precedence matters: a label like "International Overnight"
// contains two keywords and must resolve to INTERNATIONAL, so the
// keywords are checked most-specific first. Unmatched labels default
// to EXPRESS.
func ResolveFamily(label string) Family {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "international"):
		return FamilyInternational
	case strings.Contains(l, "overnight"):
		return FamilyOvernight
	case strings.Contains(l, "ground"):
		return FamilyGround
	case strings.Contains(l, "express"):
		return FamilyExpress
	default:
		return FamilyExpress
	}
}

// ExpectedSequence returns a copy of the canonical scan types for the
// given family.
func ExpectedSequence(f Family) []string {
	seq, ok := expectedSequences[f]
	if !ok {
		seq = expectedSequences[FamilyExpress]
	}
	out := make([]string, len(seq))
	copy(out, seq)
	return out
}

// ExpectedScanCount returns the length of the canonical sequence for a
// free-text service label.
func ExpectedScanCount(serviceType string) int {
	return len(expectedSequences[ResolveFamily(serviceType)])
}

// Validate walks the canonical sequence for the consignment's service
// type position by position against the actual scans. A missing scan is
// HIGH, a wrong type in place is MEDIUM, and surplus scans beyond the
// canonical length collapse into a single LOW count-based discrepancy.
func Validate(actual []consignment.Scan, serviceType string) Result {
	expected := ExpectedSequence(ResolveFamily(serviceType))

	result := Result{
		Discrepancies: make([]Discrepancy, 0),
		TotalExpected: len(expected),
		TotalActual:   len(actual),
	}

	for i, want := range expected {
		if i >= len(actual) {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				Position: i + 1,
				Expected: want,
				Severity: SeverityHigh,
				Note:     "MISSING",
			})
			continue
		}
		if actual[i].Type != want {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				Position: i + 1,
				Expected: want,
				Actual:   actual[i].Type,
				Severity: SeverityMedium,
				Note:     "UNEXPECTED_TYPE",
			})
		}
	}

	if len(actual) > len(expected) {
		extra := len(actual) - len(expected)
		result.Discrepancies = append(result.Discrepancies, Discrepancy{
			Position: len(expected) + 1,
			Severity: SeverityLow,
			Note:     fmt.Sprintf("%d extra scans detected", extra),
		})
	}

	result.IsValid = len(result.Discrepancies) == 0
	return result
}
