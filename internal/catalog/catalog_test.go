package catalog

import (
	"errors"
	"testing"

	"spotwatch/internal/domain"
)

func TestListingsAreSortedCopies(t *testing.T) {
	regions := Regions()
	if len(regions) == 0 {
		t.Fatal("regions should not be empty")
	}
	for i := 1; i < len(regions); i++ {
		if regions[i-1] > regions[i] {
			t.Fatalf("regions not sorted: %v", regions)
		}
	}
	regions[0] = "mutated"
	if Regions()[0] == "mutated" {
		t.Fatal("Regions must return a copy")
	}
}

func TestValidateNamesOffendingValue(t *testing.T) {
	err := ValidateFamilies([]string{"m5.large", "not-a-real-type"})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Value != "not-a-real-type" {
		t.Fatalf("expected offending value, got %q", verr.Value)
	}

	if err := ValidateRegions([]string{"us-east-1", "mars-north-1"}); err == nil {
		t.Fatal("unknown region should fail")
	}
	if err := ValidateRegions([]string{"us-east-1", "eu-west-1"}); err != nil {
		t.Fatalf("known regions should pass: %v", err)
	}
}
