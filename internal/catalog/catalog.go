// Package catalog exposes the compiled-in regions and instance families the system accepts.
package catalog

import (
	"sort"

	"spotwatch/internal/domain"
)

var supportedRegions = map[string]struct{}{
	"us-east-1":      {},
	"us-east-2":      {},
	"us-west-1":      {},
	"us-west-2":      {},
	"ca-central-1":   {},
	"eu-west-1":      {},
	"eu-west-2":      {},
	"eu-central-1":   {},
	"eu-north-1":     {},
	"ap-south-1":     {},
	"ap-southeast-1": {},
	"ap-southeast-2": {},
	"ap-northeast-1": {},
	"sa-east-1":      {},
}

var supportedFamilies = map[string]struct{}{
	"t3.micro":    {},
	"t3.small":    {},
	"t3.medium":   {},
	"t3.large":    {},
	"m5.large":    {},
	"m5.xlarge":   {},
	"m5.2xlarge":  {},
	"m6i.large":   {},
	"m6i.xlarge":  {},
	"c5.large":    {},
	"c5.xlarge":   {},
	"c6i.large":   {},
	"c6i.xlarge":  {},
	"r5.large":    {},
	"r5.xlarge":   {},
	"g4dn.xlarge": {},
	"g5.xlarge":   {},
	"p3.2xlarge":  {},
}

// Regions returns the supported regions in sorted order.
func Regions() []string { return sortedKeys(supportedRegions) }

// Families returns the supported instance families in sorted order.
func Families() []string { return sortedKeys(supportedFamilies) }

// IsSupportedRegion reports whether region is in the catalog.
func IsSupportedRegion(region string) bool {
	_, ok := supportedRegions[region]
	return ok
}

// IsSupportedFamily reports whether family is in the catalog.
func IsSupportedFamily(family string) bool {
	_, ok := supportedFamilies[family]
	return ok
}

// ValidateRegions fails on the first region outside the catalog.
func ValidateRegions(regions []string) error {
	for _, r := range regions {
		if !IsSupportedRegion(r) {
			return domain.NewValidationError("region", r, "unsupported region")
		}
	}
	return nil
}

// ValidateFamilies fails on the first instance family outside the catalog.
func ValidateFamilies(families []string) error {
	for _, f := range families {
		if !IsSupportedFamily(f) {
			return domain.NewValidationError("instance_family", f, "unsupported instance family")
		}
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
