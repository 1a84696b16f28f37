package app

import (
	"fmt"
	"strings"

	"spotwatch/internal/catalog"
)

// Catalog prints the supported regions and instance families.
func (a *App) Catalog() {
	fmt.Fprintf(a.Out, "regions (%d):\n  %s\n", len(catalog.Regions()), strings.Join(catalog.Regions(), "\n  "))
	fmt.Fprintf(a.Out, "families (%d):\n  %s\n", len(catalog.Families()), strings.Join(catalog.Families(), "\n  "))
}
