package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"spotwatch/internal/domain"
	"spotwatch/internal/lifecycle"
)

// ResourceCreateOptions configure resource create.
type ResourceCreateOptions struct {
	OwnerID      string
	Family       string
	Region       string
	MaxPrice     decimal.Decimal
	Launch       lifecycle.CreateOptions
	WorkloadFile string
}

// CreateResource requests a spot resource and prints it.
func (a *App) CreateResource(ctx context.Context, opts ResourceCreateOptions) error {
	workload, err := loadWorkload(opts.WorkloadFile)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := a.newManager(store).Create(ctx, opts.OwnerID, opts.Family, opts.Region, opts.MaxPrice, opts.Launch, workload)
	if err != nil {
		return err
	}
	a.printResources([]domain.Resource{res})
	return nil
}

// PollResource reconciles a resource with the provider and prints it.
func (a *App) PollResource(ctx context.Context, ownerID, id string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := a.newManager(store).Poll(ctx, ownerID, id)
	if err != nil {
		return err
	}
	a.printResources([]domain.Resource{res})
	return nil
}

// TerminateResource releases a resource and prints its final state.
func (a *App) TerminateResource(ctx context.Context, ownerID, id string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := a.newManager(store).Terminate(ctx, ownerID, id)
	if err != nil {
		return err
	}
	a.printResources([]domain.Resource{res})
	return nil
}

// ListResources prints every resource owned by ownerID.
func (a *App) ListResources(ctx context.Context, ownerID string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	resources, err := a.newManager(store).List(ctx, ownerID)
	if err != nil {
		return err
	}
	if len(resources) == 0 {
		fmt.Fprintln(a.Out, "no resources found")
		return nil
	}
	a.printResources(resources)
	return nil
}

func (a *App) printResources(resources []domain.Resource) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tState\tFamily\tRegion\tMax Price\tRequest\tInstance\tAddress\tStatus\tUpdated (UTC)")
	for _, r := range resources {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.State,
			r.InstanceFamily,
			r.Region,
			formatDecimal(r.MaxPrice, 4),
			orDash(r.ProviderRequestID),
			orDash(r.ProviderResourceID),
			orDash(r.PublicAddress),
			orDash(r.StatusCode),
			r.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()
}

func loadWorkload(path string) (*domain.WorkloadConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workload file: %w", err)
	}
	return domain.ParseWorkload(data)
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
