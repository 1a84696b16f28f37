// Package provider declares the cloud collaborators consumed by the sampler and lifecycle manager.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is one raw price record reported by the provider.
type PriceObservation struct {
	Family     string
	Zone       string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// PriceSource retrieves spot price history for one region.
type PriceSource interface {
	DescribePrices(ctx context.Context, families []string, productFilter string, since time.Time) ([]PriceObservation, error)
}

// LaunchSpec describes the instance a spot request should start.
type LaunchSpec struct {
	ImageID          string
	KeyName          string
	SubnetID         string
	AvailabilityZone string
	SecurityGroupIDs []string
	UserData         string
}

// RequestStatus is the provider's view of a spot request.
type RequestStatus struct {
	RequestID     string
	State         string
	StatusCode    string
	StatusMessage string
	ResourceID    string
}

// ResourceDetails is the provider's view of a running compute resource.
type ResourceDetails struct {
	PublicAddress string
}

// ResourceProvider drives spot requests and their backing instances in one region.
type ResourceProvider interface {
	CreateRequest(ctx context.Context, family string, maxPrice decimal.Decimal, spec LaunchSpec) (RequestStatus, error)
	DescribeRequest(ctx context.Context, requestID string) (RequestStatus, error)
	DescribeResource(ctx context.Context, resourceID string) (ResourceDetails, error)
	CancelRequest(ctx context.Context, requestID string) error
	TerminateResource(ctx context.Context, resourceID string) error
	TagRequest(ctx context.Context, requestID string, tags map[string]string) error
}

// Factory hands out region-scoped collaborators.
type Factory interface {
	PriceSource(ctx context.Context, region string) (PriceSource, error)
	ResourceProvider(ctx context.Context, region string) (ResourceProvider, error)
}

// Provider-reported request states.
const (
	RequestOpen      = "open"
	RequestActive    = "active"
	RequestClosed    = "closed"
	RequestCancelled = "cancelled"
	RequestFailed    = "failed"
)

// Provider-reported status codes that drive lifecycle decisions.
const (
	StatusPendingEvaluation  = "pending-evaluation"
	StatusPendingFulfillment = "pending-fulfillment"
	StatusFulfilled          = "fulfilled"
)
