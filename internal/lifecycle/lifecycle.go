// Package lifecycle drives spot resources from request through polling to termination.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spotwatch/internal/catalog"
	"spotwatch/internal/domain"
	"spotwatch/internal/metrics"
	"spotwatch/internal/provider"
	"spotwatch/internal/storage"
)

const resourceKind = "resource"

// Tag keys attached to provider-side requests.
const (
	TagOwner      = "spotwatch:owner"
	TagResourceID = "spotwatch:resource-id"
	TagManagedBy  = "managed-by"
)

// Options carry launch defaults applied to every request.
type Options struct {
	Launch provider.LaunchSpec
}

// CreateOptions override launch defaults for a single request.
type CreateOptions struct {
	AvailabilityZone string
	ImageID          string
	KeyName          string
	SubnetID         string
	SecurityGroupIDs []string
	UserData         string
	Tags             map[string]string
}

// Manager owns every mutation of persisted resources.
type Manager struct {
	opts      Options
	providers provider.Factory
	store     storage.ResourceStore
	now       func() time.Time
	logger    zerolog.Logger
}

// New constructs a Manager.
func New(opts Options, providers provider.Factory, store storage.ResourceStore, logger zerolog.Logger) *Manager {
	return &Manager{
		opts:      opts,
		providers: providers,
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Create submits a spot request and records the resource. Nothing is persisted when the provider rejects the call.
func (m *Manager) Create(ctx context.Context, ownerID, family, region string, maxPrice decimal.Decimal, opts CreateOptions, workload *domain.WorkloadConfig) (domain.Resource, error) {
	if err := validateCreate(ownerID, family, region, maxPrice, workload); err != nil {
		return domain.Resource{}, err
	}

	rp, err := m.providers.ResourceProvider(ctx, region)
	if err != nil {
		return domain.Resource{}, domain.NewUpstreamError("resource provider", err)
	}

	status, err := rp.CreateRequest(ctx, family, maxPrice, m.launchSpec(opts))
	if err != nil {
		return domain.Resource{}, domain.NewUpstreamError("create request", err)
	}

	now := m.now()
	res := domain.Resource{
		ID:                 uuid.NewString(),
		OwnerID:            ownerID,
		ProviderRequestID:  status.RequestID,
		Region:             region,
		InstanceFamily:     family,
		MaxPrice:           maxPrice,
		State:              domain.StateRequested,
		StatusCode:         status.StatusCode,
		StatusMessage:      status.StatusMessage,
		ProviderResourceID: status.ResourceID,
		Workload:           workload,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	res.State = nextState(res.State, status, res.ProviderResourceID)

	tags := map[string]string{
		TagOwner:      ownerID,
		TagResourceID: res.ID,
		TagManagedBy:  "spotwatch",
	}
	for k, v := range opts.Tags {
		tags[k] = v
	}
	if err := rp.TagRequest(ctx, res.ProviderRequestID, tags); err != nil {
		m.logger.Warn().Err(err).
			Str("resource_id", res.ID).
			Str("request_id", res.ProviderRequestID).
			Msg("failed to tag spot request")
	}

	if err := m.store.CreateResource(ctx, res); err != nil {
		if cerr := rp.CancelRequest(ctx, res.ProviderRequestID); cerr != nil {
			m.logger.Error().Err(cerr).Str("request_id", res.ProviderRequestID).Msg("failed to cancel orphaned spot request")
		}
		return domain.Resource{}, fmt.Errorf("persist resource: %w", err)
	}

	metrics.ResourceTransitions.WithLabelValues("none", string(res.State)).Inc()
	m.logger.Info().
		Str("resource_id", res.ID).
		Str("owner_id", ownerID).
		Str("region", region).
		Str("family", family).
		Str("state", string(res.State)).
		Msg("resource requested")

	return res, nil
}

// Get returns a resource owned by callerID.
func (m *Manager) Get(ctx context.Context, callerID, id string) (domain.Resource, error) {
	return m.load(ctx, callerID, id)
}

// List returns every resource owned by ownerID.
func (m *Manager) List(ctx context.Context, ownerID string) ([]domain.Resource, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.NewValidationError("owner_id", ownerID, "is required")
	}
	return m.store.ListResourcesByOwner(ctx, ownerID)
}

// Poll reconciles the resource with the provider's view. Terminal resources are returned unchanged.
// Learned provider identifiers are never cleared.
func (m *Manager) Poll(ctx context.Context, callerID, id string) (domain.Resource, error) {
	res, err := m.load(ctx, callerID, id)
	if err != nil {
		return domain.Resource{}, err
	}
	if res.State.Terminal() || res.ProviderRequestID == "" {
		return res, nil
	}

	rp, err := m.providers.ResourceProvider(ctx, res.Region)
	if err != nil {
		return domain.Resource{}, domain.NewUpstreamError("resource provider", err)
	}

	status, err := rp.DescribeRequest(ctx, res.ProviderRequestID)
	if err != nil {
		return domain.Resource{}, domain.NewUpstreamError("describe request", err)
	}

	prev := res.State
	if status.ResourceID != "" && status.ResourceID != res.ProviderResourceID {
		res.ProviderResourceID = status.ResourceID
	}
	res.State = nextState(res.State, status, res.ProviderResourceID)
	res.StatusCode = status.StatusCode
	res.StatusMessage = status.StatusMessage

	if res.State == domain.StateFulfilled && res.ProviderResourceID != "" {
		details, err := rp.DescribeResource(ctx, res.ProviderResourceID)
		switch {
		case err != nil:
			m.logger.Warn().Err(err).
				Str("resource_id", res.ID).
				Str("instance_id", res.ProviderResourceID).
				Msg("failed to describe instance")
		case details.PublicAddress != "" && details.PublicAddress != res.PublicAddress:
			res.PublicAddress = details.PublicAddress
		}
	}

	res.UpdatedAt = m.now()
	if err := m.store.UpdateResource(ctx, res); err != nil {
		return domain.Resource{}, fmt.Errorf("update resource: %w", err)
	}

	if res.State != prev {
		metrics.ResourceTransitions.WithLabelValues(string(prev), string(res.State)).Inc()
		m.logger.Info().
			Str("resource_id", res.ID).
			Str("from", string(prev)).
			Str("to", string(res.State)).
			Msg("resource transitioned")
	}
	return res, nil
}

// Terminate cancels the spot request and terminates the instance. Both calls are always attempted;
// the resource only becomes Terminated when neither fails.
func (m *Manager) Terminate(ctx context.Context, callerID, id string) (domain.Resource, error) {
	res, err := m.load(ctx, callerID, id)
	if err != nil {
		return domain.Resource{}, err
	}
	if res.State.Terminal() {
		return res, nil
	}

	rp, err := m.providers.ResourceProvider(ctx, res.Region)
	if err != nil {
		return domain.Resource{}, domain.NewUpstreamError("resource provider", err)
	}

	var (
		g                    errgroup.Group
		cancelErr, termErr   error
		attempted, succeeded []string
	)
	if res.ProviderRequestID != "" {
		attempted = append(attempted, "cancel_request")
		g.Go(func() error {
			cancelErr = rp.CancelRequest(ctx, res.ProviderRequestID)
			return nil
		})
	}
	if res.ProviderResourceID != "" {
		attempted = append(attempted, "terminate_resource")
		g.Go(func() error {
			termErr = rp.TerminateResource(ctx, res.ProviderResourceID)
			return nil
		})
	}
	_ = g.Wait()

	failed := make(map[string]error)
	for _, step := range attempted {
		var stepErr error
		if step == "cancel_request" {
			stepErr = cancelErr
		} else {
			stepErr = termErr
		}
		if stepErr != nil {
			failed[step] = domain.NewUpstreamError(strings.ReplaceAll(step, "_", " "), stepErr)
			continue
		}
		succeeded = append(succeeded, step)
	}

	if len(failed) > 0 {
		m.logger.Error().
			Str("resource_id", res.ID).
			Strs("succeeded", succeeded).
			Int("failed", len(failed)).
			Msg("resource termination incomplete")
		if len(succeeded) == 0 {
			errs := make([]error, 0, len(failed))
			for _, step := range attempted {
				errs = append(errs, failed[step])
			}
			if len(errs) == 1 {
				return res, errs[0]
			}
			return res, domain.NewUpstreamError("terminate", errors.Join(errs...))
		}
		return res, &domain.PartialFailure{Op: "terminate", Succeeded: succeeded, Failed: failed}
	}

	prev := res.State
	res.State = domain.StateTerminated
	res.UpdatedAt = m.now()
	if err := m.store.UpdateResource(ctx, res); err != nil {
		return domain.Resource{}, fmt.Errorf("update resource: %w", err)
	}

	metrics.ResourceTransitions.WithLabelValues(string(prev), string(res.State)).Inc()
	m.logger.Info().Str("resource_id", res.ID).Str("from", string(prev)).Msg("resource terminated")
	return res, nil
}

func (m *Manager) load(ctx context.Context, callerID, id string) (domain.Resource, error) {
	res, err := m.store.GetResource(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Resource{}, domain.NewNotFoundError(resourceKind, id)
		}
		return domain.Resource{}, fmt.Errorf("load resource: %w", err)
	}
	if res.OwnerID != callerID {
		return domain.Resource{}, domain.NewPermissionError(resourceKind, id, callerID)
	}
	return res, nil
}

func (m *Manager) launchSpec(opts CreateOptions) provider.LaunchSpec {
	spec := m.opts.Launch
	spec.SecurityGroupIDs = append([]string(nil), spec.SecurityGroupIDs...)
	if opts.AvailabilityZone != "" {
		spec.AvailabilityZone = opts.AvailabilityZone
	}
	if opts.ImageID != "" {
		spec.ImageID = opts.ImageID
	}
	if opts.KeyName != "" {
		spec.KeyName = opts.KeyName
	}
	if opts.SubnetID != "" {
		spec.SubnetID = opts.SubnetID
	}
	if len(opts.SecurityGroupIDs) > 0 {
		spec.SecurityGroupIDs = append([]string(nil), opts.SecurityGroupIDs...)
	}
	if opts.UserData != "" {
		spec.UserData = opts.UserData
	}
	return spec
}

func validateCreate(ownerID, family, region string, maxPrice decimal.Decimal, workload *domain.WorkloadConfig) error {
	if strings.TrimSpace(ownerID) == "" {
		return domain.NewValidationError("owner_id", ownerID, "is required")
	}
	if !catalog.IsSupportedFamily(family) {
		return domain.NewValidationError("instance_family", family, "unsupported instance family")
	}
	if !catalog.IsSupportedRegion(region) {
		return domain.NewValidationError("region", region, "unsupported region")
	}
	if !maxPrice.IsPositive() {
		return domain.NewValidationError("max_price", maxPrice.String(), "must be greater than zero")
	}
	if workload != nil {
		for _, port := range workload.Ports {
			if port < 1 || port > 65535 {
				return domain.NewValidationError("workload.ports", fmt.Sprint(port), "must be within 1-65535")
			}
		}
	}
	return nil
}

// nextState maps the provider's report onto the state machine. Illegal moves keep the current state.
func nextState(current domain.ResourceState, status provider.RequestStatus, resourceID string) domain.ResourceState {
	var target domain.ResourceState
	switch {
	case status.State == provider.RequestFailed:
		target = domain.StateFailed
	case status.State == provider.RequestClosed || status.State == provider.RequestCancelled:
		if current == domain.StateFulfilled {
			target = domain.StateTerminated
		} else {
			target = domain.StateFailed
		}
	case resourceID != "" && (status.State == provider.RequestActive || status.StatusCode == provider.StatusFulfilled):
		target = domain.StateFulfilled
	case status.StatusCode == provider.StatusPendingEvaluation:
		target = domain.StateRequested
	default:
		target = domain.StateEvaluating
	}
	if current.CanTransition(target) {
		return target
	}
	return current
}
