// Package ec2spot implements the provider collaborators on top of the EC2 spot APIs.
package ec2spot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"spotwatch/internal/metrics"
	"spotwatch/internal/provider"
)

const maxHistoryPoints = 5000

// ec2API is the subset of *ec2.Client this package calls.
type ec2API interface {
	DescribeSpotPriceHistory(ctx context.Context, in *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error)
	RequestSpotInstances(ctx context.Context, in *ec2.RequestSpotInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RequestSpotInstancesOutput, error)
	DescribeSpotInstanceRequests(ctx context.Context, in *ec2.DescribeSpotInstanceRequestsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotInstanceRequestsOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	CancelSpotInstanceRequests(ctx context.Context, in *ec2.CancelSpotInstanceRequestsInput, optFns ...func(*ec2.Options)) (*ec2.CancelSpotInstanceRequestsOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	CreateTags(ctx context.Context, in *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

// Options parameterise the EC2 factory.
type Options struct {
	Profile string
	Timeout time.Duration
}

// loader builds an EC2 API client for a region.
type loader func(ctx context.Context, region string) (ec2API, error)

// Factory creates region clients lazily and caches them. Loads for different regions run in parallel.
type Factory struct {
	opts   Options
	load   loader
	logger zerolog.Logger

	loads   singleflight.Group
	mu      sync.Mutex
	clients map[string]*Client
}

// NewFactory constructs a factory backed by the default AWS credential chain.
func NewFactory(opts Options, logger zerolog.Logger) *Factory {
	return newFactory(opts, defaultLoader(opts), logger)
}

func newFactory(opts Options, load loader, logger zerolog.Logger) *Factory {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Factory{
		opts:    opts,
		load:    load,
		logger:  logger.With().Str("component", "aws_provider").Logger(),
		clients: make(map[string]*Client),
	}
}

func defaultLoader(opts Options) loader {
	return func(ctx context.Context, region string) (ec2API, error) {
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
		if opts.Profile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config for %s: %w", region, err)
		}
		return ec2.NewFromConfig(cfg), nil
	}
}

// PriceSource returns the region's price history client.
func (f *Factory) PriceSource(ctx context.Context, region string) (provider.PriceSource, error) {
	return f.client(ctx, region)
}

// ResourceProvider returns the region's spot request client.
func (f *Factory) ResourceProvider(ctx context.Context, region string) (provider.ResourceProvider, error) {
	return f.client(ctx, region)
}

func (f *Factory) client(ctx context.Context, region string) (*Client, error) {
	if c, ok := f.cached(region); ok {
		return c, nil
	}

	v, err, _ := f.loads.Do(region, func() (any, error) {
		if c, ok := f.cached(region); ok {
			return c, nil
		}
		api, err := f.load(ctx, region)
		if err != nil {
			return nil, err
		}
		c := &Client{
			api:     api,
			region:  region,
			timeout: f.opts.Timeout,
			logger:  f.logger.With().Str("region", region).Logger(),
		}
		f.mu.Lock()
		f.clients[region] = c
		f.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

func (f *Factory) cached(region string) (*Client, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[region]
	return c, ok
}

// Client talks to EC2 in a single region. Every call is bounded by the configured timeout.
type Client struct {
	api     ec2API
	region  string
	timeout time.Duration
	logger  zerolog.Logger
}

func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.ObserveProvider(op, start, err)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return fmt.Errorf("ec2 %s (%s): %w", op, c.region, err)
	}
	return nil
}

// DescribePrices pages through spot price history since the given time.
func (c *Client) DescribePrices(ctx context.Context, families []string, productFilter string, since time.Time) ([]provider.PriceObservation, error) {
	instanceTypes := make([]types.InstanceType, 0, len(families))
	for _, f := range families {
		instanceTypes = append(instanceTypes, types.InstanceType(f))
	}
	input := &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes: instanceTypes,
		StartTime:     aws.Time(since),
		EndTime:       aws.Time(time.Now()),
		MaxResults:    aws.Int32(1000),
	}
	if productFilter != "" {
		input.ProductDescriptions = []string{productFilter}
	}

	var raw []types.SpotPrice
	err := c.call(ctx, "describe_spot_price_history", func(ctx context.Context) error {
		paginator := ec2.NewDescribeSpotPriceHistoryPaginator(c.api, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			raw = append(raw, page.SpotPriceHistory...)
			if len(raw) >= maxHistoryPoints {
				c.logger.Warn().Int("points", len(raw)).Msg("price history truncated")
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return toObservations(raw), nil
}

func toObservations(raw []types.SpotPrice) []provider.PriceObservation {
	out := make([]provider.PriceObservation, 0, len(raw))
	for _, sp := range raw {
		if sp.SpotPrice == nil || sp.Timestamp == nil {
			continue
		}
		price, err := decimal.NewFromString(aws.ToString(sp.SpotPrice))
		if err != nil || !price.IsPositive() {
			continue
		}
		out = append(out, provider.PriceObservation{
			Family:     string(sp.InstanceType),
			Zone:       aws.ToString(sp.AvailabilityZone),
			Price:      price,
			ObservedAt: sp.Timestamp.UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out
}

// CreateRequest submits a one-time spot instance request.
func (c *Client) CreateRequest(ctx context.Context, family string, maxPrice decimal.Decimal, spec provider.LaunchSpec) (provider.RequestStatus, error) {
	launch := &types.RequestSpotLaunchSpecification{
		InstanceType: types.InstanceType(family),
	}
	if spec.ImageID != "" {
		launch.ImageId = aws.String(spec.ImageID)
	}
	if spec.KeyName != "" {
		launch.KeyName = aws.String(spec.KeyName)
	}
	if spec.SubnetID != "" {
		launch.SubnetId = aws.String(spec.SubnetID)
	}
	if len(spec.SecurityGroupIDs) > 0 {
		launch.SecurityGroupIds = spec.SecurityGroupIDs
	}
	if spec.UserData != "" {
		launch.UserData = aws.String(spec.UserData)
	}
	if spec.AvailabilityZone != "" {
		launch.Placement = &types.SpotPlacement{AvailabilityZone: aws.String(spec.AvailabilityZone)}
	}

	input := &ec2.RequestSpotInstancesInput{
		InstanceCount:       aws.Int32(1),
		SpotPrice:           aws.String(maxPrice.String()),
		Type:                types.SpotInstanceTypeOneTime,
		LaunchSpecification: launch,
	}

	var out *ec2.RequestSpotInstancesOutput
	err := c.call(ctx, "request_spot_instances", func(ctx context.Context) error {
		var err error
		out, err = c.api.RequestSpotInstances(ctx, input)
		return err
	})
	if err != nil {
		return provider.RequestStatus{}, err
	}
	if len(out.SpotInstanceRequests) == 0 {
		return provider.RequestStatus{}, fmt.Errorf("ec2 request_spot_instances (%s): empty response", c.region)
	}
	return toRequestStatus(out.SpotInstanceRequests[0]), nil
}

// DescribeRequest reads the current state of a spot request.
func (c *Client) DescribeRequest(ctx context.Context, requestID string) (provider.RequestStatus, error) {
	var out *ec2.DescribeSpotInstanceRequestsOutput
	err := c.call(ctx, "describe_spot_instance_requests", func(ctx context.Context) error {
		var err error
		out, err = c.api.DescribeSpotInstanceRequests(ctx, &ec2.DescribeSpotInstanceRequestsInput{
			SpotInstanceRequestIds: []string{requestID},
		})
		return err
	})
	if err != nil {
		return provider.RequestStatus{}, err
	}
	if len(out.SpotInstanceRequests) == 0 {
		return provider.RequestStatus{}, fmt.Errorf("ec2 describe_spot_instance_requests (%s): request %s not found", c.region, requestID)
	}
	return toRequestStatus(out.SpotInstanceRequests[0]), nil
}

func toRequestStatus(req types.SpotInstanceRequest) provider.RequestStatus {
	status := provider.RequestStatus{
		RequestID:  aws.ToString(req.SpotInstanceRequestId),
		State:      string(req.State),
		ResourceID: aws.ToString(req.InstanceId),
	}
	if req.Status != nil {
		status.StatusCode = aws.ToString(req.Status.Code)
		status.StatusMessage = aws.ToString(req.Status.Message)
	}
	if status.StatusMessage == "" && req.Fault != nil {
		status.StatusMessage = aws.ToString(req.Fault.Message)
	}
	return status
}

// DescribeResource looks up the instance's public address.
func (c *Client) DescribeResource(ctx context.Context, resourceID string) (provider.ResourceDetails, error) {
	var out *ec2.DescribeInstancesOutput
	err := c.call(ctx, "describe_instances", func(ctx context.Context) error {
		var err error
		out, err = c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{resourceID}})
		return err
	})
	if err != nil {
		return provider.ResourceDetails{}, err
	}
	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			if aws.ToString(inst.InstanceId) != resourceID {
				continue
			}
			addr := aws.ToString(inst.PublicIpAddress)
			if addr == "" {
				addr = aws.ToString(inst.PublicDnsName)
			}
			return provider.ResourceDetails{PublicAddress: addr}, nil
		}
	}
	return provider.ResourceDetails{}, nil
}

// CancelRequest cancels a spot request. Cancelling an already closed request succeeds.
func (c *Client) CancelRequest(ctx context.Context, requestID string) error {
	return c.call(ctx, "cancel_spot_instance_requests", func(ctx context.Context) error {
		_, err := c.api.CancelSpotInstanceRequests(ctx, &ec2.CancelSpotInstanceRequestsInput{
			SpotInstanceRequestIds: []string{requestID},
		})
		return err
	})
}

// TerminateResource terminates the backing instance.
func (c *Client) TerminateResource(ctx context.Context, resourceID string) error {
	return c.call(ctx, "terminate_instances", func(ctx context.Context) error {
		_, err := c.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{resourceID}})
		return err
	})
}

// TagRequest attaches tags to the spot request.
func (c *Client) TagRequest(ctx context.Context, requestID string, tags map[string]string) error {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ec2Tags := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		ec2Tags = append(ec2Tags, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}

	return c.call(ctx, "create_tags", func(ctx context.Context) error {
		_, err := c.api.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{requestID},
			Tags:      ec2Tags,
		})
		return err
	})
}

var (
	_ provider.Factory          = (*Factory)(nil)
	_ provider.PriceSource      = (*Client)(nil)
	_ provider.ResourceProvider = (*Client)(nil)
)
