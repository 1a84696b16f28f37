package lifecycle

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spotwatch/internal/domain"
	"spotwatch/internal/provider"
	"spotwatch/internal/storage"
)

type fakeProvider struct {
	mu sync.Mutex

	createStatus provider.RequestStatus
	createErr    error
	describe     provider.RequestStatus
	describeErr  error
	details      provider.ResourceDetails
	cancelErr    error
	terminateErr error
	tagErr       error

	createCalls    int
	cancelCalls    int
	terminateCalls int
	tags           map[string]string
	lastSpec       provider.LaunchSpec
}

func (f *fakeProvider) CreateRequest(_ context.Context, _ string, _ decimal.Decimal, spec provider.LaunchSpec) (provider.RequestStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastSpec = spec
	return f.createStatus, f.createErr
}

func (f *fakeProvider) DescribeRequest(context.Context, string) (provider.RequestStatus, error) {
	return f.describe, f.describeErr
}

func (f *fakeProvider) DescribeResource(context.Context, string) (provider.ResourceDetails, error) {
	return f.details, nil
}

func (f *fakeProvider) CancelRequest(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeProvider) TerminateResource(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminateCalls++
	return f.terminateErr
}

func (f *fakeProvider) TagRequest(_ context.Context, _ string, tags map[string]string) error {
	f.tags = tags
	return f.tagErr
}

type fakeFactory struct {
	rp *fakeProvider
}

func (f fakeFactory) PriceSource(context.Context, string) (provider.PriceSource, error) {
	return nil, errors.New("not used")
}

func (f fakeFactory) ResourceProvider(context.Context, string) (provider.ResourceProvider, error) {
	return f.rp, nil
}

func newTestManager(rp *fakeProvider) (*Manager, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	m := New(Options{Launch: provider.LaunchSpec{ImageID: "ami-default", KeyName: "ops"}}, fakeFactory{rp: rp}, store, zerolog.Nop())
	return m, store
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreatePersistsRequestedResource(t *testing.T) {
	rp := &fakeProvider{createStatus: provider.RequestStatus{
		RequestID:  "sir-1",
		State:      provider.RequestOpen,
		StatusCode: provider.StatusPendingEvaluation,
	}}
	m, store := newTestManager(rp)
	workload := &domain.WorkloadConfig{
		Image:   "nginx:1.27",
		Command: []string{"nginx", "-g", "daemon off;"},
		Env:     map[string]string{"MODE": "edge"},
		Ports:   []int{80, 443},
	}

	res, err := m.Create(context.Background(), "alice", "m5.large", "us-east-1", price("0.12"), CreateOptions{ImageID: "ami-custom"}, workload)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.State != domain.StateRequested || res.ProviderRequestID != "sir-1" || res.ID == "" {
		t.Fatalf("unexpected resource %+v", res)
	}
	if rp.lastSpec.ImageID != "ami-custom" || rp.lastSpec.KeyName != "ops" {
		t.Fatalf("expected launch overrides merged onto defaults, got %+v", rp.lastSpec)
	}
	if rp.tags[TagOwner] != "alice" || rp.tags[TagResourceID] != res.ID {
		t.Fatalf("expected owner tags, got %v", rp.tags)
	}

	stored, err := store.GetResource(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(stored.Workload, workload) {
		t.Fatalf("workload did not round-trip: %+v vs %+v", stored.Workload, workload)
	}
}

func TestCreateMapsPendingFulfillmentToEvaluating(t *testing.T) {
	rp := &fakeProvider{
		createStatus: provider.RequestStatus{RequestID: "sir-2", State: provider.RequestOpen, StatusCode: provider.StatusPendingFulfillment},
		tagErr:       errors.New("tagging throttled"),
	}
	m, _ := newTestManager(rp)
	res, err := m.Create(context.Background(), "alice", "c5.large", "eu-west-1", price("0.05"), CreateOptions{}, nil)
	if err != nil {
		t.Fatalf("tagging failure must not fail create: %v", err)
	}
	if res.State != domain.StateEvaluating {
		t.Fatalf("expected evaluating, got %s", res.State)
	}
}

func TestCreateValidatesBeforeProviderCall(t *testing.T) {
	rp := &fakeProvider{}
	m, store := newTestManager(rp)

	cases := []struct {
		name   string
		family string
		region string
		price  string
		field  string
	}{
		{"family", "not-a-real-type", "us-east-1", "0.1", "instance_family"},
		{"region", "m5.large", "moon-1", "0.1", "region"},
		{"price", "m5.large", "us-east-1", "0", "max_price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Create(context.Background(), "alice", tc.family, tc.region, price(tc.price), CreateOptions{}, nil)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
		})
	}

	if rp.createCalls != 0 {
		t.Fatalf("expected no provider calls, got %d", rp.createCalls)
	}
	list, _ := store.ListResourcesByOwner(context.Background(), "alice")
	if len(list) != 0 {
		t.Fatalf("expected nothing persisted, got %d", len(list))
	}
}

func TestCreateProviderFailureIsUpstream(t *testing.T) {
	rp := &fakeProvider{createErr: context.DeadlineExceeded}
	m, store := newTestManager(rp)
	_, err := m.Create(context.Background(), "alice", "m5.large", "us-east-1", price("0.1"), CreateOptions{}, nil)
	if !errors.Is(err, domain.ErrUpstream) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected upstream timeout, got %v", err)
	}
	list, _ := store.ListResourcesByOwner(context.Background(), "alice")
	if len(list) != 0 {
		t.Fatalf("expected nothing persisted, got %d", len(list))
	}
}

func createResource(t *testing.T, m *Manager, rp *fakeProvider) domain.Resource {
	t.Helper()
	rp.createStatus = provider.RequestStatus{RequestID: "sir-9", State: provider.RequestOpen, StatusCode: provider.StatusPendingEvaluation}
	res, err := m.Create(context.Background(), "alice", "m5.large", "us-east-1", price("0.1"), CreateOptions{}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return res
}

func TestPollLearnsAndNeverClearsIdentifiers(t *testing.T) {
	rp := &fakeProvider{}
	m, _ := newTestManager(rp)
	res := createResource(t, m, rp)

	rp.describe = provider.RequestStatus{State: provider.RequestActive, StatusCode: provider.StatusFulfilled, ResourceID: "i-123"}
	rp.details = provider.ResourceDetails{PublicAddress: "198.51.100.7"}
	first := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return first }

	polled, err := m.Poll(context.Background(), "alice", res.ID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if polled.State != domain.StateFulfilled || polled.ProviderResourceID != "i-123" || polled.PublicAddress != "198.51.100.7" {
		t.Fatalf("unexpected resource after fulfillment: %+v", polled)
	}

	// the provider stops reporting identifiers
	rp.describe = provider.RequestStatus{State: provider.RequestActive, StatusCode: "marked-for-stop", StatusMessage: "capacity"}
	rp.details = provider.ResourceDetails{}
	second := first.Add(time.Minute)
	m.now = func() time.Time { return second }

	polled, err = m.Poll(context.Background(), "alice", res.ID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if polled.ProviderResourceID != "i-123" || polled.PublicAddress != "198.51.100.7" {
		t.Fatalf("learned identifiers were cleared: %+v", polled)
	}
	if polled.StatusCode != "marked-for-stop" || !polled.UpdatedAt.Equal(second) {
		t.Fatalf("status fields not refreshed: %+v", polled)
	}
}

func TestPollChecksOwnershipAndExistence(t *testing.T) {
	rp := &fakeProvider{}
	m, store := newTestManager(rp)
	res := createResource(t, m, rp)

	_, err := m.Poll(context.Background(), "mallory", res.ID)
	var perr *domain.PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected permission error, got %v", err)
	}
	stored, _ := store.GetResource(context.Background(), res.ID)
	if !stored.UpdatedAt.Equal(res.UpdatedAt) {
		t.Fatalf("permission failure must not mutate the resource")
	}

	_, err = m.Poll(context.Background(), "alice", "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPollClosedBeforeFulfillmentFails(t *testing.T) {
	rp := &fakeProvider{}
	m, _ := newTestManager(rp)
	res := createResource(t, m, rp)

	rp.describe = provider.RequestStatus{State: provider.RequestClosed, StatusCode: "price-too-low"}
	polled, err := m.Poll(context.Background(), "alice", res.ID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if polled.State != domain.StateFailed {
		t.Fatalf("expected failed, got %s", polled.State)
	}

	// terminal resources are returned without consulting the provider
	rp.describeErr = errors.New("should not be called")
	again, err := m.Poll(context.Background(), "alice", res.ID)
	if err != nil || again.State != domain.StateFailed {
		t.Fatalf("expected no-op poll on terminal resource, got %+v %v", again, err)
	}
}

func fulfilledResource(t *testing.T, m *Manager, rp *fakeProvider) domain.Resource {
	t.Helper()
	res := createResource(t, m, rp)
	rp.describe = provider.RequestStatus{State: provider.RequestActive, StatusCode: provider.StatusFulfilled, ResourceID: "i-9"}
	polled, err := m.Poll(context.Background(), "alice", res.ID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	return polled
}

func TestTerminatePartialFailureKeepsState(t *testing.T) {
	rp := &fakeProvider{}
	m, store := newTestManager(rp)
	res := fulfilledResource(t, m, rp)

	rp.terminateErr = errors.New("instance protected")
	_, err := m.Terminate(context.Background(), "alice", res.ID)
	var pf *domain.PartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if len(pf.Succeeded) != 1 || pf.Succeeded[0] != "cancel_request" {
		t.Fatalf("unexpected partial failure %+v", pf)
	}
	if rp.cancelCalls != 1 || rp.terminateCalls != 1 {
		t.Fatalf("expected both calls attempted, got cancel=%d terminate=%d", rp.cancelCalls, rp.terminateCalls)
	}

	stored, _ := store.GetResource(context.Background(), res.ID)
	if stored.State != domain.StateFulfilled {
		t.Fatalf("expected state unchanged, got %s", stored.State)
	}
}

func TestTerminateBothFailIsUpstream(t *testing.T) {
	rp := &fakeProvider{}
	m, store := newTestManager(rp)
	res := fulfilledResource(t, m, rp)

	rp.cancelErr = errors.New("throttled")
	rp.terminateErr = errors.New("throttled")
	_, err := m.Terminate(context.Background(), "alice", res.ID)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	stored, _ := store.GetResource(context.Background(), res.ID)
	if stored.State != domain.StateFulfilled {
		t.Fatalf("expected state unchanged, got %s", stored.State)
	}
}

func TestTerminateSucceedsAndShortCircuits(t *testing.T) {
	rp := &fakeProvider{}
	m, _ := newTestManager(rp)
	res := fulfilledResource(t, m, rp)

	terminated, err := m.Terminate(context.Background(), "alice", res.ID)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if terminated.State != domain.StateTerminated {
		t.Fatalf("expected terminated, got %s", terminated.State)
	}

	again, err := m.Terminate(context.Background(), "alice", res.ID)
	if err != nil || again.State != domain.StateTerminated {
		t.Fatalf("expected idempotent terminate, got %+v %v", again, err)
	}
	if rp.cancelCalls != 1 || rp.terminateCalls != 1 {
		t.Fatalf("expected no repeated provider calls, got cancel=%d terminate=%d", rp.cancelCalls, rp.terminateCalls)
	}
}

func TestTerminateWithoutInstanceOnlyCancels(t *testing.T) {
	rp := &fakeProvider{}
	m, _ := newTestManager(rp)
	res := createResource(t, m, rp)

	terminated, err := m.Terminate(context.Background(), "alice", res.ID)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if terminated.State != domain.StateTerminated || rp.cancelCalls != 1 || rp.terminateCalls != 0 {
		t.Fatalf("unexpected terminate outcome %+v cancel=%d terminate=%d", terminated, rp.cancelCalls, rp.terminateCalls)
	}
}

func TestTerminateRejectsForeignCaller(t *testing.T) {
	rp := &fakeProvider{}
	m, store := newTestManager(rp)
	res := fulfilledResource(t, m, rp)

	_, err := m.Terminate(context.Background(), "mallory", res.ID)
	var perr *domain.PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if rp.cancelCalls != 0 || rp.terminateCalls != 0 {
		t.Fatalf("expected no provider calls, got cancel=%d terminate=%d", rp.cancelCalls, rp.terminateCalls)
	}
	stored, err := store.GetResource(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.State != domain.StateFulfilled || !stored.UpdatedAt.Equal(res.UpdatedAt) {
		t.Fatalf("permission failure must not mutate the resource: %+v", stored)
	}
}
