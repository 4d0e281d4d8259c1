package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-site-deploy/internal/cdn"
	"github.com/yuya-takeyama/strict-site-deploy/internal/cert"
	"github.com/yuya-takeyama/strict-site-deploy/internal/logging"
	"github.com/yuya-takeyama/strict-site-deploy/internal/syncer"
	"github.com/yuya-takeyama/strict-site-deploy/pkg/planner"
)

const (
	siteName       = "www.example.com"
	validationName = "_val.www.example.com."
)

// world is an in-memory account shared by the fake collaborators.
type world struct {
	calls  []string
	failOn string

	bucket    bool
	website   bool
	files     int
	certARN   string
	published bool
	validated bool
	records   map[string]types.ResourceRecordSet
	dist      *cdn.Distribution
}

func newWorld() *world {
	return &world{records: make(map[string]types.ResourceRecordSet)}
}

func (w *world) call(format string, args ...any) error {
	name := fmt.Sprintf(format, args...)
	if w.failOn != "" && w.failOn == name {
		return errors.New("injected failure: " + name)
	}
	w.calls = append(w.calls, name)
	return nil
}

func recordKey(name string, rrType types.RRType) string {
	return string(rrType) + " " + name
}

func (w *world) deps() Deps {
	return Deps{
		Buckets:       &fakeBuckets{w},
		Certificates:  &fakeCertificates{w},
		Records:       &fakeRecords{w},
		Distributions: &fakeDistributions{w},
		Cleaner:       &fakeCleaner{w},
	}
}

type fakeBuckets struct{ w *world }

func (f *fakeBuckets) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.w.bucket, nil
}

func (f *fakeBuckets) WebsiteConfigured(ctx context.Context, bucket string) (bool, error) {
	return f.w.bucket && f.w.website, nil
}

func (f *fakeBuckets) CreateBucket(ctx context.Context, bucket, indexDocument string) error {
	if err := f.w.call("create bucket %s (%s)", bucket, indexDocument); err != nil {
		return err
	}
	f.w.bucket, f.w.website = true, true
	return nil
}

func (f *fakeBuckets) DeleteBucket(ctx context.Context, bucket string) error {
	if f.w.files > 0 {
		return errors.New("BucketNotEmpty")
	}
	if err := f.w.call("delete bucket"); err != nil {
		return err
	}
	f.w.bucket, f.w.website = false, false
	return nil
}

func (f *fakeBuckets) FileSet(ctx context.Context, bucket string) (planner.Set, error) {
	set := planner.NewSet()
	for i := range f.w.files {
		set.Add(planner.FileEntry{Path: fmt.Sprintf("file%d", i), Hash: "h"})
	}
	return set, nil
}

type fakeCertificates struct{ w *world }

func (f *fakeCertificates) Find(ctx context.Context, domain string) (string, error) {
	return f.w.certARN, nil
}

func (f *fakeCertificates) Request(ctx context.Context, domain string) (string, error) {
	if err := f.w.call("request certificate %s", domain); err != nil {
		return "", err
	}
	f.w.certARN = "arn:cert"
	return f.w.certARN, nil
}

func (f *fakeCertificates) ValidationRecord(ctx context.Context, arn string) (*cert.ValidationRecord, error) {
	if !f.w.published {
		return nil, nil
	}
	return &cert.ValidationRecord{Name: validationName, Type: "CNAME", Value: "_x.acm-validations.aws."}, nil
}

func (f *fakeCertificates) WaitValidationRecord(ctx context.Context, arn string) (*cert.ValidationRecord, error) {
	if err := f.w.call("wait validation record"); err != nil {
		return nil, err
	}
	f.w.published = true
	return f.ValidationRecord(ctx, arn)
}

func (f *fakeCertificates) Validated(ctx context.Context, arn string) (bool, error) {
	return f.w.validated, nil
}

func (f *fakeCertificates) WaitValidated(ctx context.Context, arn string) error {
	if _, ok := f.w.records[recordKey(validationName, types.RRTypeCname)]; !ok {
		return errors.New("validation would never succeed without the CNAME")
	}
	if err := f.w.call("wait validated"); err != nil {
		return err
	}
	f.w.validated = true
	return nil
}

func (f *fakeCertificates) Delete(ctx context.Context, arn string) error {
	if f.w.dist != nil {
		return errors.New("ResourceInUseException")
	}
	if err := f.w.call("delete certificate"); err != nil {
		return err
	}
	f.w.certARN, f.w.published, f.w.validated = "", false, false
	return nil
}

type fakeRecords struct{ w *world }

func (f *fakeRecords) HostedZoneID(ctx context.Context, rootDomain string) (string, error) {
	if rootDomain != "example.com" {
		return "", errors.New("hosted zone not found")
	}
	return "Z1", nil
}

func (f *fakeRecords) Find(ctx context.Context, zoneID, name string, rrType types.RRType) (*types.ResourceRecordSet, error) {
	rrs, ok := f.w.records[recordKey(name, rrType)]
	if !ok {
		return nil, nil
	}
	return &rrs, nil
}

func (f *fakeRecords) Create(ctx context.Context, zoneID string, rrs types.ResourceRecordSet) error {
	key := recordKey(aws.ToString(rrs.Name), rrs.Type)
	if _, ok := f.w.records[key]; ok {
		return errors.New("record already exists")
	}
	if err := f.w.call("create %s", key); err != nil {
		return err
	}
	f.w.records[key] = rrs
	return nil
}

func (f *fakeRecords) Delete(ctx context.Context, zoneID string, rrs types.ResourceRecordSet) error {
	key := recordKey(aws.ToString(rrs.Name), rrs.Type)
	if err := f.w.call("delete %s", key); err != nil {
		return err
	}
	delete(f.w.records, key)
	return nil
}

type fakeDistributions struct{ w *world }

func (f *fakeDistributions) Find(ctx context.Context, alias string) (*cdn.Distribution, error) {
	if f.w.dist == nil {
		return nil, nil
	}
	d := *f.w.dist
	return &d, nil
}

func (f *fakeDistributions) Create(ctx context.Context, spec cdn.Spec) (*cdn.Distribution, error) {
	if !f.w.validated {
		return nil, errors.New("InvalidViewerCertificate")
	}
	if err := f.w.call("create distribution %s with %s", spec.Bucket, spec.CertificateARN); err != nil {
		return nil, err
	}
	f.w.dist = &cdn.Distribution{ID: "E1", DomainName: "d1.cloudfront.net", Status: cdn.StatusDeployed, Enabled: true}
	return f.w.dist, nil
}

func (f *fakeDistributions) WaitDeployed(ctx context.Context, id string) error {
	if err := f.w.call("wait deployed %s", id); err != nil {
		return err
	}
	f.w.dist.Status = cdn.StatusDeployed
	return nil
}

func (f *fakeDistributions) Enable(ctx context.Context, id string) error {
	if err := f.w.call("enable distribution %s", id); err != nil {
		return err
	}
	f.w.dist.Enabled = true
	f.w.dist.Status = cdn.StatusDeployed
	return nil
}

func (f *fakeDistributions) Delete(ctx context.Context, id string) error {
	if err := f.w.call("delete distribution %s", id); err != nil {
		return err
	}
	f.w.dist = nil
	return nil
}

type fakeCleaner struct{ w *world }

func (f *fakeCleaner) DeleteAll(ctx context.Context, bucket string) (*syncer.Result, error) {
	if err := f.w.call("delete files"); err != nil {
		return nil, err
	}
	deleted := int64(f.w.files)
	f.w.files = 0
	return &syncer.Result{Bucket: bucket, Deleted: deleted}, nil
}

func newOrchestrator(w *world) *Orchestrator {
	return New(Site{
		Bucket:        siteName,
		RootDomain:    "example.com",
		IndexDocument: "index.html",
		PriceClass:    "PriceClass_100",
	}, w.deps(), logging.Nop(), Options{})
}

var deployCalls = []string{
	"create bucket www.example.com (index.html)",
	"request certificate www.example.com",
	"wait validation record",
	"create CNAME " + validationName,
	"wait validated",
	"create distribution www.example.com with arn:cert",
	"create A www.example.com",
}

func TestDeployFromScratch(t *testing.T) {
	w := newWorld()

	require.NoError(t, newOrchestrator(w).Deploy(context.Background()))
	assert.Equal(t, deployCalls, w.calls)

	alias := w.records[recordKey(siteName, types.RRTypeA)]
	assert.Equal(t, "d1.cloudfront.net", aws.ToString(alias.AliasTarget.DNSName))
}

func TestDeployIsIdempotent(t *testing.T) {
	w := newWorld()
	o := newOrchestrator(w)
	require.NoError(t, o.Deploy(context.Background()))
	w.calls = nil

	require.NoError(t, o.Deploy(context.Background()))
	assert.Empty(t, w.calls)
}

func TestDeployResumesFromPartialState(t *testing.T) {
	w := newWorld()
	w.bucket, w.website = true, true
	w.certARN = "arn:cert"

	require.NoError(t, newOrchestrator(w).Deploy(context.Background()))
	assert.Equal(t, deployCalls[2:], w.calls)
}

func TestDeployFinishesHalfCreatedBucket(t *testing.T) {
	w := newWorld()
	w.bucket = true
	o := newOrchestrator(w)

	state, err := o.bucketState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Pending, state)

	require.NoError(t, o.Deploy(context.Background()))
	assert.Equal(t, deployCalls, w.calls)
	assert.True(t, w.website)
}

func TestDeployReenablesDisabledDistribution(t *testing.T) {
	w := newWorld()
	o := newOrchestrator(w)
	require.NoError(t, o.Deploy(context.Background()))
	w.dist.Enabled = false
	w.calls = nil

	state, err := o.distributionState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Pending, state)

	require.NoError(t, o.Deploy(context.Background()))
	assert.Equal(t, []string{"enable distribution E1"}, w.calls)
	assert.True(t, w.dist.Enabled)
}

func TestDeployWaitsForDistributionInProgress(t *testing.T) {
	w := newWorld()
	o := newOrchestrator(w)
	require.NoError(t, o.Deploy(context.Background()))
	delete(w.records, recordKey(siteName, types.RRTypeA))
	w.dist.Status = "InProgress"
	w.calls = nil

	require.NoError(t, o.Deploy(context.Background()))
	assert.Equal(t, []string{"wait deployed E1", "create A www.example.com"}, w.calls)
}

func TestDeployAbortsOnFirstError(t *testing.T) {
	w := newWorld()
	w.failOn = "create distribution www.example.com with arn:cert"
	o := newOrchestrator(w)

	err := o.Deploy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create distribution: injected failure")
	assert.Equal(t, deployCalls[:5], w.calls)
	assert.NotContains(t, w.records, recordKey(siteName, types.RRTypeA))

	w.failOn = ""
	w.calls = nil
	require.NoError(t, o.Deploy(context.Background()))
	assert.Equal(t, deployCalls[5:], w.calls)
}

func TestUndeploy(t *testing.T) {
	w := newWorld()
	o := newOrchestrator(w)
	require.NoError(t, o.Deploy(context.Background()))
	w.files = 3
	w.calls = nil

	require.NoError(t, o.Undeploy(context.Background()))
	assert.Equal(t, []string{
		"delete A www.example.com",
		"delete distribution E1",
		"delete CNAME " + validationName,
		"delete certificate",
		"delete files",
		"delete bucket",
	}, w.calls)

	w.calls = nil
	require.NoError(t, o.Undeploy(context.Background()))
	assert.Empty(t, w.calls)
}

func TestDryRunAppliesNothing(t *testing.T) {
	dryRun := func(w *world) *Orchestrator {
		return New(Site{
			Bucket:        siteName,
			RootDomain:    "example.com",
			IndexDocument: "index.html",
		}, w.deps(), logging.Nop(), Options{DryRun: true})
	}

	t.Run("undeploy", func(t *testing.T) {
		w := newWorld()
		require.NoError(t, newOrchestrator(w).Deploy(context.Background()))
		w.files = 3
		w.calls = nil

		require.NoError(t, dryRun(w).Undeploy(context.Background()))
		assert.Empty(t, w.calls)
		assert.NotNil(t, w.dist)
		assert.Equal(t, "arn:cert", w.certARN)
		assert.Contains(t, w.records, recordKey(siteName, types.RRTypeA))
		assert.Contains(t, w.records, recordKey(validationName, types.RRTypeCname))
		assert.Equal(t, 3, w.files)
		assert.True(t, w.bucket)
	})

	t.Run("deploy", func(t *testing.T) {
		w := newWorld()

		require.NoError(t, dryRun(w).Deploy(context.Background()))
		assert.Empty(t, w.calls)
		assert.False(t, w.bucket)
		assert.Empty(t, w.certARN)
		assert.Nil(t, w.dist)
	})
}

func TestUndeployOnlyBucket(t *testing.T) {
	w := newWorld()
	w.bucket = true
	w.files = 2

	require.NoError(t, newOrchestrator(w).Undeploy(context.Background()))
	assert.Equal(t, []string{"delete files", "delete bucket"}, w.calls)
}

func TestStatus(t *testing.T) {
	w := newWorld()
	w.bucket, w.website = true, true
	w.certARN = "arn:cert"
	o := newOrchestrator(w)

	statuses, err := o.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ResourceStatus{
		{ResourceBucket, Ready},
		{ResourceFiles, Absent},
		{ResourceCertificate, Pending},
		{ResourceValidationRecord, Absent},
		{ResourceCertificateValidation, Pending},
		{ResourceDistribution, Absent},
		{ResourceAliasRecord, Absent},
	}, statuses)
	assert.Empty(t, w.calls, "status never mutates")
}

func TestStatusPropagatesErrors(t *testing.T) {
	w := newWorld()
	o := New(Site{Bucket: siteName, RootDomain: "example.org"}, w.deps(), logging.Nop(), Options{})

	_, err := o.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hosted zone not found")
}

func TestRun(t *testing.T) {
	t.Run("skips steps whose target holds", func(t *testing.T) {
		applied := 0
		steps := []Step{{
			Name:  "noop",
			Query: func(context.Context) (State, error) { return Ready, nil },
			Done:  is(Ready),
			Apply: func(context.Context) error { applied++; return nil },
		}}
		require.NoError(t, Run(context.Background(), logging.Nop(), steps, false))
		assert.Zero(t, applied)
	})

	t.Run("dry run reports without applying", func(t *testing.T) {
		queried, applied := 0, 0
		step := Step{
			Name:  "create",
			Query: func(context.Context) (State, error) { queried++; return Absent, nil },
			Done:  is(Ready),
			Apply: func(context.Context) error { applied++; return nil },
		}
		require.NoError(t, Run(context.Background(), logging.Nop(), []Step{step, step}, true))
		assert.Equal(t, 2, queried)
		assert.Zero(t, applied)
	})

	t.Run("query errors abort", func(t *testing.T) {
		boom := errors.New("throttled")
		steps := []Step{
			{
				Name:     "first",
				Resource: ResourceBucket,
				Query:    func(context.Context) (State, error) { return Absent, boom },
				Done:     is(Ready),
				Apply:    func(context.Context) error { t.Fatal("must not apply"); return nil },
			},
			{
				Name:  "second",
				Query: func(context.Context) (State, error) { t.Fatal("must not query"); return Absent, nil },
			},
		}
		err := Run(context.Background(), logging.Nop(), steps, false)
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "first: query bucket")
	})

	t.Run("cancelled context stops before the next step", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		steps := []Step{{
			Name:  "never",
			Query: func(context.Context) (State, error) { t.Fatal("must not query"); return Absent, nil },
		}}
		assert.ErrorIs(t, Run(ctx, logging.Nop(), steps, false), context.Canceled)
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "absent", Absent.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "State(7)", State(7).String())
}
