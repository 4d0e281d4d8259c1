// Package orchestrator drives a site's cloud resources through deploy and
// undeploy as explicit, existence-gated steps.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/yuya-takeyama/strict-site-deploy/internal/cdn"
	"github.com/yuya-takeyama/strict-site-deploy/internal/cert"
	"github.com/yuya-takeyama/strict-site-deploy/internal/dns"
	"github.com/yuya-takeyama/strict-site-deploy/internal/logging"
	"github.com/yuya-takeyama/strict-site-deploy/internal/syncer"
	"github.com/yuya-takeyama/strict-site-deploy/pkg/planner"
)

type Buckets interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	WebsiteConfigured(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, indexDocument string) error
	DeleteBucket(ctx context.Context, bucket string) error
	FileSet(ctx context.Context, bucket string) (planner.Set, error)
}

type Certificates interface {
	Find(ctx context.Context, domain string) (string, error)
	Request(ctx context.Context, domain string) (string, error)
	ValidationRecord(ctx context.Context, arn string) (*cert.ValidationRecord, error)
	WaitValidationRecord(ctx context.Context, arn string) (*cert.ValidationRecord, error)
	Validated(ctx context.Context, arn string) (bool, error)
	WaitValidated(ctx context.Context, arn string) error
	Delete(ctx context.Context, arn string) error
}

type Records interface {
	HostedZoneID(ctx context.Context, rootDomain string) (string, error)
	Find(ctx context.Context, zoneID, name string, rrType types.RRType) (*types.ResourceRecordSet, error)
	Create(ctx context.Context, zoneID string, rrs types.ResourceRecordSet) error
	Delete(ctx context.Context, zoneID string, rrs types.ResourceRecordSet) error
}

type Distributions interface {
	Find(ctx context.Context, alias string) (*cdn.Distribution, error)
	Create(ctx context.Context, spec cdn.Spec) (*cdn.Distribution, error)
	WaitDeployed(ctx context.Context, id string) error
	Enable(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Cleaner empties a bucket. *syncer.Syncer implements it.
type Cleaner interface {
	DeleteAll(ctx context.Context, bucket string) (*syncer.Result, error)
}

var errMissing = errors.New("resource disappeared")

// Site names the resources of one static site.
type Site struct {
	Bucket        string
	RootDomain    string
	IndexDocument string
	PriceClass    string
}

type Deps struct {
	Buckets       Buckets
	Certificates  Certificates
	Records       Records
	Distributions Distributions
	Cleaner       Cleaner
}

type Options struct {
	// DryRun reports the steps that would run without applying any.
	DryRun bool
}

type Orchestrator struct {
	site Site
	deps Deps
	log  *logging.Logger
	opts Options

	zoneID string
}

func New(site Site, deps Deps, log *logging.Logger, opts Options) *Orchestrator {
	return &Orchestrator{site: site, deps: deps, log: log.With("site", site.Bucket), opts: opts}
}

// Deploy brings every resource to its ready state, skipping those that
// already are.
func (o *Orchestrator) Deploy(ctx context.Context) error {
	return Run(ctx, o.log, o.DeploySteps(), o.opts.DryRun)
}

// Undeploy removes every resource in reverse dependency order.
func (o *Orchestrator) Undeploy(ctx context.Context) error {
	return Run(ctx, o.log, o.UndeploySteps(), o.opts.DryRun)
}

func (o *Orchestrator) DeploySteps() []Step {
	return []Step{
		{
			Name:     "create bucket",
			Resource: ResourceBucket,
			Query:    o.bucketState,
			Done:     is(Ready),
			Apply: func(ctx context.Context) error {
				return o.deps.Buckets.CreateBucket(ctx, o.site.Bucket, o.site.IndexDocument)
			},
		},
		{
			Name:     "request certificate",
			Resource: ResourceCertificate,
			Query:    o.certificateState,
			Done:     isNot(Absent),
			Apply: func(ctx context.Context) error {
				_, err := o.deps.Certificates.Request(ctx, o.site.Bucket)
				return err
			},
		},
		{
			Name:     "wait for validation record",
			Resource: ResourceCertificate,
			Query:    o.certificateState,
			Done:     is(Ready),
			Apply: func(ctx context.Context) error {
				arn, err := o.certificateARN(ctx)
				if err != nil {
					return err
				}
				_, err = o.deps.Certificates.WaitValidationRecord(ctx, arn)
				return err
			},
		},
		{
			Name:     "create validation record",
			Resource: ResourceValidationRecord,
			Query:    o.validationRecordState,
			Done:     is(Ready),
			Apply: func(ctx context.Context) error {
				record, err := o.validationRecord(ctx)
				if err != nil {
					return err
				}
				zoneID, err := o.hostedZone(ctx)
				if err != nil {
					return err
				}
				return o.deps.Records.Create(ctx, zoneID, dns.CNAMERecord(record.Name, record.Value))
			},
		},
		{
			Name:     "wait for certificate validation",
			Resource: ResourceCertificateValidation,
			Query:    o.certificateValidationState,
			Done:     is(Ready),
			Apply: func(ctx context.Context) error {
				arn, err := o.certificateARN(ctx)
				if err != nil {
					return err
				}
				return o.deps.Certificates.WaitValidated(ctx, arn)
			},
		},
		{
			Name:     "create distribution",
			Resource: ResourceDistribution,
			Query:    o.distributionState,
			Done:     is(Ready),
			Apply:    o.createDistribution,
		},
		{
			Name:     "create alias record",
			Resource: ResourceAliasRecord,
			Query:    o.aliasRecordState,
			Done:     is(Ready),
			Apply: func(ctx context.Context) error {
				dist, err := o.distribution(ctx)
				if err != nil {
					return err
				}
				zoneID, err := o.hostedZone(ctx)
				if err != nil {
					return err
				}
				return o.deps.Records.Create(ctx, zoneID, dns.AliasRecord(o.site.Bucket, dist.DomainName))
			},
		},
	}
}

func (o *Orchestrator) UndeploySteps() []Step {
	return []Step{
		{
			Name:     "delete alias record",
			Resource: ResourceAliasRecord,
			Query:    o.aliasRecordState,
			Done:     is(Absent),
			Apply: func(ctx context.Context) error {
				return o.deleteRecord(ctx, o.site.Bucket, types.RRTypeA)
			},
		},
		{
			Name:     "delete distribution",
			Resource: ResourceDistribution,
			Query:    o.distributionState,
			Done:     is(Absent),
			Apply: func(ctx context.Context) error {
				dist, err := o.distribution(ctx)
				if err != nil {
					return err
				}
				return o.deps.Distributions.Delete(ctx, dist.ID)
			},
		},
		{
			Name:     "delete validation record",
			Resource: ResourceValidationRecord,
			Query:    o.validationRecordState,
			Done:     is(Absent),
			Apply: func(ctx context.Context) error {
				record, err := o.validationRecord(ctx)
				if err != nil {
					return err
				}
				return o.deleteRecord(ctx, record.Name, types.RRTypeCname)
			},
		},
		{
			Name:     "delete certificate",
			Resource: ResourceCertificate,
			Query:    o.certificateState,
			Done:     is(Absent),
			Apply: func(ctx context.Context) error {
				arn, err := o.certificateARN(ctx)
				if err != nil {
					return err
				}
				return o.deps.Certificates.Delete(ctx, arn)
			},
		},
		{
			Name:     "delete files",
			Resource: ResourceFiles,
			Query:    o.filesState,
			Done:     is(Absent),
			Apply: func(ctx context.Context) error {
				_, err := o.deps.Cleaner.DeleteAll(ctx, o.site.Bucket)
				return err
			},
		},
		{
			Name:     "delete bucket",
			Resource: ResourceBucket,
			Query:    o.bucketState,
			Done:     is(Absent),
			Apply: func(ctx context.Context) error {
				return o.deps.Buckets.DeleteBucket(ctx, o.site.Bucket)
			},
		},
	}
}

type ResourceStatus struct {
	Resource Resource
	State    State
}

// Status queries every resource of the site.
func (o *Orchestrator) Status(ctx context.Context) ([]ResourceStatus, error) {
	queries := []struct {
		resource Resource
		query    Query
	}{
		{ResourceBucket, o.bucketState},
		{ResourceFiles, o.filesState},
		{ResourceCertificate, o.certificateState},
		{ResourceValidationRecord, o.validationRecordState},
		{ResourceCertificateValidation, o.certificateValidationState},
		{ResourceDistribution, o.distributionState},
		{ResourceAliasRecord, o.aliasRecordState},
	}

	statuses := make([]ResourceStatus, 0, len(queries))
	for _, q := range queries {
		state, err := q.query(ctx)
		if err != nil {
			return statuses, fmt.Errorf("query %s: %w", q.resource, err)
		}
		statuses = append(statuses, ResourceStatus{Resource: q.resource, State: state})
	}
	return statuses, nil
}

// bucketState is Pending while the bucket exists without website hosting,
// as left behind by an interrupted create.
func (o *Orchestrator) bucketState(ctx context.Context) (State, error) {
	exists, err := o.deps.Buckets.BucketExists(ctx, o.site.Bucket)
	if err != nil || !exists {
		return Absent, err
	}
	website, err := o.deps.Buckets.WebsiteConfigured(ctx, o.site.Bucket)
	if err != nil {
		return Absent, err
	}
	if !website {
		return Pending, nil
	}
	return Ready, nil
}

func (o *Orchestrator) filesState(ctx context.Context) (State, error) {
	exists, err := o.deps.Buckets.BucketExists(ctx, o.site.Bucket)
	if err != nil || !exists {
		return Absent, err
	}
	files, err := o.deps.Buckets.FileSet(ctx, o.site.Bucket)
	if err != nil || len(files) == 0 {
		return Absent, err
	}
	return Ready, nil
}

// certificateState is Pending until ACM has published the validation record.
func (o *Orchestrator) certificateState(ctx context.Context) (State, error) {
	arn, err := o.deps.Certificates.Find(ctx, o.site.Bucket)
	if err != nil || arn == "" {
		return Absent, err
	}
	record, err := o.deps.Certificates.ValidationRecord(ctx, arn)
	if err != nil {
		return Absent, err
	}
	if record == nil {
		return Pending, nil
	}
	return Ready, nil
}

// validationRecordState treats a missing certificate as a missing record,
// since the record name comes from the certificate.
func (o *Orchestrator) validationRecordState(ctx context.Context) (State, error) {
	arn, err := o.deps.Certificates.Find(ctx, o.site.Bucket)
	if err != nil || arn == "" {
		return Absent, err
	}
	record, err := o.deps.Certificates.ValidationRecord(ctx, arn)
	if err != nil || record == nil {
		return Absent, err
	}
	return o.recordState(ctx, record.Name, types.RRTypeCname)
}

func (o *Orchestrator) certificateValidationState(ctx context.Context) (State, error) {
	arn, err := o.deps.Certificates.Find(ctx, o.site.Bucket)
	if err != nil || arn == "" {
		return Absent, err
	}
	validated, err := o.deps.Certificates.Validated(ctx, arn)
	if err != nil {
		return Absent, err
	}
	if !validated {
		return Pending, nil
	}
	return Ready, nil
}

// distributionState is Pending while a change rolls out and while the
// distribution is disabled, since a disabled one serves nothing.
func (o *Orchestrator) distributionState(ctx context.Context) (State, error) {
	dist, err := o.deps.Distributions.Find(ctx, o.site.Bucket)
	if err != nil || dist == nil {
		return Absent, err
	}
	if !dist.Enabled || !dist.Deployed() {
		return Pending, nil
	}
	return Ready, nil
}

func (o *Orchestrator) aliasRecordState(ctx context.Context) (State, error) {
	return o.recordState(ctx, o.site.Bucket, types.RRTypeA)
}

func (o *Orchestrator) recordState(ctx context.Context, name string, rrType types.RRType) (State, error) {
	zoneID, err := o.hostedZone(ctx)
	if err != nil {
		return Absent, err
	}
	rrs, err := o.deps.Records.Find(ctx, zoneID, name, rrType)
	if err != nil || rrs == nil {
		return Absent, err
	}
	return Ready, nil
}

func (o *Orchestrator) createDistribution(ctx context.Context) error {
	// An existing distribution left disabled by an interrupted undeploy is
	// turned back on; one still rolling out only needs waiting on
	dist, err := o.deps.Distributions.Find(ctx, o.site.Bucket)
	if err != nil {
		return err
	}
	if dist != nil && !dist.Enabled {
		return o.deps.Distributions.Enable(ctx, dist.ID)
	}
	if dist != nil {
		return o.deps.Distributions.WaitDeployed(ctx, dist.ID)
	}

	arn, err := o.certificateARN(ctx)
	if err != nil {
		return err
	}
	dist, err = o.deps.Distributions.Create(ctx, cdn.Spec{
		Bucket:            o.site.Bucket,
		CertificateARN:    arn,
		DefaultRootObject: o.site.IndexDocument,
		PriceClass:        cftypes.PriceClass(o.site.PriceClass),
	})
	if err != nil {
		return err
	}
	o.log.Info("distribution %s serves %s", dist.ID, dist.DomainName)
	return nil
}

func (o *Orchestrator) deleteRecord(ctx context.Context, name string, rrType types.RRType) error {
	zoneID, err := o.hostedZone(ctx)
	if err != nil {
		return err
	}
	// Route 53 only deletes a record set given its exact current content
	rrs, err := o.deps.Records.Find(ctx, zoneID, name, rrType)
	if err != nil {
		return err
	}
	if rrs == nil {
		return fmt.Errorf("%s record %s: %w", rrType, name, errMissing)
	}
	return o.deps.Records.Delete(ctx, zoneID, *rrs)
}

func (o *Orchestrator) hostedZone(ctx context.Context) (string, error) {
	if o.zoneID != "" {
		return o.zoneID, nil
	}
	zoneID, err := o.deps.Records.HostedZoneID(ctx, o.site.RootDomain)
	if err != nil {
		return "", err
	}
	o.zoneID = zoneID
	return zoneID, nil
}

func (o *Orchestrator) certificateARN(ctx context.Context) (string, error) {
	arn, err := o.deps.Certificates.Find(ctx, o.site.Bucket)
	if err != nil {
		return "", err
	}
	if arn == "" {
		return "", fmt.Errorf("certificate for %s: %w", o.site.Bucket, errMissing)
	}
	return arn, nil
}

func (o *Orchestrator) validationRecord(ctx context.Context) (*cert.ValidationRecord, error) {
	arn, err := o.certificateARN(ctx)
	if err != nil {
		return nil, err
	}
	record, err := o.deps.Certificates.ValidationRecord(ctx, arn)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("validation record for %s: %w", o.site.Bucket, errMissing)
	}
	return record, nil
}

func (o *Orchestrator) distribution(ctx context.Context) (*cdn.Distribution, error) {
	dist, err := o.deps.Distributions.Find(ctx, o.site.Bucket)
	if err != nil {
		return nil, err
	}
	if dist == nil {
		return nil, fmt.Errorf("distribution for %s: %w", o.site.Bucket, errMissing)
	}
	return dist, nil
}
