// Package dns manages the Route 53 records of a site: the certificate
// validation CNAME and the alias pointing the site name at its distribution.
package dns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/yuya-takeyama/strict-site-deploy/internal/poll"
)

// CloudFrontHostedZoneID is the fixed hosted zone of every CloudFront
// distribution, used as the alias target zone.
const CloudFrontHostedZoneID = "Z2FDTNDATAQYW2"

const validationTTL = 300

var ErrHostedZoneNotFound = errors.New("hosted zone not found")

type API interface {
	ListHostedZonesByName(ctx context.Context, params *route53.ListHostedZonesByNameInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error)
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
	GetChange(ctx context.Context, params *route53.GetChangeInput, optFns ...func(*route53.Options)) (*route53.GetChangeOutput, error)
}

var _ API = (*route53.Client)(nil)

type Records struct {
	api    API
	policy poll.Policy
}

func NewAWSRecords(cfg aws.Config, policy poll.Policy) *Records {
	return NewRecords(route53.NewFromConfig(cfg), policy)
}

func NewRecords(api API, policy poll.Policy) *Records {
	return &Records{api: api, policy: policy}
}

// HostedZoneID returns the bare ID of the public zone named rootDomain.
func (r *Records) HostedZoneID(ctx context.Context, rootDomain string) (string, error) {
	out, err := r.api.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
		DNSName:  aws.String(fqdn(rootDomain)),
		MaxItems: aws.Int32(1),
	})
	if err != nil {
		return "", fmt.Errorf("list hosted zones: %w", err)
	}
	// The listing starts at DNSName but may continue with the next zone
	if len(out.HostedZones) == 0 || !sameName(aws.ToString(out.HostedZones[0].Name), rootDomain) {
		return "", fmt.Errorf("%w: %s", ErrHostedZoneNotFound, rootDomain)
	}
	return strings.TrimPrefix(aws.ToString(out.HostedZones[0].Id), "/hostedzone/"), nil
}

// Find returns the record set called name with type rrType, or nil.
func (r *Records) Find(ctx context.Context, zoneID, name string, rrType types.RRType) (*types.ResourceRecordSet, error) {
	out, err := r.api.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(zoneID),
		StartRecordName: aws.String(name),
		StartRecordType: rrType,
		MaxItems:        aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("list record sets for %s: %w", name, err)
	}
	if len(out.ResourceRecordSets) == 0 {
		return nil, nil
	}
	rrs := out.ResourceRecordSets[0]
	if !sameName(aws.ToString(rrs.Name), name) || rrs.Type != rrType {
		return nil, nil
	}
	return &rrs, nil
}

// Create adds rrs and waits until the change is in sync.
func (r *Records) Create(ctx context.Context, zoneID string, rrs types.ResourceRecordSet) error {
	return r.change(ctx, zoneID, types.ChangeActionCreate, rrs)
}

// Delete removes rrs, which must match the live record exactly, and waits
// until the change is in sync.
func (r *Records) Delete(ctx context.Context, zoneID string, rrs types.ResourceRecordSet) error {
	return r.change(ctx, zoneID, types.ChangeActionDelete, rrs)
}

func (r *Records) change(ctx context.Context, zoneID string, action types.ChangeAction, rrs types.ResourceRecordSet) error {
	out, err := r.api.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{Action: action, ResourceRecordSet: &rrs}},
		},
	})
	if err != nil {
		return fmt.Errorf("%s %s record %s: %w", strings.ToLower(string(action)), rrs.Type, aws.ToString(rrs.Name), err)
	}
	if out.ChangeInfo == nil {
		return nil
	}

	waiter := route53.NewResourceRecordSetsChangedWaiter(r.api, func(o *route53.ResourceRecordSetsChangedWaiterOptions) {
		o.MinDelay, o.MaxDelay = r.policy.Delay(), r.policy.Delay()
	})
	if err := waiter.Wait(ctx, &route53.GetChangeInput{Id: out.ChangeInfo.Id}, r.policy.MaxWait()); err != nil {
		return fmt.Errorf("wait for record %s: %w", aws.ToString(rrs.Name), err)
	}
	return nil
}

// AliasRecord builds the A record pointing name at a CloudFront domain.
func AliasRecord(name, distributionDomain string) types.ResourceRecordSet {
	return types.ResourceRecordSet{
		Name: aws.String(name),
		Type: types.RRTypeA,
		AliasTarget: &types.AliasTarget{
			DNSName:              aws.String(distributionDomain),
			HostedZoneId:         aws.String(CloudFrontHostedZoneID),
			EvaluateTargetHealth: false,
		},
	}
}

// CNAMERecord builds the record requested by a certificate issuer.
func CNAMERecord(name, value string) types.ResourceRecordSet {
	return types.ResourceRecordSet{
		Name: aws.String(name),
		Type: types.RRTypeCname,
		TTL:  aws.Int64(validationTTL),
		ResourceRecords: []types.ResourceRecord{
			{Value: aws.String(value)},
		},
	}
}

func fqdn(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

func sameName(a, b string) bool {
	return strings.EqualFold(fqdn(a), fqdn(b))
}
