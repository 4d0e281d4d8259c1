// Package cdn manages the CloudFront distribution serving a site bucket.
package cdn

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"

	"github.com/yuya-takeyama/strict-site-deploy/internal/poll"
)

// StatusDeployed is the distribution status once all edge locations have
// the current configuration.
const StatusDeployed = "Deployed"

type API interface {
	ListDistributions(ctx context.Context, params *cloudfront.ListDistributionsInput, optFns ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error)
	CreateDistribution(ctx context.Context, params *cloudfront.CreateDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateDistributionOutput, error)
	GetDistribution(ctx context.Context, params *cloudfront.GetDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionOutput, error)
	GetDistributionConfig(ctx context.Context, params *cloudfront.GetDistributionConfigInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionConfigOutput, error)
	UpdateDistribution(ctx context.Context, params *cloudfront.UpdateDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.UpdateDistributionOutput, error)
	DeleteDistribution(ctx context.Context, params *cloudfront.DeleteDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.DeleteDistributionOutput, error)
}

var _ API = (*cloudfront.Client)(nil)

type Distribution struct {
	ID         string
	DomainName string
	Status     string
	Enabled    bool
}

func (d *Distribution) Deployed() bool {
	return d.Status == StatusDeployed
}

// Spec describes the distribution to create for a site.
type Spec struct {
	Bucket            string
	CertificateARN    string
	DefaultRootObject string
	PriceClass        types.PriceClass
}

type Distributions struct {
	api    API
	policy poll.Policy
	// delay is slept after creation before the first status query.
	delay time.Duration
	now   func() time.Time
}

func NewAWSDistributions(cfg aws.Config, policy poll.Policy, delay time.Duration) *Distributions {
	return NewDistributions(cloudfront.NewFromConfig(cfg), policy, delay)
}

func NewDistributions(api API, policy poll.Policy, delay time.Duration) *Distributions {
	return &Distributions{api: api, policy: policy, delay: delay, now: time.Now}
}

// Find returns the distribution serving alias, or nil.
func (d *Distributions) Find(ctx context.Context, alias string) (*Distribution, error) {
	input := &cloudfront.ListDistributionsInput{}
	for {
		out, err := d.api.ListDistributions(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list distributions: %w", err)
		}
		list := out.DistributionList
		if list == nil {
			return nil, nil
		}

		for _, item := range list.Items {
			if item.Aliases == nil {
				continue
			}
			for _, a := range item.Aliases.Items {
				if a == alias {
					return &Distribution{
						ID:         aws.ToString(item.Id),
						DomainName: aws.ToString(item.DomainName),
						Status:     aws.ToString(item.Status),
						Enabled:    aws.ToBool(item.Enabled),
					}, nil
				}
			}
		}

		if !aws.ToBool(list.IsTruncated) {
			return nil, nil
		}
		input.Marker = list.NextMarker
	}
}

// Create creates the distribution for spec and waits until it is deployed.
func (d *Distributions) Create(ctx context.Context, spec Spec) (*Distribution, error) {
	out, err := d.api.CreateDistribution(ctx, &cloudfront.CreateDistributionInput{
		DistributionConfig: d.config(spec),
	})
	if err != nil {
		return nil, fmt.Errorf("create distribution for %s: %w", spec.Bucket, err)
	}

	dist := fromDistribution(out.Distribution)
	if err := poll.Sleep(ctx, d.delay); err != nil {
		return nil, err
	}
	if err := d.WaitDeployed(ctx, dist.ID); err != nil {
		return nil, err
	}
	dist.Status = StatusDeployed
	return dist, nil
}

func (d *Distributions) config(spec Spec) *types.DistributionConfig {
	originID := "S3-" + spec.Bucket
	priceClass := spec.PriceClass
	if priceClass == "" {
		priceClass = types.PriceClassPriceClass100
	}

	return &types.DistributionConfig{
		CallerReference:   aws.String(strconv.FormatInt(d.now().UnixNano(), 10)),
		Comment:           aws.String(spec.Bucket),
		Enabled:           aws.Bool(true),
		DefaultRootObject: aws.String(spec.DefaultRootObject),
		PriceClass:        priceClass,
		Aliases: &types.Aliases{
			Quantity: aws.Int32(1),
			Items:    []string{spec.Bucket},
		},
		Origins: &types.Origins{
			Quantity: aws.Int32(1),
			Items: []types.Origin{
				{
					Id:             aws.String(originID),
					DomainName:     aws.String(spec.Bucket + ".s3.amazonaws.com"),
					S3OriginConfig: &types.S3OriginConfig{OriginAccessIdentity: aws.String("")},
				},
			},
		},
		DefaultCacheBehavior: &types.DefaultCacheBehavior{
			TargetOriginId:       aws.String(originID),
			ViewerProtocolPolicy: types.ViewerProtocolPolicyRedirectToHttps,
			ForwardedValues: &types.ForwardedValues{
				QueryString: aws.Bool(false),
				Cookies:     &types.CookiePreference{Forward: types.ItemSelectionNone},
			},
			TrustedSigners: &types.TrustedSigners{
				Enabled:  aws.Bool(false),
				Quantity: aws.Int32(0),
			},
			MinTTL:     aws.Int64(0),
			DefaultTTL: aws.Int64(0),
		},
		ViewerCertificate: &types.ViewerCertificate{
			ACMCertificateArn:      aws.String(spec.CertificateARN),
			SSLSupportMethod:       types.SSLSupportMethodSniOnly,
			MinimumProtocolVersion: types.MinimumProtocolVersionTLSv122021,
		},
	}
}

// WaitDeployed blocks until the distribution reports Deployed.
func (d *Distributions) WaitDeployed(ctx context.Context, id string) error {
	waiter := cloudfront.NewDistributionDeployedWaiter(d.api, func(o *cloudfront.DistributionDeployedWaiterOptions) {
		o.MinDelay, o.MaxDelay = d.policy.Delay(), d.policy.Delay()
	})
	if err := waiter.Wait(ctx, &cloudfront.GetDistributionInput{Id: aws.String(id)}, d.policy.MaxWait()); err != nil {
		return fmt.Errorf("wait for distribution %s: %w", id, err)
	}
	return nil
}

// Enable turns a disabled distribution back on and waits for the change to
// deploy.
func (d *Distributions) Enable(ctx context.Context, id string) error {
	if _, err := d.setEnabled(ctx, id, true); err != nil {
		return err
	}
	return d.WaitDeployed(ctx, id)
}

// Delete disables the distribution if needed, waits for the change to deploy
// and deletes it. CloudFront refuses to delete enabled distributions.
func (d *Distributions) Delete(ctx context.Context, id string) error {
	etag, err := d.setEnabled(ctx, id, false)
	if err != nil {
		return err
	}

	if err := d.WaitDeployed(ctx, id); err != nil {
		return err
	}

	if _, err := d.api.DeleteDistribution(ctx, &cloudfront.DeleteDistributionInput{
		Id:      aws.String(id),
		IfMatch: etag,
	}); err != nil {
		return fmt.Errorf("delete distribution %s: %w", id, err)
	}
	return nil
}

// setEnabled updates the distribution's Enabled flag unless it already
// matches, and returns the ETag of the latest configuration.
func (d *Distributions) setEnabled(ctx context.Context, id string, enabled bool) (*string, error) {
	cfg, err := d.api.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{
		Id: aws.String(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get distribution config %s: %w", id, err)
	}
	if aws.ToBool(cfg.DistributionConfig.Enabled) == enabled {
		return cfg.ETag, nil
	}

	verb := "disable"
	if enabled {
		verb = "enable"
	}
	cfg.DistributionConfig.Enabled = aws.Bool(enabled)
	updated, err := d.api.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
		Id:                 aws.String(id),
		IfMatch:            cfg.ETag,
		DistributionConfig: cfg.DistributionConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("%s distribution %s: %w", verb, id, err)
	}
	return updated.ETag, nil
}

func fromDistribution(dist *types.Distribution) *Distribution {
	if dist == nil {
		return &Distribution{}
	}
	out := &Distribution{
		ID:         aws.ToString(dist.Id),
		DomainName: aws.ToString(dist.DomainName),
		Status:     aws.ToString(dist.Status),
	}
	if dist.DistributionConfig != nil {
		out.Enabled = aws.ToBool(dist.DistributionConfig.Enabled)
	}
	return out
}
