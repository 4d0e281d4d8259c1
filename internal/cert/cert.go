// Package cert manages the ACM certificate that fronts the site's
// distribution.
package cert

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/acm/types"

	"github.com/yuya-takeyama/strict-site-deploy/internal/poll"
)

// CloudFront only accepts certificates issued in us-east-1.
const Region = "us-east-1"

type API interface {
	ListCertificates(ctx context.Context, params *acm.ListCertificatesInput, optFns ...func(*acm.Options)) (*acm.ListCertificatesOutput, error)
	RequestCertificate(ctx context.Context, params *acm.RequestCertificateInput, optFns ...func(*acm.Options)) (*acm.RequestCertificateOutput, error)
	DescribeCertificate(ctx context.Context, params *acm.DescribeCertificateInput, optFns ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error)
	DeleteCertificate(ctx context.Context, params *acm.DeleteCertificateInput, optFns ...func(*acm.Options)) (*acm.DeleteCertificateOutput, error)
}

var _ API = (*acm.Client)(nil)

// ValidationRecord is the CNAME the issuer asks for to prove domain ownership.
type ValidationRecord struct {
	Name  string
	Type  string
	Value string
}

type Manager struct {
	api    API
	policy poll.Policy
}

// NewAWSManager creates a manager talking to ACM in us-east-1 whatever the
// configured region is.
func NewAWSManager(cfg aws.Config, policy poll.Policy) *Manager {
	return NewManager(acm.NewFromConfig(cfg, func(o *acm.Options) {
		o.Region = Region
	}), policy)
}

func NewManager(api API, policy poll.Policy) *Manager {
	return &Manager{api: api, policy: policy}
}

// Find returns the ARN of the certificate issued for domain, or "" when there
// is none.
func (m *Manager) Find(ctx context.Context, domain string) (string, error) {
	paginator := acm.NewListCertificatesPaginator(m.api, &acm.ListCertificatesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("list certificates: %w", err)
		}
		for _, summary := range page.CertificateSummaryList {
			if aws.ToString(summary.DomainName) == domain {
				return aws.ToString(summary.CertificateArn), nil
			}
		}
	}
	return "", nil
}

// Request asks for a DNS-validated certificate for domain.
func (m *Manager) Request(ctx context.Context, domain string) (string, error) {
	out, err := m.api.RequestCertificate(ctx, &acm.RequestCertificateInput{
		DomainName:       aws.String(domain),
		ValidationMethod: types.ValidationMethodDns,
	})
	if err != nil {
		return "", fmt.Errorf("request certificate for %s: %w", domain, err)
	}
	return aws.ToString(out.CertificateArn), nil
}

func (m *Manager) validation(ctx context.Context, arn string) (*types.DomainValidation, error) {
	out, err := m.api.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
		CertificateArn: aws.String(arn),
	})
	if err != nil {
		return nil, fmt.Errorf("describe certificate %s: %w", arn, err)
	}
	if out.Certificate == nil || len(out.Certificate.DomainValidationOptions) == 0 {
		return nil, nil
	}
	return &out.Certificate.DomainValidationOptions[0], nil
}

// ValidationRecord returns the validation CNAME, or nil while ACM has not
// published it yet.
func (m *Manager) ValidationRecord(ctx context.Context, arn string) (*ValidationRecord, error) {
	dv, err := m.validation(ctx, arn)
	if err != nil || dv == nil || dv.ResourceRecord == nil {
		return nil, err
	}
	return &ValidationRecord{
		Name:  aws.ToString(dv.ResourceRecord.Name),
		Type:  string(dv.ResourceRecord.Type),
		Value: aws.ToString(dv.ResourceRecord.Value),
	}, nil
}

// WaitValidationRecord polls until the validation CNAME is published.
func (m *Manager) WaitValidationRecord(ctx context.Context, arn string) (*ValidationRecord, error) {
	var record *ValidationRecord
	err := poll.Until(ctx, m.policy, "certificate validation record", func(ctx context.Context) (bool, error) {
		var err error
		record, err = m.ValidationRecord(ctx, arn)
		return record != nil, err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Validated reports whether ACM considers the domain validated.
func (m *Manager) Validated(ctx context.Context, arn string) (bool, error) {
	dv, err := m.validation(ctx, arn)
	if err != nil || dv == nil {
		return false, err
	}
	return dv.ValidationStatus == types.DomainStatusSuccess, nil
}

// WaitValidated polls until the domain is validated.
func (m *Manager) WaitValidated(ctx context.Context, arn string) error {
	return poll.Until(ctx, m.policy, "certificate validation", func(ctx context.Context) (bool, error) {
		return m.Validated(ctx, arn)
	})
}

// Delete removes the certificate. It fails while a distribution still uses it.
func (m *Manager) Delete(ctx context.Context, arn string) error {
	if _, err := m.api.DeleteCertificate(ctx, &acm.DeleteCertificateInput{
		CertificateArn: aws.String(arn),
	}); err != nil {
		return fmt.Errorf("delete certificate %s: %w", arn, err)
	}
	return nil
}
