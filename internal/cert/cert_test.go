package cert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-site-deploy/internal/poll"
)

type mockACM struct {
	listCertificates    func(ctx context.Context, params *acm.ListCertificatesInput) (*acm.ListCertificatesOutput, error)
	requestCertificate  func(ctx context.Context, params *acm.RequestCertificateInput) (*acm.RequestCertificateOutput, error)
	describeCertificate func(ctx context.Context, params *acm.DescribeCertificateInput) (*acm.DescribeCertificateOutput, error)
	deleteCertificate   func(ctx context.Context, params *acm.DeleteCertificateInput) (*acm.DeleteCertificateOutput, error)
}

func (m *mockACM) ListCertificates(ctx context.Context, params *acm.ListCertificatesInput, optFns ...func(*acm.Options)) (*acm.ListCertificatesOutput, error) {
	return m.listCertificates(ctx, params)
}

func (m *mockACM) RequestCertificate(ctx context.Context, params *acm.RequestCertificateInput, optFns ...func(*acm.Options)) (*acm.RequestCertificateOutput, error) {
	return m.requestCertificate(ctx, params)
}

func (m *mockACM) DescribeCertificate(ctx context.Context, params *acm.DescribeCertificateInput, optFns ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error) {
	return m.describeCertificate(ctx, params)
}

func (m *mockACM) DeleteCertificate(ctx context.Context, params *acm.DeleteCertificateInput, optFns ...func(*acm.Options)) (*acm.DeleteCertificateOutput, error) {
	return m.deleteCertificate(ctx, params)
}

var fastPolicy = poll.Policy{Interval: time.Millisecond, Timeout: time.Second}

func describeWith(options ...types.DomainValidation) *acm.DescribeCertificateOutput {
	return &acm.DescribeCertificateOutput{
		Certificate: &types.CertificateDetail{DomainValidationOptions: options},
	}
}

func TestFind(t *testing.T) {
	pages := map[string]*acm.ListCertificatesOutput{
		"": {
			CertificateSummaryList: []types.CertificateSummary{
				{DomainName: aws.String("blog.example.com"), CertificateArn: aws.String("arn:blog")},
			},
			NextToken: aws.String("page2"),
		},
		"page2": {
			CertificateSummaryList: []types.CertificateSummary{
				{DomainName: aws.String("www.example.com"), CertificateArn: aws.String("arn:www")},
			},
		},
	}
	api := &mockACM{
		listCertificates: func(ctx context.Context, params *acm.ListCertificatesInput) (*acm.ListCertificatesOutput, error) {
			return pages[aws.ToString(params.NextToken)], nil
		},
	}
	m := NewManager(api, fastPolicy)

	tests := []struct {
		domain string
		want   string
	}{
		{domain: "blog.example.com", want: "arn:blog"},
		{domain: "www.example.com", want: "arn:www"},
		{domain: "example.com", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			arn, err := m.Find(context.Background(), tt.domain)
			require.NoError(t, err)
			assert.Equal(t, tt.want, arn)
		})
	}
}

func TestRequest(t *testing.T) {
	var got *acm.RequestCertificateInput
	api := &mockACM{
		requestCertificate: func(ctx context.Context, params *acm.RequestCertificateInput) (*acm.RequestCertificateOutput, error) {
			got = params
			return &acm.RequestCertificateOutput{CertificateArn: aws.String("arn:new")}, nil
		},
	}

	arn, err := NewManager(api, fastPolicy).Request(context.Background(), "www.example.com")
	require.NoError(t, err)
	assert.Equal(t, "arn:new", arn)
	assert.Equal(t, "www.example.com", aws.ToString(got.DomainName))
	assert.Equal(t, types.ValidationMethodDns, got.ValidationMethod)
}

func TestWaitValidationRecord(t *testing.T) {
	calls := 0
	api := &mockACM{
		describeCertificate: func(ctx context.Context, params *acm.DescribeCertificateInput) (*acm.DescribeCertificateOutput, error) {
			calls++
			switch calls {
			case 1:
				return describeWith(), nil
			case 2:
				return describeWith(types.DomainValidation{DomainName: aws.String("www.example.com")}), nil
			}
			return describeWith(types.DomainValidation{
				ResourceRecord: &types.ResourceRecord{
					Name:  aws.String("_x1.www.example.com."),
					Type:  types.RecordTypeCname,
					Value: aws.String("_x2.acm-validations.aws."),
				},
			}), nil
		},
	}

	record, err := NewManager(api, fastPolicy).WaitValidationRecord(context.Background(), "arn:www")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, &ValidationRecord{
		Name:  "_x1.www.example.com.",
		Type:  "CNAME",
		Value: "_x2.acm-validations.aws.",
	}, record)
}

func TestWaitValidated(t *testing.T) {
	statuses := []types.DomainStatus{types.DomainStatusPendingValidation, types.DomainStatusPendingValidation, types.DomainStatusSuccess}
	calls := 0
	api := &mockACM{
		describeCertificate: func(ctx context.Context, params *acm.DescribeCertificateInput) (*acm.DescribeCertificateOutput, error) {
			status := statuses[min(calls, len(statuses)-1)]
			calls++
			return describeWith(types.DomainValidation{ValidationStatus: status}), nil
		},
	}

	require.NoError(t, NewManager(api, fastPolicy).WaitValidated(context.Background(), "arn:www"))
	assert.Equal(t, 3, calls)
}

func TestWaitValidatedTimesOut(t *testing.T) {
	api := &mockACM{
		describeCertificate: func(ctx context.Context, params *acm.DescribeCertificateInput) (*acm.DescribeCertificateOutput, error) {
			return describeWith(types.DomainValidation{ValidationStatus: types.DomainStatusPendingValidation}), nil
		},
	}
	policy := poll.Policy{Interval: time.Millisecond, Timeout: 10 * time.Millisecond}

	err := NewManager(api, policy).WaitValidated(context.Background(), "arn:www")
	assert.ErrorIs(t, err, poll.ErrTimeout)
}

func TestDescribeErrorsPropagate(t *testing.T) {
	boom := errors.New("throttled")
	api := &mockACM{
		describeCertificate: func(ctx context.Context, params *acm.DescribeCertificateInput) (*acm.DescribeCertificateOutput, error) {
			return nil, boom
		},
	}
	m := NewManager(api, fastPolicy)

	_, err := m.ValidationRecord(context.Background(), "arn:www")
	assert.ErrorIs(t, err, boom)

	_, err = m.Validated(context.Background(), "arn:www")
	assert.ErrorIs(t, err, boom)
}

func TestDelete(t *testing.T) {
	var deleted string
	api := &mockACM{
		deleteCertificate: func(ctx context.Context, params *acm.DeleteCertificateInput) (*acm.DeleteCertificateOutput, error) {
			deleted = aws.ToString(params.CertificateArn)
			return &acm.DeleteCertificateOutput{}, nil
		},
	}

	require.NoError(t, NewManager(api, fastPolicy).Delete(context.Background(), "arn:www"))
	assert.Equal(t, "arn:www", deleted)
}
