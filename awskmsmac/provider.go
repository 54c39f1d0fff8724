package awskmsmac

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/p11mac/mac"
	"github.com/effective-security/p11mac/metricskey"
	"github.com/effective-security/p11mac/p11"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/p11mac", "awskmsmac")

// ProviderName specifies a provider name
const ProviderName = "AWSKMS"

// MaxMessageSize is the message limit of the GenerateMac API
const MaxMessageSize = 4096

// KmsClient interface
type KmsClient interface {
	CreateKey(context.Context, *kms.CreateKeyInput, ...func(*kms.Options)) (*kms.CreateKeyOutput, error)
	DescribeKey(context.Context, *kms.DescribeKeyInput, ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	ScheduleKeyDeletion(context.Context, *kms.ScheduleKeyDeletionInput, ...func(*kms.Options)) (*kms.ScheduleKeyDeletionOutput, error)
	GenerateMac(context.Context, *kms.GenerateMacInput, ...func(*kms.Options)) (*kms.GenerateMacOutput, error)
}

// KmsClientFactory override for unittest
var KmsClientFactory = func(cfg aws.Config, optFns ...func(*kms.Options)) KmsClient {
	return kms.NewFromConfig(cfg, optFns...)
}

// Provider computes HMAC tags with keys managed by AWS KMS.
// Unlike the PKCS#11 driver it operates on key IDs: KMS HMAC keys
// never leave the service.
type Provider struct {
	tc        p11.TokenConfig
	kmsClient KmsClient
	endpoint  string
	region    string
}

// Init configures KMS based provider
func Init(tc p11.TokenConfig) (*Provider, error) {
	ctx := context.Background()
	kmsAttributes := parseKmsAttributes(tc.Attributes())
	endpoint := kmsAttributes["Endpoint"]
	region := kmsAttributes["Region"]

	p := &Provider{
		endpoint: endpoint,
		region:   region,
		tc:       tc,
	}

	var awsops []func(*awsconfig.LoadOptions) error

	if region != "" {
		awsops = append(awsops, awsconfig.WithRegion(region))
	}
	if endpoint != "" {
		// https://aws.github.io/aws-sdk-go-v2/docs/configuring-sdk/endpoints/
		customResolver := aws.EndpointResolverWithOptionsFunc(func(svc, reg string, options ...any) (aws.Endpoint, error) {
			if svc == kms.ServiceID && reg == region {
				ep := aws.Endpoint{
					PartitionID:   "aws",
					URL:           endpoint,
					SigningRegion: region,
				}
				return ep, nil
			}
			// returning EndpointNotFoundError will allow the service to fallback to it's default resolution
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		awsops = append(awsops, awsconfig.WithEndpointResolverWithOptions(customResolver))
	}

	id := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	token := os.Getenv("AWS_SESSION_TOKEN")
	if id != "" && secret != "" {
		awsops = append(awsops, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(id, secret, token)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsops...)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	p.kmsClient = KmsClientFactory(cfg)

	return p, nil
}

func parseKmsAttributes(attributes string) map[string]string {
	var kmsAttributes = make(map[string]string)
	if attributes == "" {
		return kmsAttributes
	}

	attrs := strings.Split(attributes, ",")
	for _, v := range attrs {
		kmsAttr := strings.Split(v, "=")
		if len(kmsAttr) == 2 {
			kmsAttributes[strings.TrimSpace(kmsAttr[0])] = strings.TrimSpace(kmsAttr[1])
		}
	}

	return kmsAttributes
}

// Manufacturer returns manufacturer for the provider
func (p *Provider) Manufacturer() string {
	return p.tc.Manufacturer()
}

// Model returns model for the provider
func (p *Provider) Model() string {
	return p.tc.Model()
}

func macAlgo(alg mac.Algorithm) (types.MacAlgorithmSpec, error) {
	switch alg {
	case mac.HMACSHA256:
		return types.MacAlgorithmSpecHmacSha256, nil
	case mac.HMACSHA384:
		return types.MacAlgorithmSpecHmacSha384, nil
	case mac.HMACSHA512:
		return types.MacAlgorithmSpecHmacSha512, nil
	}
	// KMS has no SHA-3 HMAC
	return "", errors.Wrapf(mac.ErrUnsupportedAlgorithm, "not supported by KMS: %s", alg)
}

func keySpec(alg mac.Algorithm) (types.KeySpec, error) {
	switch alg {
	case mac.HMACSHA256:
		return types.KeySpecHmac256, nil
	case mac.HMACSHA384:
		return types.KeySpecHmac384, nil
	case mac.HMACSHA512:
		return types.KeySpecHmac512, nil
	}
	return "", errors.Wrapf(mac.ErrUnsupportedAlgorithm, "not supported by KMS: %s", alg)
}

// CreateKey creates an HMAC key in KMS and returns its ID
func (p *Provider) CreateKey(label string, alg mac.Algorithm) (string, error) {
	defer metricskey.PerfMacOperation.MeasureSince(time.Now(), ProviderName, "genkey")

	spec, err := keySpec(alg)
	if err != nil {
		return "", err
	}

	resp, err := p.kmsClient.CreateKey(context.Background(), &kms.CreateKeyInput{
		KeySpec:     spec,
		KeyUsage:    types.KeyUsageTypeGenerateVerifyMac,
		Description: &label,
	})
	if err != nil {
		return "", errors.WithMessagef(err, "failed to create key with label: %q", label)
	}

	keyID := aws.ToString(resp.KeyMetadata.KeyId)
	logger.KV(xlog.INFO, "arn", aws.ToString(resp.KeyMetadata.Arn), "id", keyID, "label", label)

	return keyID, nil
}

// Hmac computes the HMAC tag of data with the KMS key identified by
// keyID. The same all-or-nothing contract applies: a complete tag of
// the algorithm's expected length, or an error.
func (p *Provider) Hmac(alg mac.Algorithm, keyID string, data []byte) (tag []byte, err error) {
	defer metricskey.PerfMacOperation.MeasureSince(time.Now(), ProviderName, "hmac")
	defer func() {
		if err != nil {
			metricskey.StatsMacFailed.IncrCounter(1, ProviderName, "hmac")
		}
	}()

	if len(data) > MaxMessageSize {
		return nil, errors.Wrapf(mac.ErrInputTooLarge, "length: %d, max: %d", len(data), MaxMessageSize)
	}

	algo, err := macAlgo(alg)
	if err != nil {
		return nil, err
	}
	expected, err := alg.TagLength()
	if err != nil {
		return nil, err
	}

	resp, err := p.kmsClient.GenerateMac(context.Background(), &kms.GenerateMacInput{
		KeyId:        &keyID,
		Message:      data,
		MacAlgorithm: algo,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to generate MAC, id=%s", keyID)
	}

	if len(resp.Mac) != expected {
		logger.Panicf("tag length mismatch: alg=%s, expected=%d, actual=%d", alg, expected, len(resp.Mac))
	}

	return resp.Mac, nil
}

// DeleteKey schedules key deletion with the minimal pending window
func (p *Provider) DeleteKey(keyID string) error {
	defer metricskey.PerfMacOperation.MeasureSince(time.Now(), ProviderName, "delete")

	_, err := p.kmsClient.ScheduleKeyDeletion(context.Background(), &kms.ScheduleKeyDeletionInput{
		KeyId:               &keyID,
		PendingWindowInDays: aws.Int32(7),
	})
	if err != nil {
		return errors.WithMessagef(err, "failed to schedule key deletion, id=%s", keyID)
	}
	logger.KV(xlog.INFO, "id", keyID, "status", "deletion_scheduled")
	return nil
}

// KeyInfo returns description of the KMS key
func (p *Provider) KeyInfo(keyID string) (label string, spec string, err error) {
	resp, err := p.kmsClient.DescribeKey(context.Background(), &kms.DescribeKeyInput{
		KeyId: &keyID,
	})
	if err != nil {
		return "", "", errors.WithMessagef(err, "failed to describe key, id=%s", keyID)
	}
	return aws.ToString(resp.KeyMetadata.Description), string(resp.KeyMetadata.KeySpec), nil
}
