package gcpkmsmac

import (
	"context"
	"strings"
	"time"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/p11mac/mac"
	"github.com/effective-security/p11mac/metricskey"
	"github.com/effective-security/p11mac/p11"
	"github.com/effective-security/xlog"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/p11mac", "gcpkmsmac")

// ProviderName specifies a provider name
const ProviderName = "GCPKMS"

// MaxMessageSize is the data limit of the MacSign API
const MaxMessageSize = 64 * 1024

// KmsClient interface
type KmsClient interface {
	MacSign(ctx context.Context, req *kmspb.MacSignRequest, opts ...gax.CallOption) (*kmspb.MacSignResponse, error)
	GetCryptoKeyVersion(ctx context.Context, req *kmspb.GetCryptoKeyVersionRequest, opts ...gax.CallOption) (*kmspb.CryptoKeyVersion, error)
	Close() error
}

// KmsClientFactory override for unittest
var KmsClientFactory = func(ctx context.Context, opts ...option.ClientOption) (KmsClient, error) {
	return kms.NewKeyManagementClient(ctx, opts...)
}

// Provider computes HMAC tags with keys managed by Google Cloud KMS.
// Keys are referenced by the full crypto key version resource name.
type Provider struct {
	tc        p11.TokenConfig
	kmsClient KmsClient
}

// Init configures Cloud KMS based provider
func Init(tc p11.TokenConfig) (*Provider, error) {
	attrs := parseAttributes(tc.Attributes())

	var opts []option.ClientOption
	if endpoint := attrs["Endpoint"]; endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	if creds := attrs["Credentials"]; creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}

	client, err := KmsClientFactory(context.Background(), opts...)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &Provider{
		tc:        tc,
		kmsClient: client,
	}, nil
}

func parseAttributes(attributes string) map[string]string {
	res := map[string]string{}
	for _, kv := range strings.Split(attributes, ",") {
		pair := strings.Split(kv, "=")
		if len(pair) == 2 {
			res[strings.TrimSpace(pair[0])] = strings.TrimSpace(pair[1])
		}
	}
	return res
}

// Manufacturer returns manufacturer for the provider
func (p *Provider) Manufacturer() string {
	return p.tc.Manufacturer()
}

// Model returns model for the provider
func (p *Provider) Model() string {
	return p.tc.Model()
}

// Close releases the underlying client
func (p *Provider) Close() error {
	return errors.WithStack(p.kmsClient.Close())
}

func keyVersionAlgo(alg mac.Algorithm) (kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm, error) {
	switch alg {
	case mac.HMACSHA256:
		return kmspb.CryptoKeyVersion_HMAC_SHA256, nil
	case mac.HMACSHA384:
		return kmspb.CryptoKeyVersion_HMAC_SHA384, nil
	case mac.HMACSHA512:
		return kmspb.CryptoKeyVersion_HMAC_SHA512, nil
	}
	// Cloud KMS has no SHA-3 HMAC
	return 0, errors.Wrapf(mac.ErrUnsupportedAlgorithm, "not supported by Cloud KMS: %s", alg)
}

// Hmac computes the HMAC tag of data with the key version named by
// name. The key version's algorithm must match alg; tags are complete
// or the call fails.
func (p *Provider) Hmac(alg mac.Algorithm, name string, data []byte) (tag []byte, err error) {
	defer metricskey.PerfMacOperation.MeasureSince(time.Now(), ProviderName, "hmac")
	defer func() {
		if err != nil {
			metricskey.StatsMacFailed.IncrCounter(1, ProviderName, "hmac")
		}
	}()

	if len(data) > MaxMessageSize {
		return nil, errors.Wrapf(mac.ErrInputTooLarge, "length: %d, max: %d", len(data), MaxMessageSize)
	}

	expectedAlgo, err := keyVersionAlgo(alg)
	if err != nil {
		return nil, err
	}
	expected, err := alg.TagLength()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()

	kv, err := p.kmsClient.GetCryptoKeyVersion(ctx, &kmspb.GetCryptoKeyVersionRequest{
		Name: name,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to get key version: %s", name)
	}
	if kv.Algorithm != expectedAlgo {
		return nil, errors.Newf("key version algorithm mismatch: %s, requested=%s", kv.Algorithm, alg)
	}

	resp, err := p.kmsClient.MacSign(ctx, &kmspb.MacSignRequest{
		Name: name,
		Data: data,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to sign MAC: %s", name)
	}

	if len(resp.Mac) != expected {
		logger.Panicf("tag length mismatch: alg=%s, expected=%d, actual=%d", alg, expected, len(resp.Mac))
	}

	return resp.Mac, nil
}
