package awskmsmac_test

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/p11mac/awskmsmac"
	"github.com/effective-security/p11mac/mac"
	"github.com/effective-security/x/guid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTokenCfg struct {
	manufacturer, model, atts string
}

func (c *mockTokenCfg) Manufacturer() string { return c.manufacturer }
func (c *mockTokenCfg) Model() string        { return c.model }
func (c *mockTokenCfg) Path() string         { return "" }
func (c *mockTokenCfg) TokenSerial() string  { return "" }
func (c *mockTokenCfg) TokenLabel() string   { return "" }
func (c *mockTokenCfg) Pin() string          { return "" }
func (c *mockTokenCfg) Attributes() string   { return c.atts }

// mockKmsClient keeps HMAC keys in memory and computes real tags,
// standing in for the KMS emulator.
type mockKmsClient struct {
	mu      sync.Mutex
	keys    map[string][]byte
	labels  map[string]string
	specs   map[string]types.KeySpec
	failMac error
}

func newMockKmsClient() *mockKmsClient {
	return &mockKmsClient{
		keys:   map[string][]byte{},
		labels: map[string]string{},
		specs:  map[string]types.KeySpec{},
	}
}

func (m *mockKmsClient) CreateKey(_ context.Context, input *kms.CreateKeyInput, _ ...func(*kms.Options)) (*kms.CreateKeyOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keyID := guid.MustCreate()
	key := make([]byte, 64)
	_, _ = rand.Read(key)
	m.keys[keyID] = key
	m.labels[keyID] = aws.ToString(input.Description)
	m.specs[keyID] = input.KeySpec

	return &kms.CreateKeyOutput{
		KeyMetadata: &types.KeyMetadata{
			KeyId:       &keyID,
			Arn:         aws.String("arn:aws:kms:unittest:key/" + keyID),
			Description: input.Description,
			KeySpec:     input.KeySpec,
		},
	}, nil
}

func (m *mockKmsClient) DescribeKey(_ context.Context, input *kms.DescribeKeyInput, _ ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keyID := aws.ToString(input.KeyId)
	if _, ok := m.keys[keyID]; !ok {
		return nil, errors.Newf("key not found: %s", keyID)
	}
	label := m.labels[keyID]
	return &kms.DescribeKeyOutput{
		KeyMetadata: &types.KeyMetadata{
			KeyId:       input.KeyId,
			Description: &label,
			KeySpec:     m.specs[keyID],
		},
	}, nil
}

func (m *mockKmsClient) ScheduleKeyDeletion(_ context.Context, input *kms.ScheduleKeyDeletionInput, _ ...func(*kms.Options)) (*kms.ScheduleKeyDeletionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, aws.ToString(input.KeyId))
	return &kms.ScheduleKeyDeletionOutput{}, nil
}

func (m *mockKmsClient) GenerateMac(_ context.Context, input *kms.GenerateMacInput, _ ...func(*kms.Options)) (*kms.GenerateMacOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failMac != nil {
		return nil, m.failMac
	}

	key, ok := m.keys[aws.ToString(input.KeyId)]
	if !ok {
		return nil, errors.Newf("key not found: %s", aws.ToString(input.KeyId))
	}

	var newHash func() hash.Hash
	switch input.MacAlgorithm {
	case types.MacAlgorithmSpecHmacSha256:
		newHash = sha256.New
	case types.MacAlgorithmSpecHmacSha384:
		newHash = sha512.New384
	case types.MacAlgorithmSpecHmacSha512:
		newHash = sha512.New
	default:
		return nil, errors.Newf("unsupported MAC algorithm: %s", input.MacAlgorithm)
	}

	h := hmac.New(newHash, key)
	_, _ = h.Write(input.Message)
	return &kms.GenerateMacOutput{
		KeyId:        input.KeyId,
		Mac:          h.Sum(nil),
		MacAlgorithm: input.MacAlgorithm,
	}, nil
}

func loadTestProvider(t *testing.T, client awskmsmac.KmsClient) *awskmsmac.Provider {
	restore := awskmsmac.KmsClientFactory
	t.Cleanup(func() { awskmsmac.KmsClientFactory = restore })
	awskmsmac.KmsClientFactory = func(cfg aws.Config, optFns ...func(*kms.Options)) awskmsmac.KmsClient {
		return client
	}

	prov, err := awskmsmac.Init(&mockTokenCfg{
		manufacturer: awskmsmac.ProviderName,
		model:        "KMS",
		atts:         "Endpoint=http://localhost:14556,Region=us-west-2",
	})
	require.NoError(t, err)
	return prov
}

func Test_KmsProvider(t *testing.T) {
	client := newMockKmsClient()
	prov := loadTestProvider(t, client)

	assert.Equal(t, awskmsmac.ProviderName, prov.Manufacturer())
	assert.Equal(t, "KMS", prov.Model())

	for _, alg := range []mac.Algorithm{mac.HMACSHA256, mac.HMACSHA384, mac.HMACSHA512} {
		keyID, err := prov.CreateKey("test_"+alg.String(), alg)
		require.NoError(t, err)
		require.NotEmpty(t, keyID)

		label, _, err := prov.KeyInfo(keyID)
		require.NoError(t, err)
		assert.Equal(t, "test_"+alg.String(), label)

		tag, err := prov.Hmac(alg, keyID, []byte("The quick brown fox jumps over the lazy dog"))
		require.NoError(t, err)

		expected, err := alg.TagLength()
		require.NoError(t, err)
		assert.Equal(t, expected, len(tag))

		again, err := prov.Hmac(alg, keyID, []byte("The quick brown fox jumps over the lazy dog"))
		require.NoError(t, err)
		assert.Equal(t, tag, again)

		other, err := prov.Hmac(alg, keyID, []byte("The quick brown fox jumps over the lazy cog"))
		require.NoError(t, err)
		assert.NotEqual(t, tag, other)

		err = prov.DeleteKey(keyID)
		require.NoError(t, err)

		_, err = prov.Hmac(alg, keyID, []byte("data"))
		assert.Error(t, err)
	}
}

func Test_KmsProviderSha3NotSupported(t *testing.T) {
	prov := loadTestProvider(t, newMockKmsClient())

	_, err := prov.CreateKey("test_sha3", mac.HMACSHA3_256)
	assert.ErrorIs(t, err, mac.ErrUnsupportedAlgorithm)

	_, err = prov.Hmac(mac.HMACSHA3_512, "any", []byte("data"))
	assert.ErrorIs(t, err, mac.ErrUnsupportedAlgorithm)
}

func Test_KmsProviderMessageLimit(t *testing.T) {
	client := newMockKmsClient()
	prov := loadTestProvider(t, client)

	keyID, err := prov.CreateKey("test_limit", mac.HMACSHA256)
	require.NoError(t, err)

	data := make([]byte, awskmsmac.MaxMessageSize)
	_, err = prov.Hmac(mac.HMACSHA256, keyID, data)
	require.NoError(t, err)

	data = append(data, 0)
	_, err = prov.Hmac(mac.HMACSHA256, keyID, data)
	assert.ErrorIs(t, err, mac.ErrInputTooLarge)
}

func Test_KmsProviderFailurePropagation(t *testing.T) {
	client := newMockKmsClient()
	prov := loadTestProvider(t, client)

	keyID, err := prov.CreateKey("test_fail", mac.HMACSHA256)
	require.NoError(t, err)

	client.failMac = errors.New("KMS internal error")
	tag, err := prov.Hmac(mac.HMACSHA256, keyID, []byte("data"))
	require.Error(t, err)
	assert.Nil(t, tag)
	assert.Contains(t, err.Error(), "KMS internal error")
}
