// Package awskmsmac computes HMAC tags with keys managed by AWS KMS,
// using the GenerateMac API. KMS supports the SHA-2 HMAC family only;
// key material never leaves the service, so operations reference keys
// by ID rather than raw bytes.
package awskmsmac
