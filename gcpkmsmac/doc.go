// Package gcpkmsmac computes HMAC tags with keys managed by Google
// Cloud KMS, using the MacSign API. Cloud KMS supports the SHA-2
// HMAC family only; keys are referenced by crypto key version
// resource name.
package gcpkmsmac
