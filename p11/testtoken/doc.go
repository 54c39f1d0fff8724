// Package testtoken provides an in-memory PKCS#11 token for unit
// tests, implementing the p11.Ctx surface with the Go crypto
// libraries. Failures can be injected per operation to exercise
// error paths without hardware.
package testtoken
