// Package cryptoutil provides the hashing helpers shared by the site
// handler and the S3 mirror: hex and base64 SHA-256 digests, entity tags
// and constant-time hash comparison.
package cryptoutil
