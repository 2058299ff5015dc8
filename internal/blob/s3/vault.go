package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/outcomelab/predmarket/internal/domain"
)

// proofContentType is used for stored attestation proof documents.
const proofContentType = "application/json"

// Vault implements domain.ProofVault on an S3-compatible backend. Proof
// documents are immutable once written; the object key doubles as the
// reference stored on the attestation row.
type Vault struct {
	client *s3.Client
	bucket string
}

// NewVault creates a Vault that stores proofs in the given client's
// configured bucket.
func NewVault(c *Client) *Vault {
	return &Vault{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

func proofKey(marketID, oracleID string) string {
	return fmt.Sprintf("proofs/%s/%s.json", marketID, oracleID)
}

// Put stores an attestation proof document and returns its reference key.
// One oracle writes at most one proof per market, so the key is stable under
// retried submissions.
func (v *Vault) Put(ctx context.Context, marketID, oracleID string, doc []byte) (string, error) {
	key := proofKey(marketID, oracleID)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(v.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(doc),
		ContentType: aws.String(proofContentType),
	}

	if _, err := v.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("s3blob: put proof %s: %w", key, err)
	}
	return key, nil
}

// Get retrieves a proof document by its reference key. It returns
// domain.ErrNotFound when no proof exists at the reference.
func (v *Vault) Get(ctx context.Context, ref string) ([]byte, error) {
	output, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get proof %s: %w", ref, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get proof %s: %w", ref, err)
	}
	defer output.Body.Close()

	doc, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read proof %s: %w", ref, err)
	}
	return doc, nil
}

// isNotFound returns true when the error indicates the requested S3 object
// does not exist. It checks the SDK typed errors and falls back to the
// generic 404 response some S3-compatible providers return.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404 {
		return true
	}

	return false
}

// Compile-time interface check.
var _ domain.ProofVault = (*Vault)(nil)
