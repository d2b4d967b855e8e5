// Package media turns stored media references in template components into
// time-limited links the gateway can fetch. Tenants upload template header
// images to an object bucket and reference them by key.
package media

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Signer presigns GET URLs for media objects.
type Signer struct {
	presigner *s3.PresignClient
	bucket    string
	expiry    time.Duration
}

// NewSigner builds a signer against the configured bucket.
func NewSigner(ctx context.Context, bucket, region string, expiry time.Duration) (*Signer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if expiry == 0 {
		expiry = 15 * time.Minute
	}
	return &Signer{
		presigner: s3.NewPresignClient(s3.NewFromConfig(cfg)),
		bucket:    bucket,
		expiry:    expiry,
	}, nil
}

// Link presigns a GET for the given object key.
func (s *Signer) Link(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// ResolveComponents replaces {"media_key": <key>} parameters inside template
// components with image links the gateway can reach. Parameters that fail to
// presign are passed through untouched; the gateway's rejection then surfaces
// in the job's last error.
func (s *Signer) ResolveComponents(ctx context.Context, components []any) []any {
	if s == nil || len(components) == 0 {
		return components
	}
	out := make([]any, len(components))
	for i, raw := range components {
		comp, ok := raw.(map[string]any)
		if !ok {
			out[i] = raw
			continue
		}
		params, ok := comp["parameters"].([]any)
		if !ok {
			out[i] = raw
			continue
		}
		resolved := make([]any, len(params))
		for j, p := range params {
			resolved[j] = s.resolveParameter(ctx, p)
		}
		copied := make(map[string]any, len(comp))
		for k, v := range comp {
			copied[k] = v
		}
		copied["parameters"] = resolved
		out[i] = copied
	}
	return out
}

func (s *Signer) resolveParameter(ctx context.Context, raw any) any {
	param, ok := raw.(map[string]any)
	if !ok {
		return raw
	}
	key, ok := param["media_key"].(string)
	if !ok || key == "" {
		return raw
	}
	link, err := s.Link(ctx, key)
	if err != nil {
		return raw
	}
	return map[string]any{
		"type":  "image",
		"image": map[string]any{"link": link},
	}
}
