package compliance

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// AWSInspector implements Inspector over S3 buckets and KMS keys.
//
// Resource references use the forms "s3://<bucket>" and "kms://<key-id>".
// All probes are read-only API calls.
type AWSInspector struct {
	s3Client  *s3.Client
	kmsClient *kms.Client
}

// NewAWSInspector builds an inspector from the default AWS config chain.
func NewAWSInspector(ctx context.Context) (*AWSInspector, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &AWSInspector{
		s3Client:  s3.NewFromConfig(cfg),
		kmsClient: kms.NewFromConfig(cfg),
	}, nil
}

func splitResource(resource string) (scheme, name string, err error) {
	parts := strings.SplitN(resource, "://", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("malformed resource reference %q (want scheme://name)", resource)
	}
	return parts[0], parts[1], nil
}

func (a *AWSInspector) IsEncrypted(ctx context.Context, resource string) (bool, string, error) {
	scheme, name, err := splitResource(resource)
	if err != nil {
		return false, resource, err
	}
	switch scheme {
	case "s3":
		out, err := a.s3Client.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{
			Bucket: aws.String(name),
		})
		if err != nil {
			// Buckets without a server-side encryption configuration return
			// an error rather than an empty config.
			if strings.Contains(err.Error(), "ServerSideEncryptionConfigurationNotFound") {
				return false, resource, nil
			}
			return false, resource, fmt.Errorf("get bucket encryption %s: %w", name, err)
		}
		enabled := out.ServerSideEncryptionConfiguration != nil &&
			len(out.ServerSideEncryptionConfiguration.Rules) > 0
		return enabled, resource, nil
	case "kms":
		// KMS keys are always encrypted material by definition; probe that
		// the key exists and is enabled.
		out, err := a.kmsClient.DescribeKey(ctx, &kms.DescribeKeyInput{
			KeyId: aws.String(name),
		})
		if err != nil {
			return false, resource, fmt.Errorf("describe key %s: %w", name, err)
		}
		return out.KeyMetadata != nil && out.KeyMetadata.Enabled, resource, nil
	default:
		return false, resource, fmt.Errorf("unsupported resource scheme %q", scheme)
	}
}

func (a *AWSInspector) HasRotationEnabled(ctx context.Context, resource string) (bool, string, error) {
	scheme, name, err := splitResource(resource)
	if err != nil {
		return false, resource, err
	}
	if scheme != "kms" {
		// Rotation only applies to key material.
		return true, resource, nil
	}
	out, err := a.kmsClient.GetKeyRotationStatus(ctx, &kms.GetKeyRotationStatusInput{
		KeyId: aws.String(name),
	})
	if err != nil {
		return false, resource, fmt.Errorf("get key rotation status %s: %w", name, err)
	}
	return out.KeyRotationEnabled, resource, nil
}

func (a *AWSInspector) IsVersioned(ctx context.Context, resource string) (bool, string, error) {
	scheme, name, err := splitResource(resource)
	if err != nil {
		return false, resource, err
	}
	if scheme != "s3" {
		return true, resource, nil
	}
	out, err := a.s3Client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{
		Bucket: aws.String(name),
	})
	if err != nil {
		return false, resource, fmt.Errorf("get bucket versioning %s: %w", name, err)
	}
	return out.Status == s3types.BucketVersioningStatusEnabled, resource, nil
}

func (a *AWSInspector) IsPubliclyAccessible(ctx context.Context, resource string) (bool, string, error) {
	scheme, name, err := splitResource(resource)
	if err != nil {
		return false, resource, err
	}
	if scheme != "s3" {
		return false, resource, nil
	}
	out, err := a.s3Client.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{
		Bucket: aws.String(name),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchPublicAccessBlockConfiguration") {
			// No block configuration at all: treat as publicly reachable.
			return true, resource, nil
		}
		return false, resource, fmt.Errorf("get public access block %s: %w", name, err)
	}
	cfg := out.PublicAccessBlockConfiguration
	blocked := cfg != nil &&
		aws.ToBool(cfg.BlockPublicAcls) &&
		aws.ToBool(cfg.BlockPublicPolicy) &&
		aws.ToBool(cfg.IgnorePublicAcls) &&
		aws.ToBool(cfg.RestrictPublicBuckets)
	return !blocked, resource, nil
}
