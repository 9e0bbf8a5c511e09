// Package cloud implements typed adapters over the external services the
// pipeline depends on: object storage, the data catalog and crawler, the
// record-matching service, and the query engine. Every adapter exposes a
// narrow API interface over the underlying SDK client so tests can mock it.
package cloud

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/entityresolution"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// Clients bundles the concrete AWS service clients plus the resolved caller
// identity needed to derive ARNs.
type Clients struct {
	S3        *s3.Client
	Glue      *glue.Client
	ER        *entityresolution.Client
	Athena    *athena.Client
	AccountID string
	Region    string
}

// NewClients loads the default AWS configuration for the region, constructs
// all service clients, and resolves the caller's account ID.
func NewClients(ctx context.Context, region string) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	stsClient := sts.NewFromConfig(cfg)
	ident, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("resolving caller identity: %w", err)
	}
	account := ""
	if ident.Account != nil {
		account = *ident.Account
	}

	return &Clients{
		S3:        s3.NewFromConfig(cfg),
		Glue:      glue.NewFromConfig(cfg),
		ER:        entityresolution.NewFromConfig(cfg),
		Athena:    athena.NewFromConfig(cfg),
		AccountID: account,
		Region:    region,
	}, nil
}

// MatchRoleARN returns the record-matching execution role ARN, deriving the
// conventional role name from the caller's account when none is configured.
func (c *Clients) MatchRoleARN(configured string) string {
	if configured != "" {
		return configured
	}
	return fmt.Sprintf("arn:aws:iam::%s:role/RefiReadyEntityResolutionRole", c.AccountID)
}

// apiErrorCode extracts the service error code from an AWS API error, or
// returns the empty string for non-API errors.
func apiErrorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}
