// Package iam exchanges a SAML assertion for warehouse database
// credentials: the assertion buys temporary IAM keys via STS
// AssumeRoleWithSAML, and those keys buy a short-lived database
// user/password pair from the warehouse control plane.
package iam

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"

	"github.com/nimbusdw/nimbus-go/internal/logger"
	"github.com/nimbusdw/nimbus-go/pkg/autherr"
	"github.com/nimbusdw/nimbus-go/pkg/credentials"
)

// AssertionSource produces the SAML assertion presented to STS. Any of the
// SAML providers in pkg/credentials satisfies it.
type AssertionSource interface {
	GetCredentials(ctx context.Context) (credentials.CredentialRecord, error)
}

// STSAPI is the slice of the STS client the exchange uses.
type STSAPI interface {
	AssumeRoleWithSAML(ctx context.Context, params *sts.AssumeRoleWithSAMLInput,
		optFns ...func(*sts.Options)) (*sts.AssumeRoleWithSAMLOutput, error)
}

// WarehouseAPI is the slice of the warehouse control-plane client the
// exchange uses.
type WarehouseAPI interface {
	GetClusterCredentials(ctx context.Context, params *redshift.GetClusterCredentialsInput,
		optFns ...func(*redshift.Options)) (*redshift.GetClusterCredentialsOutput, error)
}

// Config names the federation target.
type Config struct {
	// Assertions produces the SAML assertion.
	Assertions AssertionSource

	// RoleARN and PrincipalARN identify the role assumed and the SAML
	// provider it trusts.
	RoleARN      string
	PrincipalARN string

	// ClusterID, DBUser and DBGroups shape the database credential
	// request. AutoCreate asks the warehouse to create the user on first
	// login.
	ClusterID  string
	DBUser     string
	DBGroups   []string
	AutoCreate bool

	// Region pins the AWS region; empty defers to the default chain.
	Region string

	// Cache may be nil to keep records instance-local.
	Cache *credentials.Cache
}

// Federated implements credentials.Provider for the two-step exchange.
type Federated struct {
	res *credentials.Fetcher
	cfg Config

	// Client construction is replaceable for tests.
	newSTS       func(ctx context.Context) (STSAPI, error)
	newWarehouse func(ctx context.Context, tc ststypes.Credentials) (WarehouseAPI, error)
}

func New(cfg Config) *Federated {
	f := &Federated{cfg: cfg}
	f.res = credentials.NewFetcher("federated-iam", f.cacheKey(), cfg.Cache)
	f.newSTS = f.defaultSTS
	f.newWarehouse = f.defaultWarehouse
	return f
}

func (f *Federated) cacheKey() string {
	c := f.cfg
	if c.RoleARN == "" || c.PrincipalARN == "" || c.ClusterID == "" || c.DBUser == "" {
		return ""
	}
	return strings.Join([]string{"iam", c.RoleARN, c.PrincipalARN, c.ClusterID, c.DBUser, c.Region}, "|")
}

func (f *Federated) Name() string { return "federated-iam" }

func (f *Federated) CacheKey() string { return f.res.Key() }

func (f *Federated) SetParameter(key, value string) error {
	const op = "credentials.iam"
	switch key {
	case "preferred_role":
		f.cfg.RoleARN = value
	case "principal_arn":
		f.cfg.PrincipalARN = value
	case "cluster_id":
		f.cfg.ClusterID = value
	case "db_user":
		f.cfg.DBUser = value
	case "db_groups":
		f.cfg.DBGroups = splitGroups(value)
	case "auto_create":
		on, err := strconv.ParseBool(value)
		if err != nil {
			return autherr.Configuration(op, "invalid auto_create value %q: %v", value, err)
		}
		f.cfg.AutoCreate = on
	case "region":
		f.cfg.Region = value
	default:
		return autherr.Configuration(op, "unknown parameter %q", key)
	}
	f.res.SetKey(f.cacheKey())
	return nil
}

func splitGroups(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	groups := make([]string, 0, len(parts))
	for _, p := range parts {
		if g := strings.TrimSpace(p); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

func (f *Federated) GetCredentials(ctx context.Context) (credentials.CredentialRecord, error) {
	return f.res.Get(ctx, f.fetch)
}

func (f *Federated) Refresh(ctx context.Context) (credentials.CredentialRecord, error) {
	return f.res.Refresh(ctx, f.fetch)
}

func (f *Federated) fetch(ctx context.Context) (credentials.CredentialRecord, error) {
	const op = "credentials.iam"

	c := f.cfg
	switch {
	case c.Assertions == nil:
		return credentials.CredentialRecord{}, autherr.Configuration(op, "no assertion source configured")
	case c.RoleARN == "":
		return credentials.CredentialRecord{}, autherr.Configuration(op, "no preferred_role configured")
	case c.PrincipalARN == "":
		return credentials.CredentialRecord{}, autherr.Configuration(op, "no principal_arn configured")
	case c.ClusterID == "":
		return credentials.CredentialRecord{}, autherr.Configuration(op, "no cluster_id configured")
	case c.DBUser == "":
		return credentials.CredentialRecord{}, autherr.Configuration(op, "no db_user configured")
	}

	assertion, err := c.Assertions.GetCredentials(ctx)
	if err != nil {
		return credentials.CredentialRecord{}, err
	}

	stsClient, err := f.newSTS(ctx)
	if err != nil {
		return credentials.CredentialRecord{}, err
	}
	assumed, err := stsClient.AssumeRoleWithSAML(ctx, &sts.AssumeRoleWithSAMLInput{
		RoleArn:       aws.String(c.RoleARN),
		PrincipalArn:  aws.String(c.PrincipalARN),
		SAMLAssertion: aws.String(assertion.Material),
	})
	if err != nil {
		return credentials.CredentialRecord{}, classifyAWSError(op, err, "assuming role "+c.RoleARN)
	}
	if assumed.Credentials == nil {
		return credentials.CredentialRecord{}, autherr.Protocol(op, "STS returned no credentials")
	}
	logger.Debug("assumed federated role", logger.KeyProvider, "federated-iam",
		"role", c.RoleARN, logger.KeyExpiry, aws.ToTime(assumed.Credentials.Expiration))

	warehouse, err := f.newWarehouse(ctx, *assumed.Credentials)
	if err != nil {
		return credentials.CredentialRecord{}, err
	}
	out, err := warehouse.GetClusterCredentials(ctx, &redshift.GetClusterCredentialsInput{
		ClusterIdentifier: aws.String(c.ClusterID),
		DbUser:            aws.String(c.DBUser),
		DbGroups:          c.DBGroups,
		AutoCreate:        aws.Bool(c.AutoCreate),
	})
	if err != nil {
		return credentials.CredentialRecord{}, classifyAWSError(op, err,
			"requesting database credentials for "+c.DBUser+" on "+c.ClusterID)
	}
	if out.DbPassword == nil || out.DbUser == nil {
		return credentials.CredentialRecord{}, autherr.Protocol(op, "warehouse returned incomplete credentials")
	}

	expiry := aws.ToTime(out.Expiration)
	if expiry.IsZero() {
		expiry = time.Now().Add(credentials.DefaultTTL)
	}
	return credentials.CredentialRecord{
		Material: aws.ToString(out.DbPassword),
		Expiry:   expiry,
		Origin:   credentials.OriginFederated,
		Metadata: map[string]string{
			"db_user":    aws.ToString(out.DbUser),
			"cluster_id": c.ClusterID,
		},
	}, nil
}

// classifyAWSError maps an exchange failure onto the error taxonomy: API
// rejections read as authorization failures, transport faults as network
// errors.
func classifyAWSError(op string, err error, action string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return autherr.Wrapf(autherr.ErrAuthorizationDenied, op, err,
			"%s: %s", action, apiErr.ErrorCode())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return autherr.Wrapf(autherr.ErrNetwork, op, err, "%s", action)
	}
	return autherr.Wrapf(autherr.ErrAuthorizationDenied, op, err, "%s", action)
}

func (f *Federated) defaultSTS(ctx context.Context) (STSAPI, error) {
	cfg, err := f.loadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	return sts.NewFromConfig(cfg), nil
}

// defaultWarehouse builds a control-plane client scoped to the temporary
// keys STS just issued; the ambient credential chain must not leak in here.
func (f *Federated) defaultWarehouse(ctx context.Context, tc ststypes.Credentials) (WarehouseAPI, error) {
	cfg, err := f.loadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg.Credentials = aws.NewCredentialsCache(awscreds.NewStaticCredentialsProvider(
		aws.ToString(tc.AccessKeyId),
		aws.ToString(tc.SecretAccessKey),
		aws.ToString(tc.SessionToken),
	))
	return redshift.NewFromConfig(cfg), nil
}

func (f *Federated) loadAWSConfig(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if f.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(f.cfg.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, autherr.Configuration("credentials.iam", "loading AWS configuration: %v", err)
	}
	return cfg, nil
}
