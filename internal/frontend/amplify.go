// Package frontend bootstraps the operator console hosted on Amplify: it
// resolves the web stack's outputs, reads the API endpoints from SSM, and
// pushes security headers, build environment, and routing rules to the
// Amplify app. It also seeds the default transition configuration.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/amplify"
	"github.com/aws/aws-sdk-go-v2/service/amplify/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// FrontendStackName is the CloudFormation stack the web app deploys under.
const FrontendStackName = "mre-frontend-stack"

// SSM parameter names published by the control and data plane stacks.
const (
	ParamControlPlaneEndpoint = "/MRE/ControlPlane/EndpointURL"
	ParamDataPlaneEndpoint    = "/MRE/DataPlane/EndpointURL"
	ParamMediaOutputBucket    = "/MRE/ControlPlane/MediaOutputBucket"
	ParamTransitionClipBucket = "/MRE/ControlPlane/TransitionClipBucket"
	ParamMediaOutputDist      = "/MRE/ControlPlane/MediaOutputDistribution"
	ParamTransitionTable      = "/MRE/ControlPlane/TransitionConfigTableName"
)

// StackOutputs identifies the deployed web app.
type StackOutputs struct {
	AppID          string
	UserPoolID     string
	IdentityPoolID string
	AppClientID    string
	WebURL         string
}

func (o StackOutputs) validate() error {
	switch {
	case o.AppID == "":
		return errors.New("stack outputs are missing the Amplify app ID")
	case o.UserPoolID == "":
		return errors.New("stack outputs are missing the user pool ID")
	case o.IdentityPoolID == "":
		return errors.New("stack outputs are missing the identity pool ID")
	case o.AppClientID == "":
		return errors.New("stack outputs are missing the app client ID")
	case o.WebURL == "":
		return errors.New("stack outputs are missing the web app URL")
	}
	return nil
}

// OutputsFromFile reads the outputs a fresh deployment wrote to
// cdk-outputs.json.
func OutputsFromFile(path string) (StackOutputs, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StackOutputs{}, fmt.Errorf("read deployment outputs: %w", err)
	}

	var parsed map[string]map[string]string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return StackOutputs{}, fmt.Errorf("decode deployment outputs: %w", err)
	}
	stack, ok := parsed[FrontendStackName]
	if !ok {
		return StackOutputs{}, fmt.Errorf("deployment outputs have no %s entry", FrontendStackName)
	}

	outputs := StackOutputs{
		AppID:          stack["webAppId"],
		UserPoolID:     stack["userPoolId"],
		IdentityPoolID: stack["identityPoolId"],
		AppClientID:    stack["appClientId"],
		WebURL:         stack["webAppURL"],
	}
	return outputs, outputs.validate()
}

// StackAPI is the slice of the CloudFormation API used to resolve outputs of
// an existing deployment.
type StackAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// OutputsFromStack resolves the web app outputs from the deployed
// CloudFormation stack. Output keys are matched by substring because the
// synthesized names carry construct hashes.
func OutputsFromStack(ctx context.Context, client StackAPI) (StackOutputs, error) {
	resp, err := client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(FrontendStackName),
	})
	if err != nil {
		return StackOutputs{}, fmt.Errorf("describe stack %s: %w", FrontendStackName, err)
	}
	if len(resp.Stacks) == 0 {
		return StackOutputs{}, fmt.Errorf("stack %s not found", FrontendStackName)
	}

	var outputs StackOutputs
	for _, output := range resp.Stacks[0].Outputs {
		key := aws.ToString(output.OutputKey)
		value := aws.ToString(output.OutputValue)
		switch {
		case strings.Contains(key, "appClientId"):
			outputs.AppClientID = value
		case strings.Contains(key, "identityPoolId"):
			outputs.IdentityPoolID = value
		case strings.Contains(key, "userPoolId"):
			outputs.UserPoolID = value
		case strings.Contains(key, "webAppId"):
			outputs.AppID = value
		case strings.Contains(key, "webAppURL"):
			outputs.WebURL = value
		}
	}
	return outputs, outputs.validate()
}

// ParameterAPI reads deployment parameters from SSM.
type ParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// AppAPI updates the Amplify app configuration.
type AppAPI interface {
	UpdateApp(ctx context.Context, params *amplify.UpdateAppInput, optFns ...func(*amplify.Options)) (*amplify.UpdateAppOutput, error)
}

// Endpoints holds the parameter values the console build needs.
type Endpoints struct {
	ControlPlaneURL      string
	DataPlaneURL         string
	MediaOutputBucket    string
	TransitionClipBucket string
	CloudFrontDomain     string
}

// Bootstrapper applies the console configuration to the Amplify app.
type Bootstrapper struct {
	params ParameterAPI
	apps   AppAPI
	region string
	logger *slog.Logger
}

// NewBootstrapper returns a Bootstrapper for the given region.
func NewBootstrapper(params ParameterAPI, apps AppAPI, region string, logger *slog.Logger) (*Bootstrapper, error) {
	if params == nil {
		return nil, errors.New("ssm client is required")
	}
	if apps == nil {
		return nil, errors.New("amplify client is required")
	}
	if strings.TrimSpace(region) == "" {
		return nil, errors.New("region is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{params: params, apps: apps, region: region, logger: logger}, nil
}

// ResolveEndpoints reads the console's upstream endpoints and buckets from
// SSM.
func (b *Bootstrapper) ResolveEndpoints(ctx context.Context) (Endpoints, error) {
	var endpoints Endpoints
	for _, target := range []struct {
		name string
		dest *string
	}{
		{ParamControlPlaneEndpoint, &endpoints.ControlPlaneURL},
		{ParamDataPlaneEndpoint, &endpoints.DataPlaneURL},
		{ParamMediaOutputBucket, &endpoints.MediaOutputBucket},
		{ParamTransitionClipBucket, &endpoints.TransitionClipBucket},
		{ParamMediaOutputDist, &endpoints.CloudFrontDomain},
	} {
		value, err := b.parameter(ctx, target.name)
		if err != nil {
			return Endpoints{}, err
		}
		*target.dest = value
	}
	return endpoints, nil
}

// TransitionTableName reads the transition config table name from SSM.
func (b *Bootstrapper) TransitionTableName(ctx context.Context) (string, error) {
	return b.parameter(ctx, ParamTransitionTable)
}

func (b *Bootstrapper) parameter(ctx context.Context, name string) (string, error) {
	out, err := b.params.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	value := aws.ToString(out.Parameter.Value)
	if value == "" {
		return "", fmt.Errorf("parameter %s is empty", name)
	}
	return value, nil
}

// ConfigureApp pushes custom security headers, build environment variables,
// and the SPA rewrite rule to the Amplify app.
func (b *Bootstrapper) ConfigureApp(ctx context.Context, outputs StackOutputs, endpoints Endpoints) error {
	if err := outputs.validate(); err != nil {
		return err
	}

	b.logger.Info("updating amplify app configuration", "app_id", outputs.AppID)
	_, err := b.apps.UpdateApp(ctx, &amplify.UpdateAppInput{
		AppId:         aws.String(outputs.AppID),
		CustomHeaders: aws.String(b.customHeaders(outputs, endpoints)),
		EnvironmentVariables: map[string]string{
			"REACT_APP_BASE_API":               endpoints.ControlPlaneURL,
			"REACT_APP_DATA_PLANE_API":         endpoints.DataPlaneURL,
			"REACT_APP_REGION":                 b.region,
			"REACT_APP_USER_POOL_ID":           outputs.UserPoolID,
			"REACT_APP_APP_CLIENT_ID":          outputs.AppClientID,
			"REACT_APP_IDENTITY_POOL_ID":       outputs.IdentityPoolID,
			"REACT_APP_CLOUDFRONT_DOMAIN_NAME": endpoints.CloudFrontDomain,
		},
		CustomRules: []types.CustomRule{
			{
				Source: aws.String(`</^((?!\.(css|gif|ico|jpg|js|png|txt|svg|woff|ttf)$).)*$/>`),
				Target: aws.String("/index.html"),
				Status: aws.String("200"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("update amplify app %s: %w", outputs.AppID, err)
	}
	return nil
}

// customHeaders renders the Amplify custom header document, most of which is
// the content security policy scoped to this deployment's endpoints.
func (b *Bootstrapper) customHeaders(outputs StackOutputs, endpoints Endpoints) string {
	controlDomain := apiDomain(endpoints.ControlPlaneURL)
	dataDomain := apiDomain(endpoints.DataPlaneURL)

	csp := fmt.Sprintf("default-src 'none'; style-src 'self' 'unsafe-inline'; "+
		"connect-src 'self' https://cognito-idp.%[1]s.amazonaws.com/ https://cognito-identity.%[1]s.amazonaws.com %[2]s %[3]s; "+
		"script-src https://%[4]s 'self' https://cognito-idp.%[1]s.amazonaws.com/ https://cognito-identity.%[1]s.amazonaws.com %[2]s %[3]s; "+
		"img-src 'self' https://%[5]s.s3.amazonaws.com; "+
		"media-src 'self' https://%[5]s.s3.amazonaws.com https://%[6]s.s3.amazonaws.com https://%[7]s; "+
		"object-src 'none'; frame-ancestors 'none'; font-src 'self' https://%[4]s; manifest-src 'self'",
		b.region, controlDomain, dataDomain, outputs.WebURL,
		endpoints.MediaOutputBucket, endpoints.TransitionClipBucket, endpoints.CloudFrontDomain)

	var sb strings.Builder
	sb.WriteString("customHeaders:\n")
	sb.WriteString("  - pattern: '**/*'\n")
	sb.WriteString("    headers:\n")
	sb.WriteString("      - key: 'Strict-Transport-Security'\n")
	sb.WriteString("        value: 'max-age=31536000; includeSubDomains'\n")
	sb.WriteString("      - key: 'X-Frame-Options'\n")
	sb.WriteString("        value: 'SAMEORIGIN'\n")
	sb.WriteString("      - key: 'X-XSS-Protection'\n")
	sb.WriteString("        value: '1; mode=block'\n")
	sb.WriteString("      - key: 'X-Content-Type-Options'\n")
	sb.WriteString("        value: 'nosniff'\n")
	sb.WriteString("      - key: 'Content-Security-Policy'\n")
	sb.WriteString("        value: " + csp + "\n")
	return sb.String()
}

// apiDomain strips the stage path from an API Gateway invoke URL, leaving
// the scheme and host the CSP needs.
func apiDomain(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return endpoint
	}
	return parsed.Scheme + "://" + parsed.Host
}
