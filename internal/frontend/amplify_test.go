package frontend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/amplify"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeStackAPI struct {
	output *cloudformation.DescribeStacksOutput
	err    error
}

func (f *fakeStackAPI) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

type fakeParameterAPI struct {
	values map[string]string
}

func (f *fakeParameterAPI) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	value := f.values[aws.ToString(params.Name)]
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{Value: aws.String(value)},
	}, nil
}

type fakeAppAPI struct {
	input *amplify.UpdateAppInput
}

func (f *fakeAppAPI) UpdateApp(ctx context.Context, params *amplify.UpdateAppInput, optFns ...func(*amplify.Options)) (*amplify.UpdateAppOutput, error) {
	f.input = params
	return &amplify.UpdateAppOutput{}, nil
}

func testOutputs() StackOutputs {
	return StackOutputs{
		AppID:          "d1abc",
		UserPoolID:     "us-east-1_pool",
		IdentityPoolID: "us-east-1:identity",
		AppClientID:    "client123",
		WebURL:         "main.d1abc.amplifyapp.com",
	}
}

func testEndpoints() Endpoints {
	return Endpoints{
		ControlPlaneURL:      "https://ctl.execute-api.us-east-1.amazonaws.com/api/",
		DataPlaneURL:         "https://data.execute-api.us-east-1.amazonaws.com/api/",
		MediaOutputBucket:    "media-output",
		TransitionClipBucket: "transition-clips",
		CloudFrontDomain:     "d111.cloudfront.net",
	}
}

func TestOutputsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cdk-outputs.json")
	contents := `{
		"mre-frontend-stack": {
			"webAppId": "d1abc",
			"userPoolId": "us-east-1_pool",
			"identityPoolId": "us-east-1:identity",
			"appClientId": "client123",
			"webAppURL": "main.d1abc.amplifyapp.com"
		}
	}`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write outputs file: %v", err)
	}

	outputs, err := OutputsFromFile(path)
	if err != nil {
		t.Fatalf("OutputsFromFile: %v", err)
	}
	if outputs != testOutputs() {
		t.Fatalf("outputs = %+v", outputs)
	}
}

func TestOutputsFromFileMissingStack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cdk-outputs.json")
	if err := os.WriteFile(path, []byte(`{"other-stack": {}}`), 0o600); err != nil {
		t.Fatalf("write outputs file: %v", err)
	}
	if _, err := OutputsFromFile(path); err == nil {
		t.Fatal("expected error for missing stack entry")
	}
}

func TestOutputsFromStack(t *testing.T) {
	client := &fakeStackAPI{
		output: &cloudformation.DescribeStacksOutput{
			Stacks: []cfntypes.Stack{
				{
					Outputs: []cfntypes.Output{
						{OutputKey: aws.String("frontendappClientId1A2B"), OutputValue: aws.String("client123")},
						{OutputKey: aws.String("frontendidentityPoolId3C4D"), OutputValue: aws.String("us-east-1:identity")},
						{OutputKey: aws.String("frontenduserPoolId5E6F"), OutputValue: aws.String("us-east-1_pool")},
						{OutputKey: aws.String("frontendwebAppId7G8H"), OutputValue: aws.String("d1abc")},
						{OutputKey: aws.String("frontendwebAppURL9I0J"), OutputValue: aws.String("main.d1abc.amplifyapp.com")},
					},
				},
			},
		},
	}

	outputs, err := OutputsFromStack(context.Background(), client)
	if err != nil {
		t.Fatalf("OutputsFromStack: %v", err)
	}
	if outputs != testOutputs() {
		t.Fatalf("outputs = %+v", outputs)
	}
}

func TestOutputsFromStackIncomplete(t *testing.T) {
	client := &fakeStackAPI{
		output: &cloudformation.DescribeStacksOutput{
			Stacks: []cfntypes.Stack{
				{
					Outputs: []cfntypes.Output{
						{OutputKey: aws.String("webAppId"), OutputValue: aws.String("d1abc")},
					},
				},
			},
		},
	}
	if _, err := OutputsFromStack(context.Background(), client); err == nil {
		t.Fatal("expected error for incomplete stack outputs")
	}
}

func TestResolveEndpoints(t *testing.T) {
	params := &fakeParameterAPI{values: map[string]string{
		ParamControlPlaneEndpoint: "https://ctl.execute-api.us-east-1.amazonaws.com/api/",
		ParamDataPlaneEndpoint:    "https://data.execute-api.us-east-1.amazonaws.com/api/",
		ParamMediaOutputBucket:    "media-output",
		ParamTransitionClipBucket: "transition-clips",
		ParamMediaOutputDist:      "d111.cloudfront.net",
	}}
	boot, err := NewBootstrapper(params, &fakeAppAPI{}, "us-east-1", nil)
	if err != nil {
		t.Fatalf("NewBootstrapper: %v", err)
	}

	endpoints, err := boot.ResolveEndpoints(context.Background())
	if err != nil {
		t.Fatalf("ResolveEndpoints: %v", err)
	}
	if endpoints != testEndpoints() {
		t.Fatalf("endpoints = %+v", endpoints)
	}
}

func TestResolveEndpointsEmptyParameter(t *testing.T) {
	params := &fakeParameterAPI{values: map[string]string{}}
	boot, _ := NewBootstrapper(params, &fakeAppAPI{}, "us-east-1", nil)

	if _, err := boot.ResolveEndpoints(context.Background()); err == nil {
		t.Fatal("expected error for empty parameter")
	}
}

func TestConfigureApp(t *testing.T) {
	apps := &fakeAppAPI{}
	boot, _ := NewBootstrapper(&fakeParameterAPI{}, apps, "us-east-1", nil)

	if err := boot.ConfigureApp(context.Background(), testOutputs(), testEndpoints()); err != nil {
		t.Fatalf("ConfigureApp: %v", err)
	}
	input := apps.input
	if input == nil {
		t.Fatal("UpdateApp was not called")
	}
	if got := aws.ToString(input.AppId); got != "d1abc" {
		t.Fatalf("app ID = %q", got)
	}

	env := input.EnvironmentVariables
	if env["REACT_APP_REGION"] != "us-east-1" {
		t.Fatalf("region env = %q", env["REACT_APP_REGION"])
	}
	if env["REACT_APP_USER_POOL_ID"] != "us-east-1_pool" {
		t.Fatalf("user pool env = %q", env["REACT_APP_USER_POOL_ID"])
	}
	if env["REACT_APP_BASE_API"] != "https://ctl.execute-api.us-east-1.amazonaws.com/api/" {
		t.Fatalf("base api env = %q", env["REACT_APP_BASE_API"])
	}

	headers := aws.ToString(input.CustomHeaders)
	for _, fragment := range []string{
		"Strict-Transport-Security",
		"Content-Security-Policy",
		"https://ctl.execute-api.us-east-1.amazonaws.com",
		"https://media-output.s3.amazonaws.com",
		"https://transition-clips.s3.amazonaws.com",
		"https://d111.cloudfront.net",
	} {
		if !strings.Contains(headers, fragment) {
			t.Errorf("custom headers missing %q", fragment)
		}
	}

	if len(input.CustomRules) != 1 {
		t.Fatalf("expected 1 rewrite rule, got %d", len(input.CustomRules))
	}
	if got := aws.ToString(input.CustomRules[0].Target); got != "/index.html" {
		t.Fatalf("rewrite target = %q", got)
	}
}

func TestConfigureAppRejectsInvalidOutputs(t *testing.T) {
	boot, _ := NewBootstrapper(&fakeParameterAPI{}, &fakeAppAPI{}, "us-east-1", nil)

	if err := boot.ConfigureApp(context.Background(), StackOutputs{}, testEndpoints()); err == nil {
		t.Fatal("expected validation error for empty outputs")
	}
}
