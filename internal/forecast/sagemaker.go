package forecast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
)

// DefaultRegion is where the forecasting endpoints are deployed.
const DefaultRegion = "ap-northeast-2"

// ErrNoCredentials is returned when no AWS credentials can be resolved.
var ErrNoCredentials = errors.New("aws credentials not available")

// SageMakerAPI is the subset of the SageMaker runtime client in use.
type SageMakerAPI interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// SageMakerConfig selects a SageMaker inference endpoint.
type SageMakerConfig struct {
	Region       string
	EndpointName string
	// Profile names a shared-config profile; empty uses the default chain.
	Profile string
	Timeout time.Duration
}

// NewSageMakerClient loads AWS configuration, resolves credentials once and
// returns a client invoking cfg.EndpointName. Missing credentials fail here
// rather than on the first page render.
func NewSageMakerClient(ctx context.Context, cfg SageMakerConfig, opts ...Option) (*Client, error) {
	name := strings.TrimSpace(cfg.EndpointName)
	if name == "" {
		return nil, ErrNoEndpoint
	}
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Credentials == nil {
		return nil, ErrNoCredentials
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}

	return NewSageMakerClientFromAPI(sagemakerruntime.NewFromConfig(awsCfg), name, cfg.Timeout, opts...), nil
}

// NewSageMakerClientFromAPI wraps an existing runtime client.
func NewSageMakerClientFromAPI(api SageMakerAPI, endpointName string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return NewClientWithTransport(&sageMakerTransport{api: api, endpointName: endpointName, timeout: timeout}, opts...)
}

type sageMakerTransport struct {
	api          SageMakerAPI
	endpointName string
	timeout      time.Duration
}

func (t *sageMakerTransport) Target() string { return "sagemaker:" + t.endpointName }

func (t *sageMakerTransport) Send(ctx context.Context, contentType string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	out, err := t.api.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(t.endpointName),
		ContentType:  aws.String(contentType),
		Accept:       aws.String("application/json"),
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke endpoint %s: %w", t.endpointName, err)
	}
	return out.Body, nil
}
