package downstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluko123/hitcounter/proxy"
	"github.com/aluko123/hitcounter/proxy/apigw"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LambdaInvoker is the subset of the Lambda client used by Lambda
type LambdaInvoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// FunctionError is returned when the downstream function itself failed.
// Payload carries the function's error document.
type FunctionError struct {
	Function string
	Type     string
	Payload  string
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("lambda %s failed (%s): %s", e.Function, e.Type, e.Payload)
}

// Lambda invokes a function synchronously with an API Gateway proxy event
// and expects an API Gateway proxy response back
type Lambda struct {
	client   LambdaInvoker
	function string
}

// NewLambda creates a Lambda downstream for function (name or ARN)
func NewLambda(client LambdaInvoker, function string) *Lambda {
	return &Lambda{
		client:   client,
		function: function,
	}
}

// LambdaOptions configures OpenLambda
type LambdaOptions struct {
	Function string
	Region   string
	Endpoint string
}

// OpenLambda builds a Lambda client from the default AWS credential chain
func OpenLambda(ctx context.Context, opts LambdaOptions) (*Lambda, error) {
	if opts.Function == "" {
		return nil, errors.New("lambda function is required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := lambda.NewFromConfig(cfg, opts.clientOptions)
	return NewLambda(client, opts.Function), nil
}

// clientOptions turns off the SDK retryer so the function runs at most
// once per request
func (opts LambdaOptions) clientOptions(o *lambda.Options) {
	o.RetryMaxAttempts = 1
	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(opts.Endpoint)
	}
}

func (l *Lambda) ServeRequest(ctx context.Context, req *proxy.Request) (*proxy.Response, error) {
	payload, err := json.Marshal(apigw.FromRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode lambda event: %w", err)
	}

	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(l.function),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return nil, err
	}
	if out.FunctionError != nil {
		return nil, &FunctionError{
			Function: l.function,
			Type:     aws.ToString(out.FunctionError),
			Payload:  string(out.Payload),
		}
	}

	var ev events.APIGatewayProxyResponse
	if err := json.Unmarshal(out.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode lambda response: %w", err)
	}
	return apigw.ToResponse(ev)
}
