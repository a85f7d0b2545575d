package handlers

import (
	"context"
	"net/http"

	"github.com/aluko123/hitcounter/pkg/logger"
	"github.com/aluko123/hitcounter/proxy"
	"github.com/aluko123/hitcounter/proxy/apigw"
	"github.com/aws/aws-lambda-go/events"
)

// LambdaHandler is the handler signature accepted by lambda.Start
type LambdaHandler func(ctx context.Context, ev events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// APIGateway serves h behind an API Gateway Lambda proxy integration.
// Proxy errors become status responses instead of invocation errors, so
// API Gateway passes them to the caller as-is.
func APIGateway(h proxy.Handler) LambdaHandler {
	return func(ctx context.Context, ev events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		if id := ev.RequestContext.RequestID; id != "" {
			ctx = logger.WithRequestID(ctx, id)
		}

		req, err := apigw.ToRequest(ev)
		if err != nil {
			return textResponse(http.StatusBadRequest, err.Error()), nil
		}

		resp, err := h.ServeRequest(ctx, req)
		if err != nil {
			logger.FromContext(ctx).Debug("request failed", "error", err)
			return textResponse(StatusFor(err), err.Error()), nil
		}
		return apigw.FromResponse(resp), nil
	}
}

func textResponse(code int, msg string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: code,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       msg + "\n",
	}
}
