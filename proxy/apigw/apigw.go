// Package apigw converts between API Gateway Lambda proxy events and the
// proxy's request and response types.
package apigw

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"unicode/utf8"

	"github.com/aluko123/hitcounter/proxy"
	"github.com/aws/aws-lambda-go/events"
)

// ToRequest converts an API Gateway proxy event into a proxy request.
// Multi-value headers and query parameters win over their single-value
// counterparts when both are present.
func ToRequest(ev events.APIGatewayProxyRequest) (*proxy.Request, error) {
	body := []byte(ev.Body)
	if ev.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(ev.Body)
		if err != nil {
			return nil, fmt.Errorf("decode base64 body: %w", err)
		}
		body = decoded
	}

	return &proxy.Request{
		Method:  ev.HTTPMethod,
		Path:    ev.Path,
		Query:   mergeValues(ev.QueryStringParameters, ev.MultiValueQueryStringParameters),
		Headers: http.Header(mergeCanonical(ev.Headers, ev.MultiValueHeaders)),
		Body:    body,
	}, nil
}

// FromRequest builds the event a downstream Lambda function receives
func FromRequest(req *proxy.Request) events.APIGatewayProxyRequest {
	ev := events.APIGatewayProxyRequest{
		HTTPMethod: req.Method,
		Path:       req.Path,
	}
	if len(req.Headers) > 0 {
		ev.Headers = make(map[string]string, len(req.Headers))
		ev.MultiValueHeaders = make(map[string][]string, len(req.Headers))
		for k, vv := range req.Headers {
			if len(vv) == 0 {
				continue
			}
			ev.Headers[k] = vv[len(vv)-1]
			ev.MultiValueHeaders[k] = append([]string(nil), vv...)
		}
	}
	if len(req.Query) > 0 {
		ev.QueryStringParameters = make(map[string]string, len(req.Query))
		ev.MultiValueQueryStringParameters = make(map[string][]string, len(req.Query))
		for k, vv := range req.Query {
			if len(vv) == 0 {
				continue
			}
			ev.QueryStringParameters[k] = vv[len(vv)-1]
			ev.MultiValueQueryStringParameters[k] = append([]string(nil), vv...)
		}
	}
	ev.Body, ev.IsBase64Encoded = encodeBody(req.Body)
	return ev
}

// FromResponse converts a proxy response into an API Gateway response
func FromResponse(resp *proxy.Response) events.APIGatewayProxyResponse {
	out := events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
	}
	if len(resp.Headers) > 0 {
		out.MultiValueHeaders = make(map[string][]string, len(resp.Headers))
		for k, vv := range resp.Headers {
			out.MultiValueHeaders[k] = append([]string(nil), vv...)
		}
	}
	out.Body, out.IsBase64Encoded = encodeBody(resp.Body)
	return out
}

// ToResponse converts a downstream Lambda's API Gateway response into a
// proxy response
func ToResponse(ev events.APIGatewayProxyResponse) (*proxy.Response, error) {
	body := []byte(ev.Body)
	if ev.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(ev.Body)
		if err != nil {
			return nil, fmt.Errorf("decode base64 body: %w", err)
		}
		body = decoded
	}
	status := ev.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &proxy.Response{
		StatusCode: status,
		Headers:    http.Header(mergeCanonical(ev.Headers, ev.MultiValueHeaders)),
		Body:       body,
	}, nil
}

// encodeBody returns the body as text, base64-encoding it when it is not
// valid UTF-8
func encodeBody(b []byte) (string, bool) {
	if utf8.Valid(b) {
		return string(b), false
	}
	return base64.StdEncoding.EncodeToString(b), true
}

func mergeValues(single map[string]string, multi map[string][]string) url.Values {
	if len(single) == 0 && len(multi) == 0 {
		return nil
	}
	out := make(url.Values, len(multi))
	for k, v := range single {
		out.Set(k, v)
	}
	for k, vv := range multi {
		out[k] = append([]string(nil), vv...)
	}
	return out
}

func mergeCanonical(single map[string]string, multi map[string][]string) map[string][]string {
	if len(single) == 0 && len(multi) == 0 {
		return nil
	}
	out := make(http.Header, len(multi))
	for k, v := range single {
		out.Set(k, v)
	}
	for k, vv := range multi {
		out[http.CanonicalHeaderKey(k)] = append([]string(nil), vv...)
	}
	return out
}
