package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"spacechat/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const analyzePath = "/analyze-text"

// HTTPClassifier calls an external text analysis service.
type HTTPClassifier struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClassifier constructs a client for the service at baseURL.
func NewHTTPClassifier(baseURL string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClassifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClassifier) Name() string { return "http" }

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (verdict Verdict, err error) {
	span, ctx := observability.NewSpan(ctx, "classifier.analyze", observability.WithSpanKind(observability.SpanKindClient))
	defer func() {
		span.AddAttributes(attribute.Bool("classifier.toxic", verdict.Toxic))
		span.SetError(err)
		span.End()
	}()

	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Verdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzePath, bytes.NewReader(data))
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	observability.InjectHeaders(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Verdict{}, fmt.Errorf("%w: status %s", ErrUnavailable, resp.Status)
	}

	var out Verdict
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verdict{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return out, nil
}
