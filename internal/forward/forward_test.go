package forward

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient returns canned outcomes in order and records every request
// it receives.
type scriptedClient struct {
	outcomes []outcome
	requests []*http.Request
	bodies   []string
}

type outcome struct {
	status int
	body   string
	err    error
}

func (c *scriptedClient) Do(req *http.Request) (*http.Response, error) {
	c.requests = append(c.requests, req)

	body := ""
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	c.bodies = append(c.bodies, body)

	if len(c.outcomes) == 0 {
		return nil, errors.New("no scripted outcome remaining")
	}
	next := c.outcomes[0]
	c.outcomes = c.outcomes[1:]

	if next.err != nil {
		return nil, next.err
	}

	return &http.Response{
		StatusCode: next.status,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewBufferString(next.body)),
	}, nil
}

func get(url string) Request {
	return Request{
		Method: http.MethodGet,
		URL:    url,
		Header: http.Header{},
		Token:  "test-token",
	}
}

func TestForward_SuccessFirstAttempt(t *testing.T) {
	client := &scriptedClient{outcomes: []outcome{{status: 200, body: "upstream body"}}}

	resp, err := New(client, 2).Forward(context.Background(), get("https://example.com/api"))

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Len(t, client.requests, 1)

	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "upstream body", string(b))
}

func TestForward_ExhaustsBudgetOnPersistent500(t *testing.T) {
	client := &scriptedClient{outcomes: []outcome{
		{status: 500, body: "boom 1"},
		{status: 502, body: "boom 2"},
		{status: 500, body: "final boom"},
	}}

	resp, err := New(client, 2).Forward(context.Background(), get("https://example.com/api"))

	// the final 5xx is returned to the caller, not converted to an error
	require.NoError(t, err)
	assert.Len(t, client.requests, 3)
	assert.Equal(t, 500, resp.StatusCode)

	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "final boom", string(b))
}

func TestForward_TransportErrorThenSuccess(t *testing.T) {
	client := &scriptedClient{outcomes: []outcome{
		{err: errors.New("connection refused")},
		{status: 200, body: "recovered"},
	}}

	resp, err := New(client, 2).Forward(context.Background(), get("https://example.com/api"))

	require.NoError(t, err)
	assert.Len(t, client.requests, 2)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestForward_TransportErrorExhaustsBudget(t *testing.T) {
	client := &scriptedClient{outcomes: []outcome{
		{err: errors.New("failure one")},
		{err: errors.New("failure two")},
	}}

	_, err := New(client, 1).Forward(context.Background(), get("https://example.com/api"))

	require.Error(t, err)
	// the last recorded error is the one surfaced
	assert.ErrorContains(t, err, "failure two")
	assert.Len(t, client.requests, 2)
}

func TestForward_4xxReturnsImmediately(t *testing.T) {
	client := &scriptedClient{outcomes: []outcome{{status: 404, body: "not found"}}}

	resp, err := New(client, 3).Forward(context.Background(), get("https://example.com/api"))

	require.NoError(t, err)
	assert.Len(t, client.requests, 1)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestForward_ZeroRetriesMeansSingleAttempt(t *testing.T) {
	client := &scriptedClient{outcomes: []outcome{{status: 503, body: "unavailable"}}}

	resp, err := New(client, 0).Forward(context.Background(), get("https://example.com/api"))

	require.NoError(t, err)
	assert.Len(t, client.requests, 1)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestForward_HeaderHandling(t *testing.T) {
	client := &scriptedClient{outcomes: []outcome{{status: 200}}}

	header := http.Header{}
	header.Set("Accept", "application/xml")
	header.Set("X-Custom", "custom-value")
	header.Set("Host", "localhost:8080")
	header.Set("Hostname", "localhost")
	header.Set("Cookie", "session=inbound-cookie")

	_, err := New(client, 0).Forward(context.Background(), Request{
		Method: http.MethodGet,
		URL:    "https://example.com/api",
		Header: header,
		Token:  "secret-token",
	})
	require.NoError(t, err)

	sent := client.requests[0].Header
	assert.Equal(t, "application/xml", sent.Get("Accept"))
	assert.Equal(t, "custom-value", sent.Get("X-Custom"))
	assert.Empty(t, sent.Values("Hostname"))
	assert.Equal(t, "cf_authorization=secret-token", sent.Get("Cookie"))
}

func TestForward_BodyAttachedForMutatingMethods(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			client := &scriptedClient{outcomes: []outcome{{status: 200}}}

			_, err := New(client, 0).Forward(context.Background(), Request{
				Method: method,
				URL:    "https://example.com/api",
				Header: http.Header{},
				Body:   []byte(`{"key":"value"}`),
				Token:  "test-token",
			})
			require.NoError(t, err)

			assert.Equal(t, `{"key":"value"}`, client.bodies[0])
			assert.Equal(t, "application/json", client.requests[0].Header.Get("Content-Type"))
		})
	}
}

func TestForward_CallerContentTypePreserved(t *testing.T) {
	client := &scriptedClient{outcomes: []outcome{{status: 200}}}

	header := http.Header{}
	header.Set("Content-Type", "text/csv")

	_, err := New(client, 0).Forward(context.Background(), Request{
		Method: http.MethodPost,
		URL:    "https://example.com/api",
		Header: header,
		Body:   []byte("a,b,c"),
		Token:  "test-token",
	})
	require.NoError(t, err)

	assert.Equal(t, "text/csv", client.requests[0].Header.Get("Content-Type"))
}

func TestForward_BodyReplayedOnRetry(t *testing.T) {
	client := &scriptedClient{outcomes: []outcome{
		{status: 500, body: "boom"},
		{status: 200},
	}}

	_, err := New(client, 1).Forward(context.Background(), Request{
		Method: http.MethodPost,
		URL:    "https://example.com/api",
		Header: http.Header{},
		Body:   []byte("payload"),
		Token:  "test-token",
	})
	require.NoError(t, err)

	// each attempt carries a fresh, complete body
	assert.Equal(t, []string{"payload", "payload"}, client.bodies)
}

func TestForward_GetHasNoBodyAndNoDefaultContentType(t *testing.T) {
	client := &scriptedClient{outcomes: []outcome{{status: 200}}}

	_, err := New(client, 0).Forward(context.Background(), Request{
		Method: http.MethodGet,
		URL:    "https://example.com/api",
		Header: http.Header{},
		Body:   []byte("ignored"),
		Token:  "test-token",
	})
	require.NoError(t, err)

	assert.Empty(t, client.bodies[0])
	assert.Empty(t, client.requests[0].Header.Get("Content-Type"))
}
