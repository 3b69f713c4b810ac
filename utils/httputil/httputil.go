package httputil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 60 * time.Second

// StatusError occurs if an HTTP response has an unexpected status code.
type StatusError struct {
	Method       string
	URL          string
	Status       int
	ResponseDump string
}

func (e StatusError) Error() string {
	return fmt.Sprintf(
		"%s %s: unexpected status %d: %s", e.Method, e.URL, e.Status, e.ResponseDump)
}

// IsStatus returns true if err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	se, ok := err.(StatusError)
	return ok && se.Status == status
}

// IsForbidden returns true if err is a 403 StatusError.
func IsForbidden(err error) bool {
	return IsStatus(err, http.StatusForbidden)
}

// NetworkError occurs on any transport-level failure before a status code was
// received. Adapters use it to distinguish disconnects from protocol errors.
type NetworkError struct {
	err error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("network error: %s", e.err)
}

// IsNetworkError returns true if err is a NetworkError.
func IsNetworkError(err error) bool {
	_, ok := err.(NetworkError)
	return ok
}

type sendOptions struct {
	body          io.Reader
	timeout       time.Duration
	acceptedCodes map[int]bool
	headers       map[string]string
	client        *http.Client
}

// SendOption overrides a default send setting.
type SendOption struct {
	f func(*sendOptions)
}

// SendBody specifies a body for the request.
func SendBody(body io.Reader) SendOption {
	return SendOption{func(o *sendOptions) { o.body = body }}
}

// SendTimeout specifies a timeout for the request.
func SendTimeout(t time.Duration) SendOption {
	return SendOption{func(o *sendOptions) { o.timeout = t }}
}

// SendHeaders specifies headers for the request.
func SendHeaders(headers map[string]string) SendOption {
	return SendOption{func(o *sendOptions) { o.headers = headers }}
}

// SendAcceptedCodes specifies accepted status codes. Defaults to 200 only.
func SendAcceptedCodes(codes ...int) SendOption {
	m := make(map[int]bool)
	for _, c := range codes {
		m[c] = true
	}
	return SendOption{func(o *sendOptions) { o.acceptedCodes = m }}
}

// SendClient specifies the http.Client to use, e.g. one carrying a cookie jar.
func SendClient(client *http.Client) SendOption {
	return SendOption{func(o *sendOptions) { o.client = client }}
}

// Send sends an HTTP request and classifies failures into NetworkError or
// StatusError.
func Send(method, url string, options ...SendOption) (*http.Response, error) {
	opts := sendOptions{
		body:          bytes.NewReader(nil),
		timeout:       defaultTimeout,
		acceptedCodes: map[int]bool{http.StatusOK: true},
		headers:       map[string]string{},
		client:        nil,
	}
	for _, opt := range options {
		opt.f(&opts)
	}

	req, err := http.NewRequest(method, url, opts.body)
	if err != nil {
		return nil, fmt.Errorf("new request: %s", err)
	}
	for k, v := range opts.headers {
		req.Header.Set(k, v)
	}

	client := opts.client
	if client == nil {
		client = &http.Client{}
	}
	client.Timeout = opts.timeout

	resp, err := client.Do(req)
	if err != nil {
		return nil, NetworkError{err}
	}
	if !opts.acceptedCodes[resp.StatusCode] {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, StatusError{
			Method:       method,
			URL:          url,
			Status:       resp.StatusCode,
			ResponseDump: string(b),
		}
	}
	return resp, nil
}

// Get sends a GET request.
func Get(url string, options ...SendOption) (*http.Response, error) {
	return Send("GET", url, options...)
}

// Post sends a POST request.
func Post(url string, options ...SendOption) (*http.Response, error) {
	return Send("POST", url, options...)
}
