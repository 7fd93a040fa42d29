package httpkit

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Timeouts(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want time.Duration
	}{
		{name: "default", want: 30 * time.Second},
		{name: "custom", opts: []ClientOption{WithTimeout(5 * time.Second)}, want: 5 * time.Second},
		{name: "disabled", opts: []ClientOption{WithTimeout(0)}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.opts...)
			if c.Timeout != tt.want {
				t.Errorf("Timeout = %v, want %v", c.Timeout, tt.want)
			}
		})
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		opts   []ClientOption
		header string
		want   string
	}{
		{name: "default", want: "Noah/dev"},
		{name: "override", opts: []ClientOption{WithUserAgent("Tester/1.0")}, want: "Tester/1.0"},
		{name: "caller header wins", header: "Caller/2.0", want: "Caller/2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			if tt.header != "" {
				req.Header.Set("User-Agent", tt.header)
			}
			resp, err := NewClient(tt.opts...).Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if string(body) != tt.want {
				t.Errorf("User-Agent = %q, want %q", body, tt.want)
			}
		})
	}
}

func TestReadErrorBody(t *testing.T) {
	got := ReadErrorBody(io.NopCloser(strings.NewReader("model not found: llama9")), 9)
	if got != "model not" {
		t.Errorf("got %q, want truncated body", got)
	}
	if ReadErrorBody(nil, 10) != "" {
		t.Error("nil body should yield empty string")
	}
}

type countingTransport struct {
	calls atomic.Int32
	errs  []error
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	n := int(c.calls.Add(1)) - 1
	if n < len(c.errs) && c.errs[n] != nil {
		return nil, c.errs[n]
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}

func TestRetryTransport(t *testing.T) {
	refused := &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	tests := []struct {
		name      string
		errs      []error
		count     int
		wantCalls int32
		wantErr   bool
	}{
		{name: "success first try", count: 2, wantCalls: 1},
		{name: "recovers after refused", errs: []error{refused}, count: 2, wantCalls: 2},
		{name: "exhausts retries", errs: []error{refused, refused, refused}, count: 2, wantCalls: 3, wantErr: true},
		{name: "non retryable", errs: []error{errors.New("tls: bad certificate")}, count: 2, wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &countingTransport{errs: tt.errs}
			rt := &retryTransport{base: base, count: tt.count, delay: time.Millisecond}
			req, _ := http.NewRequest(http.MethodGet, "http://ollama.invalid/api/tags", nil)
			_, err := rt.RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := base.calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	if !isRetryableError(syscall.EHOSTUNREACH) {
		t.Error("EHOSTUNREACH should be retryable")
	}
	if isRetryableError(syscall.ECONNRESET) {
		t.Error("ECONNRESET must not be retryable")
	}
	if isRetryableError(errors.New("boom")) {
		t.Error("plain errors are not retryable")
	}
}
