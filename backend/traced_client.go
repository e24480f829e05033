package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

var errBodyTooLarge = errors.New("response body too large")

// TracedClient sends requests over a small keep-alive pool and records
// per-phase timings for each one. Bodies are read in full, up to maxBody.
type TracedClient struct {
	client  *http.Client
	maxBody int64
}

func NewTracedClient(maxBody int64) *TracedClient {
	return &TracedClient{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        2,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		maxBody: maxBody,
	}
}

type TracedResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

// phases collects httptrace callbacks into a NetworkMetrics.
type phases struct {
	m NetworkMetrics

	getConn, dns, tcp, tls time.Time
	gotConn, wroteHeaders  time.Time
	wroteRequest, first    time.Time
}

func (p *phases) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) { p.getConn = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			p.gotConn = time.Now()
			p.m.ConnWait = p.gotConn.Sub(p.getConn)
			p.m.ConnReused = info.Reused
		},
		DNSStart:          func(httptrace.DNSStartInfo) { p.dns = time.Now() },
		DNSDone:           func(httptrace.DNSDoneInfo) { p.m.DNS = time.Since(p.dns) },
		ConnectStart:      func(_, _ string) { p.tcp = time.Now() },
		ConnectDone:       func(_, _ string, _ error) { p.m.TCP = time.Since(p.tcp) },
		TLSHandshakeStart: func() { p.tls = time.Now() },
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			p.m.TLS = time.Since(p.tls)
			p.m.TLSProtocol = tls.VersionName(state.Version)
		},
		WroteHeaders: func() {
			p.wroteHeaders = time.Now()
			p.m.ReqHeaders = p.wroteHeaders.Sub(p.gotConn)
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			p.wroteRequest = time.Now()
			p.m.ReqBody = p.wroteRequest.Sub(p.wroteHeaders)
		},
		GotFirstResponseByte: func() {
			p.first = time.Now()
			p.m.TTFB = p.first.Sub(p.wroteRequest)
		},
	}
}

func (c *TracedClient) Do(req *http.Request) (*TracedResponse, error) {
	p := &phases{}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), p.trace()))
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: more than %d bytes", errBodyTooLarge, c.maxBody)
	}
	p.m.Download = time.Since(p.first)
	p.m.Total = time.Since(start)

	return &TracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    &p.m,
	}, nil
}

// Warm issues a throwaway GET so the first real request finds a pooled
// connection. It returns the round-trip time, or 0 when the backend is down.
func (c *TracedClient) Warm(ctx context.Context, url string) time.Duration {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBody))
	resp.Body.Close()
	return time.Since(start)
}
