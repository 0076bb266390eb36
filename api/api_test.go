package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapring/coordinator"
	"mapring/discovery"
	"mapring/mapping"
	"mapring/metrics"
)

func newTestServer(t *testing.T, wait time.Duration) (*httptest.Server, *coordinator.Coordinator) {
	t.Helper()
	net := discovery.NewNetwork(zap.NewNop())
	net.Start(context.Background())
	transport, err := net.Join("a")
	require.NoError(t, err)
	c := coordinator.New(coordinator.Options{Transport: transport, Logger: zap.NewNop(), Timeout: time.Second})

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	srv := httptest.NewServer(NewRouter(c, Options{WaitTimeout: wait, Gatherer: reg, Logger: zap.NewNop()}))
	t.Cleanup(func() {
		srv.Close()
		c.Close()
		net.Close()
	})
	return srv, c
}

func postMapping(t *testing.T, srv *httptest.Server, body string) (*http.Response, MappingDTO) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/mappings", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var dto MappingDTO
	if resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&dto))
	}
	return resp, dto
}

func TestRegisterAndResolve(t *testing.T) {
	srv, _ := newTestServer(t, 2*time.Second)

	resp, dto := postMapping(t, srv, `{"platform_id":0,"type_id":101,"class_name":"com.foo.Bar"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, MappingDTO{PlatformID: 0, TypeID: 101, ClassName: "com.foo.Bar"}, dto)

	resp, err := http.Get(srv.URL + "/v1/mappings/0/101")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dto))
	assert.Equal(t, "com.foo.Bar", dto.ClassName)

	resp, _ = postMapping(t, srv, `{"platform_id":0,"type_id":101,"class_name":"com.foo.Baz"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRegisterDerivesTypeID(t *testing.T) {
	srv, _ := newTestServer(t, 2*time.Second)
	resp, dto := postMapping(t, srv, `{"platform_id":1,"class_name":"com.foo.Bar"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, mapping.TypeID("com.foo.Bar"), dto.TypeID)

	list, err := http.Get(srv.URL + "/v1/mappings")
	require.NoError(t, err)
	defer list.Body.Close()
	var all []MappingDTO
	require.NoError(t, json.NewDecoder(list.Body).Decode(&all))
	assert.Len(t, all, 1)
}

func TestBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, time.Second)

	resp, _ := postMapping(t, srv, `{"platform_id":0,"type_id":1,"class_name":"has space"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(srv.URL+"/v1/mappings", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/mappings/300/1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/mappings/0/1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAwaitTimesOut(t *testing.T) {
	srv, _ := newTestServer(t, 50*time.Millisecond)
	resp, err := http.Get(srv.URL + "/v1/mappings/0/77/await")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestAwaitReturnsAcceptedMapping(t *testing.T) {
	srv, c := newTestServer(t, 2*time.Second)

	done := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/v1/mappings/0/101/await")
		if err == nil {
			done <- resp
		}
		close(done)
	}()

	reg, err := c.RegisterMapping(context.Background(), mapping.Item{TypeID: 101, ClassName: "com.foo.Bar"})
	require.NoError(t, err)
	_, err = reg.Wait(context.Background())
	require.NoError(t, err)

	resp := <-done
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, time.Second)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a", body["node"])

	postMapping(t, srv, `{"platform_id":0,"type_id":5,"class_name":"x.X"}`)
	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "mapring_proposals_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{mapping.ErrInvalidItem, http.StatusBadRequest},
		{mapping.ErrMappingConflict, http.StatusConflict},
		{mapping.ErrMappingTimeout, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{mapping.ErrInvariantViolation, http.StatusInternalServerError},
		{mapping.ErrStopped, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		got, _ := StatusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}
