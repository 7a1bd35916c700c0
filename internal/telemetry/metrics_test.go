package telemetry

import (
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/lemonforest/biphase/common/testlogger"
)

func TestStartServesMetrics(t *testing.T) {
	l := testlogger.New(t)

	listener := Start(l, "0", nil, nil)
	require.NotNil(t, listener)
	defer listener.Close()

	addr := listener.Addr().String()

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		//nolint:noctx
		resp, err = http.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "go_goroutines")
}

func TestStartMountsStatusHandlerUnderDebugStatus(t *testing.T) {
	l := testlogger.New(t)

	statusMux := http.NewServeMux()
	statusMux.HandleFunc("/leader", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"role":"Leader"}`)
	})

	listener := Start(l, "0", nil, statusMux)
	require.NotNil(t, listener)
	defer listener.Close()

	addr := listener.Addr().String()

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		//nolint:noctx
		resp, err = http.Get(fmt.Sprintf("http://%s/debug/status/leader", addr))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `"role":"Leader"`)
}

func TestRoleStateGaugeRecordsValue(t *testing.T) {
	RoleState.Set(1)
	require.Equal(t, float64(1), testutil.ToFloat64(RoleState))
}
