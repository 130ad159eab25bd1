package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrconsole/notifyd/internal/buildinfo"
	"github.com/hrconsole/notifyd/internal/conf"
	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/mqtt"
	"github.com/hrconsole/notifyd/internal/secrets"
	"github.com/hrconsole/notifyd/internal/stomp"
	"github.com/hrconsole/notifyd/internal/testutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notifyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func loadContext(t *testing.T, body string) *Context {
	t.Helper()
	c, err := NewContext(buildinfo.NewContext("1.0.0", "2026-01-01"))
	require.NoError(t, err)
	require.NoError(t, c.Load(writeConfig(t, body), true))
	return c
}

const mqttConfig = `
api:
  base_url: %s
session:
  staff_id: "42"
  tenant_id: acme
broker:
  transport: mqtt
  url: tcp://127.0.0.1:1
  reconnect_delay: 50ms
  connect_timeout: 200ms
http:
  listen: 127.0.0.1:0
logging:
  level: error
`

func TestLoad_BuildsMQTTTransport(t *testing.T) {
	c := loadContext(t, `
session:
  staff_id: "42"
  tenant_id: acme
logging:
  level: error
`)

	assert.Equal(t, "hr/acme/staff/42/notifications", c.Settings.Topic())

	tr, err := c.NewTransport()
	require.NoError(t, err)
	assert.IsType(t, &mqtt.Transport{}, tr)
	assert.Equal(t, "mqtt", tr.Name())
}

func TestLoad_BuildsSTOMPTransport(t *testing.T) {
	c := loadContext(t, `
api:
  session_cookie: JSESSIONID=abc
session:
  staff_id: "42"
broker:
  transport: stomp
  url: wss://push.example.com/ws
logging:
  level: error
`)

	assert.Equal(t, "/topic/staff/42/notifications", c.Settings.Topic())

	tr, err := c.NewTransport()
	require.NoError(t, err)
	assert.IsType(t, &stomp.Transport{}, tr)
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	c, err := NewContext(buildinfo.NewContext("", ""))
	require.NoError(t, err)

	// staff_id is required.
	err = c.Load(writeConfig(t, "logging:\n  level: error\n"), true)
	require.Error(t, err)

	// Without validation the same file decodes.
	c, err = NewContext(buildinfo.NewContext("", ""))
	require.NoError(t, err)
	require.NoError(t, c.Load(writeConfig(t, "logging:\n  level: error\n"), false))
	assert.Equal(t, conf.TransportMQTT, c.Settings.Broker.Transport)
}

func TestLoad_ResolvesSecrets(t *testing.T) {
	t.Setenv("NOTIFYD_TEST_BROKER_PASSWORD", "broker-pass")

	c, err := NewContext(buildinfo.NewContext("1.0.0", ""))
	require.NoError(t, err)
	c.Secrets = secrets.NewResolverWithKeyring(keyring.NewArrayKeyring([]keyring.Item{
		{Key: "session_token", Data: []byte("tok-123")},
	}))

	require.NoError(t, c.Load(writeConfig(t, `
api:
  session_token: keyring:session_token
session:
  staff_id: "42"
broker:
  password: ${NOTIFYD_TEST_BROKER_PASSWORD}
logging:
  level: error
`), true))

	assert.Equal(t, "tok-123", c.Settings.API.SessionToken)
	assert.Equal(t, "broker-pass", c.Settings.Broker.Password)

	c, err = NewContext(buildinfo.NewContext("1.0.0", ""))
	require.NoError(t, err)
	c.Secrets = secrets.NewResolverWithKeyring(keyring.NewArrayKeyring(nil))
	err = c.Load(writeConfig(t, "api:\n  session_token: keyring:absent\nsession:\n  staff_id: \"42\"\n"), true)
	require.ErrorIs(t, err, secrets.ErrNotFound)
}

func TestNewTransport_UnknownTransport(t *testing.T) {
	c := loadContext(t, "session:\n  staff_id: \"42\"\nlogging:\n  level: error\n")
	c.Settings.Broker.Transport = "carrier-pigeon"

	_, err := c.NewTransport()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestRun_LoadsSnapshotAndStops(t *testing.T) {
	var fetches atomic.Int32
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notifications/unread" {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"unreadNotifications":[{"id":1,"message":"Leave approved"}],"unreadCount":1}`))
	}))
	t.Cleanup(backendSrv.Close)

	body := fmt.Sprintf(mqttConfig, backendSrv.URL)
	c := loadContext(t, body)

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, c) }()

	require.Eventually(t, func() bool { return fetches.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	require.NoError(t, testutil.Receive(t, errCh, testutil.DefaultTestTimeout, "Run did not stop"))
}
