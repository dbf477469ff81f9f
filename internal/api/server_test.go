package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/ioutil"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"drone-command-gateway/internal/activity"
	"drone-command-gateway/internal/commands"
	"drone-command-gateway/internal/models"
	"drone-command-gateway/internal/proxy"
	"drone-command-gateway/internal/telemetry"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetOutput(ioutil.Discard)
}

type fakeArchive struct {
	samples []models.TelemetrySample
	err     error
}

func (a *fakeArchive) InsertSample(s models.TelemetrySample, _ time.Time) (int64, error) {
	if a.err != nil {
		return 0, a.err
	}
	a.samples = append(a.samples, s)
	return int64(len(a.samples)), nil
}

type testGateway struct {
	server  *Server
	history *activity.Log
	store   *telemetry.Store
	archive *fakeArchive
}

func newGateway(t *testing.T, backendURL string, opts ...proxy.Option) *testGateway {
	history := activity.New(filepath.Join(t.TempDir(), "action_history.txt"))
	store := telemetry.NewStore(3)
	archive := &fakeArchive{}

	client := proxy.NewClient(backendURL, opts...)
	srv := NewServer(Deps{
		Store:        store,
		History:      history,
		Dispatcher:   commands.NewDispatcher(client, history),
		Archive:      archive,
		DroneAPIURL:  backendURL,
		HistoryLimit: 50,
	})
	return &testGateway{server: srv, history: history, store: store, archive: archive}
}

// offlineBackend returns the address of a controller that is not listening
func offlineBackend() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	return addr
}

func (g *testGateway) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	rec := httptest.NewRecorder()
	g.server.Router().ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func jsonRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func uploadRequest(t *testing.T, path, field, filename, content string) *http.Request {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		part.Write([]byte(content))
	} else {
		require.NoError(t, w.WriteField("note", "no file"))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (g *testGateway) records(t *testing.T) []models.ActionRecord {
	records, err := g.history.Tail(100)
	require.NoError(t, err)
	return records
}

func TestIndexAndHealth(t *testing.T) {
	g := newGateway(t, "http://controller:5001")

	rec, body := g.do(t, jsonRequest(http.MethodGet, "/", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, ServiceName, body["service"])
	assert.Equal(t, Version, body["version"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "http://controller:5001", body["drone_api"])
	assert.True(t, strings.HasSuffix(body["timestamp"].(string), "-05:00"))

	rec, body = g.do(t, jsonRequest(http.MethodGet, "/api/health", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestGPSDataAndHistory(t *testing.T) {
	g := newGateway(t, offlineBackend())

	for i := 0; i < 5; i++ {
		payload := `{"drone_id":"MPD-DRONE-001","latitude":` + strings.Repeat("1", i+1) + `,"longitude":-80.19,"fix_type":"3D"}`
		rec, body := g.do(t, jsonRequest(http.MethodPost, "/api/gps_data", payload))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "success", body["status"])
	}

	rec, body := g.do(t, jsonRequest(http.MethodGet, "/api/gps_history", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["count"])

	history := body["history"].([]interface{})
	require.Len(t, history, 3)
	assert.Equal(t, float64(111), history[0].(map[string]interface{})["latitude"])
	assert.Equal(t, float64(11111), history[2].(map[string]interface{})["latitude"])

	current := body["current"].(map[string]interface{})
	assert.Equal(t, float64(11111), current["latitude"])
	assert.Equal(t, "MPD-DRONE-001", current["drone_id"])
	assert.Equal(t, float64(100), current["battery"])

	assert.Len(t, g.archive.samples, 5)
}

func TestGPSHistoryEmpty(t *testing.T) {
	g := newGateway(t, offlineBackend())

	_, body := g.do(t, jsonRequest(http.MethodGet, "/api/gps_history", ""))
	assert.Nil(t, body["current"])
	assert.Equal(t, []interface{}{}, body["history"])
	assert.Equal(t, float64(0), body["count"])
}

func TestGPSDataRejectsMissingOrInvalidBody(t *testing.T) {
	g := newGateway(t, offlineBackend())

	for _, payload := range []string{"", "{}", "not json", "[1,2]", `{"latitude":"north"}`} {
		rec, body := g.do(t, jsonRequest(http.MethodPost, "/api/gps_data", payload))
		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
		assert.NotEmpty(t, body["error"], payload)
	}
	assert.Equal(t, 0, g.store.Snapshot().Count)
}

func TestGPSDataRejectsNonFiniteValues(t *testing.T) {
	g := newGateway(t, offlineBackend())

	for _, payload := range []string{`{"latitude":"NaN","drone_id":"d"}`, `{"altitude":"Inf"}`, `{"speed":"-Inf"}`} {
		rec, body := g.do(t, jsonRequest(http.MethodPost, "/api/gps_data", payload))
		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
		assert.NotEmpty(t, body["error"], payload)
	}

	rec, body := g.do(t, jsonRequest(http.MethodGet, "/api/gps_history", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestGPSDataArchiveFailureStillSucceeds(t *testing.T) {
	g := newGateway(t, offlineBackend())
	g.archive.err = errors.New("disk I/O error")

	rec, _ := g.do(t, jsonRequest(http.MethodPost, "/api/gps_data", `{"latitude":25.76}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, g.store.Snapshot().Count)
}

func TestLogActionAndActionHistory(t *testing.T) {
	g := newGateway(t, offlineBackend())

	req := jsonRequest(http.MethodPost, "/api/log_action", `{"action":"Viewed map","response":{"message":"ok","extra":1}}`)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec, body := g.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	req = jsonRequest(http.MethodPost, "/api/log_action", `{}`)
	req.RemoteAddr = "198.51.100.4:51234"
	rec, _ = g.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = g.do(t, jsonRequest(http.MethodGet, "/api/action_history", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	history := body["history"].([]interface{})
	require.Len(t, history, 2)

	newest := history[0].(map[string]interface{})
	assert.Equal(t, "198.51.100.4", newest["ip"])
	assert.Equal(t, "Unknown action", newest["action"])
	assert.Equal(t, "No response", newest["response"])

	oldest := history[1].(map[string]interface{})
	assert.Equal(t, "203.0.113.9", oldest["ip"])
	assert.Equal(t, "Viewed map", oldest["action"])
	assert.Equal(t, "ok", oldest["response"])
}

func TestLogActionMissingBody(t *testing.T) {
	g := newGateway(t, offlineBackend())

	rec, body := g.do(t, jsonRequest(http.MethodPost, "/api/log_action", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", body["status"])
}

func TestLogActionWriteFailureIsAbsorbed(t *testing.T) {
	g := newGateway(t, offlineBackend())
	g.server.history = activity.New(filepath.Join(t.TempDir(), "no-such-dir", "history.txt"))

	rec, body := g.do(t, jsonRequest(http.MethodPost, "/api/log_action", `{"action":"x"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
}

func TestLogActionObjectActionKeptWhole(t *testing.T) {
	g := newGateway(t, offlineBackend())

	rec, _ := g.do(t, jsonRequest(http.MethodPost, "/api/log_action",
		`{"action":{"message":"x","target":"map"},"response":{"message":"ok"}}`))
	require.Equal(t, http.StatusOK, rec.Code)

	records := g.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, `{"message":"x","target":"map"}`, records[0].Action)
	assert.Equal(t, "ok", records[0].Response)
}

func TestActionHistoryEmptyWithoutFile(t *testing.T) {
	g := newGateway(t, offlineBackend())

	rec, body := g.do(t, jsonRequest(http.MethodGet, "/api/action_history", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, body["history"])
	assert.Nil(t, body["error"])
}

func TestActionHistoryReadFailure(t *testing.T) {
	g := newGateway(t, offlineBackend())
	// A directory cannot be read as a history file
	g.server.history = activity.New(t.TempDir())

	rec, body := g.do(t, jsonRequest(http.MethodGet, "/api/action_history", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, body["history"])
	assert.NotEmpty(t, body["error"])
}

func TestActionHistoryCapsEntries(t *testing.T) {
	g := newGateway(t, offlineBackend())
	for i := 0; i < 60; i++ {
		require.True(t, g.history.Append("10.0.0.1", "LOITER", "ok"))
	}

	_, body := g.do(t, jsonRequest(http.MethodGet, "/api/action_history", ""))
	assert.Len(t, body["history"], 50)
}

func TestRTLSimulatedWhenBackendHangsUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Read(make([]byte, 4096))
			conn.Close()
		}
	}()

	g := newGateway(t, "http://"+ln.Addr().String())
	rec, body := g.do(t, jsonRequest(http.MethodPost, "/api/rtl", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "simulation", body["status"])
	assert.Equal(t, true, body["simulation"])
	assert.Len(t, g.records(t), 1)
}

func TestRTLSimulatedWhenBackendOffline(t *testing.T) {
	g := newGateway(t, offlineBackend())

	req := jsonRequest(http.MethodPost, "/api/rtl", "")
	req.Header.Set("X-Forwarded-For", "10.20.30.40")
	rec, body := g.do(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["simulation"])
	assert.Contains(t, body["message"], "simulation mode")

	records := g.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "RTL", records[0].Action)
	assert.Equal(t, "10.20.30.40", records[0].IP)
	assert.Equal(t, "RTL command sent (simulation mode)", records[0].Response)
}

func TestLandTimeoutReturns504AndLogs(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer backend.Close()
	defer close(release)

	g := newGateway(t, backend.URL, proxy.WithTimeouts(50*time.Millisecond, 50*time.Millisecond))

	rec, body := g.do(t, jsonRequest(http.MethodPost, "/api/land", ""))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, proxy.MessageTimeout, body["message"])

	records := g.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "LAND", records[0].Action)
}

func TestCommandsPassThroughOnlineBackend(t *testing.T) {
	var paths []string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"message":"accepted by controller","armed":true}`))
	}))
	defer backend.Close()

	g := newGateway(t, backend.URL)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/status"},
		{http.MethodPost, "/api/status"},
		{http.MethodPost, "/api/takeoff_assist"},
		{http.MethodPost, "/api/set_home"},
		{http.MethodPost, "/api/loiter"},
		{http.MethodPost, "/api/clear_mission"},
		{http.MethodGet, "/api/restart_required"},
	} {
		rec, body := g.do(t, jsonRequest(tc.method, tc.path, ""))
		assert.Equal(t, http.StatusAccepted, rec.Code, tc.path)
		assert.Equal(t, "accepted by controller", body["message"], tc.path)
		assert.Equal(t, true, body["armed"], tc.path)
		assert.Nil(t, body["simulation"], tc.path)
	}

	assert.Equal(t, []string{
		"GET /status",
		"GET /status",
		"POST /takeoff_assist",
		"POST /set_home",
		"POST /loiter",
		"POST /clear_mission",
		"GET /restart_required",
	}, paths)
	assert.Len(t, g.records(t), 7)
}

func TestStatusSimulated(t *testing.T) {
	g := newGateway(t, offlineBackend())

	rec, body := g.do(t, jsonRequest(http.MethodGet, "/api/status", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "simulation", body["status"])
	drone := body["drone"].(map[string]interface{})
	assert.Equal(t, "STANDBY", drone["mode"])
	assert.Equal(t, false, drone["armed"])
	assert.Equal(t, float64(95), drone["battery"])

	assert.Equal(t, "GET_STATUS", g.records(t)[0].Action)
}

func TestRestartRequiredSimulated(t *testing.T) {
	g := newGateway(t, offlineBackend())

	_, body := g.do(t, jsonRequest(http.MethodGet, "/api/restart_required", ""))
	instructions := body["instructions"].([]interface{})
	require.Len(t, instructions, 4)
	assert.Equal(t, "1. Ensure drone is landed and disarmed", instructions[0])
	assert.Equal(t, "4. Reconnect to this gateway", instructions[3])
}

func TestTemplateMission(t *testing.T) {
	var got map[string]interface{}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":"Mission started"}`))
	}))
	defer backend.Close()

	g := newGateway(t, backend.URL)
	rec, body := g.do(t, jsonRequest(http.MethodPost, "/api/execute_template_mission", `{"latitude":25.7617,"longitude":-80.1918,"altitude":40}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Mission started", body["message"])
	assert.Equal(t, 25.7617, got["latitude"])

	records := g.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, `EXECUTE_MISSION: {"altitude":40,"latitude":25.7617,"longitude":-80.1918}`, records[0].Action)
	assert.Equal(t, "Mission started", records[0].Response)
}

func TestTemplateMissionSimulatedAndValidation(t *testing.T) {
	g := newGateway(t, offlineBackend())

	rec, body := g.do(t, jsonRequest(http.MethodPost, "/api/execute_template_mission", `{"latitude":25.7617,"longitude":-80.1918,"altitude":40}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Mission queued (simulation): Lat 25.7617, Lon -80.1918, Alt 40m", body["message"])

	rec, _ = g.do(t, jsonRequest(http.MethodPost, "/api/execute_template_mission", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, g.records(t), 1)
}

func TestWaypointMissionRequiresFile(t *testing.T) {
	g := newGateway(t, offlineBackend())

	for _, path := range []string{"/api/execute_waypoint_mission", "/api/validate_waypoint_file"} {
		rec, body := g.do(t, uploadRequest(t, path, "", "", ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No mission file provided", body["message"])

		rec, _ = g.do(t, uploadRequest(t, path, "other_file", "m.waypoints", "x"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec, _ = g.do(t, jsonRequest(http.MethodPost, path, `{"mission_file":"m.waypoints"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}

	assert.Empty(t, g.records(t))
}

func TestWaypointMissionUpload(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hdr, err := r.FormFile(proxy.FileField)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"missing file"}`))
			return
		}
		w.Write([]byte(`{"message":"Loaded ` + hdr.Filename + `"}`))
	}))
	defer backend.Close()

	g := newGateway(t, backend.URL)
	rec, body := g.do(t, uploadRequest(t, "/api/execute_waypoint_mission", proxy.FileField, "patrol.waypoints", "QGC WPL 110\n"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Loaded patrol.waypoints", body["message"])

	records := g.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "WAYPOINT_MISSION: patrol.waypoints", records[0].Action)
}

func TestValidateWaypointSimulated(t *testing.T) {
	g := newGateway(t, offlineBackend())

	rec, body := g.do(t, uploadRequest(t, "/api/validate_waypoint_file", proxy.FileField, "survey.waypoints", "QGC WPL 110\n"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "File validated: survey.waypoints (simulation mode)", body["message"])
	assert.Equal(t, "VALIDATE_WAYPOINT: survey.waypoints", g.records(t)[0].Action)
}

func TestGenericCommand(t *testing.T) {
	g := newGateway(t, offlineBackend())

	rec, body := g.do(t, jsonRequest(http.MethodPost, "/api/arm", `{"force":true}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["simulation"])
	assert.Equal(t, "Command arm acknowledged (simulation mode)", body["message"])
	assert.Equal(t, "COMMAND_ARM", g.records(t)[0].Action)
}

func TestGenericCommandForwardsVerbatim(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"message":"camera tilted"}`))
	}))
	defer backend.Close()

	g := newGateway(t, backend.URL)
	rec, _ := g.do(t, jsonRequest(http.MethodPost, "/api/gimbal_tilt", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/gimbal_tilt", gotPath)
	assert.Equal(t, map[string]interface{}{}, gotBody)
}

func TestNamedRoutesWinOverCatchAll(t *testing.T) {
	g := newGateway(t, offlineBackend())

	rec, body := g.do(t, jsonRequest(http.MethodPost, "/api/land", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Land command sent (simulation mode)", body["message"])
	assert.Equal(t, "LAND", g.records(t)[0].Action)

	rec, _ = g.do(t, jsonRequest(http.MethodGet, "/api/land", ""))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = g.do(t, jsonRequest(http.MethodGet, "/nope", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5, 10.0.0.1", clientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", clientIP(req))
}
