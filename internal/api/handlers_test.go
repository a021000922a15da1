package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/auth"
	"fleetroute/internal/distmatrix"
	"fleetroute/internal/geo"
	"fleetroute/internal/integrations/greatcircle"
	"fleetroute/internal/model"
	"fleetroute/internal/opt"
	"fleetroute/internal/planner"
	"fleetroute/internal/store"
)

var addresses = map[string]geo.Coordinate{
	"1 Depot Way": {Lat: 40.0, Lng: -75.0},
	"2 Elm St":    {Lat: 40.01, Lng: -75.0},
	"3 Oak St":    {Lat: 40.0, Lng: -75.012},
	"4 Pine St":   {Lat: 39.99, Lng: -75.004},
	"5 Birch St":  {Lat: 40.006, Lng: -74.992},
}

func newTestServer(t *testing.T, mode string) *Server {
	t.Helper()
	p := planner.New(store.NewMemory(), greatcircle.NewProvider(1.3, addresses), planner.Defaults{
		Capacities:      []int{15, 20, 25, 10},
		TimeLimit:       100 * time.Millisecond,
		DistanceBound:   opt.DefaultDistanceBound,
		SpanCoefficient: opt.DefaultSpanCoefficient,
		Strategy:        opt.StrategyTabu,
		BatchSize:       2,
		Concurrency:     2,
	}, logr.Discard())
	return NewServer(p, NewBroker(), auth.NewVerifier(mode, ""), logr.Discard())
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func seedDeliveries(t *testing.T, h http.Handler) {
	t.Helper()
	rr := do(t, h, http.MethodPut, "/v1/depot", `{"address":"1 Depot Way"}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	for _, a := range []string{"2 Elm St", "3 Oak St", "4 Pine St", "5 Birch St"} {
		rr := do(t, h, http.MethodPost, "/v1/deliveries", fmt.Sprintf(`{"address":%q,"demand":3}`, a), "")
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}
}

func TestHealthReady(t *testing.T) {
	h := newTestServer(t, auth.ModeOff).Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "", "").Code)
}

func TestDepot(t *testing.T) {
	h := newTestServer(t, auth.ModeOff).Handler()

	rr := do(t, h, http.MethodGet, "/v1/depot", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	rr = do(t, h, http.MethodPut, "/v1/depot", `{"address":"1 Depot Way"}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/v1/depot", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	d := decode[model.Depot](t, rr)
	assert.Equal(t, "1 Depot Way", d.Address)
	assert.Equal(t, 40.0, d.Lat)

	rr = do(t, h, http.MethodPut, "/v1/depot", `{"address":"Atlantis"}`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, h, http.MethodPut, "/v1/depot", `{"address":"x","bogus":1}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeliveriesCRUD(t *testing.T) {
	h := newTestServer(t, auth.ModeOff).Handler()

	rr := do(t, h, http.MethodPost, "/v1/deliveries", `{"address":"2 Elm St","demand":4}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	d := decode[model.Delivery](t, rr)
	assert.Equal(t, 4, d.Demand)

	rr = do(t, h, http.MethodPost, "/v1/deliveries", `{"address":"Nowhere"}`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	rr = do(t, h, http.MethodPost, "/v1/deliveries", `{"address":"2 Elm St","demand":-1}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/deliveries", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[struct{ Items []model.Delivery }](t, rr)
	require.Len(t, list.Items, 1)

	rr = do(t, h, http.MethodDelete, "/v1/deliveries/"+d.ID, "", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h, http.MethodDelete, "/v1/deliveries/"+d.ID, "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestImportCSV(t *testing.T) {
	h := newTestServer(t, auth.ModeOff).Handler()
	body := "address,demand,lat,lng\n2 Elm St,2,,\nWarehouse 9,5,40.02,-75.01\n"
	req := httptest.NewRequest(http.MethodPost, "/v1/deliveries/import?name=batch", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/csv")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[model.ImportResult](t, rr)
	assert.Equal(t, 2, res.Created)

	req = httptest.NewRequest(http.MethodPost, "/v1/deliveries/import", strings.NewReader("name,qty\na,1\n"))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOptimizeAndRoutes(t *testing.T) {
	h := newTestServer(t, auth.ModeOff).Handler()
	seedDeliveries(t, h)

	rr := do(t, h, http.MethodPost, "/v1/optimize", `{"numVehicles":2,"timeLimitMs":50}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[model.OptimizeResponse](t, rr)
	require.Len(t, resp.Routes, 2)
	visited := 0
	for _, r := range resp.Routes {
		assert.Equal(t, 0, r.Nodes[0])
		assert.Equal(t, 0, r.Nodes[len(r.Nodes)-1])
		visited += len(r.Nodes) - 2
	}
	assert.Equal(t, 4, visited)

	rr = do(t, h, http.MethodGet, "/v1/routes", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	routes := decode[struct{ Items []model.VehicleRoute }](t, rr)
	require.Len(t, routes.Items, 2)

	rr = do(t, h, http.MethodGet, "/v1/routes/"+routes.Items[1].VehicleID, "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, routes.Items[1].Nodes, decode[model.VehicleRoute](t, rr).Nodes)

	rr = do(t, h, http.MethodGet, "/v1/routes/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/admin/plan-metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	pms := decode[struct{ Items []model.PlanMetrics }](t, rr)
	require.Len(t, pms.Items, 1)
	assert.Equal(t, resp.PlanID, pms.Items[0].PlanID)
}

func TestOptimizeErrors(t *testing.T) {
	t.Run("no depot", func(t *testing.T) {
		h := newTestServer(t, auth.ModeOff).Handler()
		rr := do(t, h, http.MethodPost, "/v1/optimize", "", "")
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})
	t.Run("oversized demand", func(t *testing.T) {
		h := newTestServer(t, auth.ModeOff).Handler()
		seedDeliveries(t, h)
		rr := do(t, h, http.MethodPost, "/v1/deliveries", `{"address":"2 Elm St","demand":40}`, "")
		require.Equal(t, http.StatusCreated, rr.Code)
		rr = do(t, h, http.MethodPost, "/v1/optimize", `{}`, "")
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})
	t.Run("fleet too small", func(t *testing.T) {
		h := newTestServer(t, auth.ModeOff).Handler()
		seedDeliveries(t, h)
		rr := do(t, h, http.MethodPost, "/v1/optimize", `{"capacities":[5,5]}`, "")
		assert.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
	})
	t.Run("oracle down", func(t *testing.T) {
		s := newTestServer(t, auth.ModeOff)
		s.Planner.Oracle = distmatrix.OracleFunc(func(context.Context, []geo.Coordinate, []geo.Coordinate) ([][]int64, error) {
			return nil, errors.New("upstream unavailable")
		})
		h := s.Handler()
		seedDeliveries(t, h)
		rr := do(t, h, http.MethodPost, "/v1/optimize", "", "")
		assert.Equal(t, http.StatusBadGateway, rr.Code)
	})
	t.Run("invalid request", func(t *testing.T) {
		h := newTestServer(t, auth.ModeOff).Handler()
		for _, body := range []string{
			`{"strategy":"genetic"}`,
			`{"timeLimitMs":600000}`,
			`{"numVehicles":2,"capacities":[1,2,3]}`,
			`{"batchSize":-1}`,
			`{"numVehicles":"two"}`,
		} {
			rr := do(t, h, http.MethodPost, "/v1/optimize", body, "")
			assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		}
	})
}

func TestAuthRoles(t *testing.T) {
	h := newTestServer(t, auth.ModeDev).Handler()

	rr := do(t, h, http.MethodGet, "/v1/deliveries", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/deliveries", "", "ana:viewer").Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/v1/deliveries", `{"address":"2 Elm St"}`, "ana:viewer").Code)
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/deliveries", `{"address":"2 Elm St"}`, "ana:dispatcher").Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/v1/admin/webhook-deliveries", "", "ana:dispatcher").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/admin/webhook-deliveries", "", "root:admin").Code)

	// probes stay open
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, auth.ModeOff)
	s.AllowOrigin = "https://dispatch.example.com"
	h := s.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/v1/optimize", nil)
	req.Header.Set("Origin", "https://dispatch.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://dispatch.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestOpenAPIDocs(t *testing.T) {
	h := newTestServer(t, auth.ModeOff).Handler()

	rr := do(t, h, http.MethodGet, "/openapi.yaml", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/v1/optimize:")

	rr = do(t, h, http.MethodGet, "/openapi.json", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	doc := decode[map[string]any](t, rr)
	assert.Equal(t, "3.0.3", doc["openapi"])
	assert.Contains(t, doc["paths"], "/v1/routes/{vehicleId}")

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/docs", "", "").Code)
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/deliveries/abc":    "/v1/deliveries/{id}",
		"/v1/deliveries/import": "/v1/deliveries/import",
		"/v1/routes/veh-1":      "/v1/routes/{id}",
		"/v1/routes":            "/v1/routes",
		"/healthz":              "/healthz",
	}
	for in, want := range cases {
		assert.Equal(t, want, routeLabel(in), in)
	}
}

func TestEventsWebsocket(t *testing.T) {
	s := newTestServer(t, auth.ModeDev)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	h := s.Handler()
	rr := do(t, h, http.MethodPut, "/v1/depot", `{"address":"1 Depot Way"}`, "ops:dispatcher")
	require.Equal(t, http.StatusOK, rr.Code)
	for _, a := range []string{"2 Elm St", "3 Oak St"} {
		rr := do(t, h, http.MethodPost, "/v1/deliveries", fmt.Sprintf(`{"address":%q}`, a), "ops:dispatcher")
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/ws?access_token=watch:viewer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readUntil := func(typ string) wsMessage {
		for {
			var m wsMessage
			require.NoError(t, conn.ReadJSON(&m))
			if m.Type == typ {
				return m
			}
		}
	}

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "connection_init"}))
	readUntil("connection_ack")
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: json.RawMessage(`{"types":["routes.optimized"]}`)}))
	// pong confirms the subscribe was processed
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
	readUntil("pong")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/optimize", bytes.NewReader([]byte(`{"timeLimitMs":20}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer ops:dispatcher")
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	m := readUntil("next")
	assert.Equal(t, "1", m.ID)
	var evt model.Event
	require.NoError(t, json.Unmarshal(m.Payload, &evt))
	assert.Equal(t, model.EventRoutesOptimized, evt.Type)
	assert.NotEmpty(t, evt.PlanID)
}

func TestEventsWebsocketRequiresToken(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t, auth.ModeDev).Handler())
	defer srv.Close()
	_, res, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events/ws", nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
