package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"bcrnode/banknode"
	"bcrnode/core/types"
	"bcrnode/crypto"
)

type stubController struct {
	snap       banknode.Snapshot
	stopErr    error
	stops      int
	remoteErr  error
	enabled    types.OutPoint
	registered types.OutPoint
	byAddress  crypto.Address
	stopped    types.OutPoint
	service    types.Service
	operator   crypto.OperatorKey
}

func (s *stubController) Snapshot() banknode.Snapshot { return s.snap }

func (s *stubController) Stop(context.Context) error {
	s.stops++
	if s.stopErr != nil {
		return s.stopErr
	}
	s.snap.Status = banknode.Stopped
	return nil
}

func (s *stubController) EnableHotCold(_ context.Context, vin types.OutPoint, service types.Service) error {
	if s.remoteErr != nil {
		return s.remoteErr
	}
	s.enabled, s.service = vin, service
	s.snap.Status = banknode.RemotelyEnabled
	s.snap.OutPoint = vin.String()
	return nil
}

func (s *stubController) RegisterRemote(_ context.Context, service types.Service, operator crypto.OperatorKey, vin types.OutPoint) error {
	s.registered, s.service, s.operator = vin, service, operator
	return s.remoteErr
}

func (s *stubController) RegisterByAddress(_ context.Context, service types.Service, operator crypto.OperatorKey, addr crypto.Address) error {
	s.byAddress, s.service, s.operator = addr, service, operator
	return s.remoteErr
}

func (s *stubController) StopRemote(_ context.Context, vin types.OutPoint, service types.Service, operator crypto.OperatorKey) error {
	s.stopped, s.service, s.operator = vin, service, operator
	return s.remoteErr
}

type stubLister []types.BanknodeEntry

func (l stubLister) List() []types.BanknodeEntry { return l }

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func doJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func testOutPoint() types.OutPoint {
	return types.OutPoint{Hash: chainhash.DoubleHashH([]byte("remote")), Index: 1}
}

func testOperator(t *testing.T) crypto.OperatorKey {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return crypto.OperatorKey{PrivateKey: priv}
}

func TestStatusReportsSnapshot(t *testing.T) {
	ctrl := &stubController{snap: banknode.Snapshot{
		Status:     banknode.NotCapable,
		ReasonKind: banknode.KindWalletLocked,
		Reason:     "banknode: wallet is locked",
		Service:    "203.0.113.7:8877",
	}}
	srv := NewServer(ctrl, nil, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "NOT_CAPABLE", resp.Status)
	require.Equal(t, int(banknode.NotCapable), resp.Code)
	require.Equal(t, "wallet_locked", resp.ReasonKind)
	require.Equal(t, "203.0.113.7:8877", resp.Service)
}

func TestStatusWithoutController(t *testing.T) {
	srv := NewServer(nil, nil, nil)
	require.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodGet, "/status").Code)
	require.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodPost, "/stop").Code)
}

func TestStopEndpoint(t *testing.T) {
	ctrl := &stubController{snap: banknode.Snapshot{Status: banknode.IsCapable}}
	srv := NewServer(ctrl, nil, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, ctrl.stops)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "STOPPED", resp.Status)

	require.Equal(t, http.StatusMethodNotAllowed, do(t, srv.Handler(), http.MethodGet, "/stop").Code)
}

func TestStopEndpointNotRunning(t *testing.T) {
	ctrl := &stubController{stopErr: &banknode.Error{Kind: banknode.KindNotRunning, Detail: "NOT_CAPABLE"}}
	srv := NewServer(ctrl, nil, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/stop")
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "not_running", resp.Kind)
}

func TestBanknodesListing(t *testing.T) {
	service, err := types.ParseService("198.51.100.4:8877")
	require.NoError(t, err)
	entry := types.BanknodeEntry{
		OutPoint:        types.OutPoint{Hash: chainhash.DoubleHashH([]byte("collateral")), Index: 1},
		Service:         service,
		SigTime:         1_700_000_000,
		LastSeen:        1_700_000_300,
		ProtocolVersion: banknode.DefaultProtocolVersion,
	}
	srv := NewServer(nil, stubLister{entry}, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/banknodes")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []BanknodeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.Equal(t, entry.OutPoint.String(), views[0].OutPoint)
	require.Equal(t, "198.51.100.4:8877", views[0].Service)
	require.Equal(t, int64(1_700_000_300), views[0].LastSeen)
}

func TestBanknodesListingEmpty(t *testing.T) {
	rec := do(t, NewServer(nil, stubLister(nil), nil).Handler(), http.MethodGet, "/banknodes")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	srv := NewServer(nil, nil, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/metrics").Code)
}

func TestEnableRemote(t *testing.T) {
	ctrl := &stubController{}
	srv := NewServer(ctrl, nil, nil)
	vin := testOutPoint()

	rec := doJSON(t, srv.Handler(), "/enable-remote", RemoteRequest{OutPoint: vin.String(), Service: "198.51.100.4:8877"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, vin, ctrl.enabled)
	require.Equal(t, "198.51.100.4:8877", ctrl.service.String())

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "REMOTELY_ENABLED", resp.Status)
	require.Equal(t, vin.String(), resp.OutPoint)
}

func TestEnableRemoteRejectsBadInput(t *testing.T) {
	srv := NewServer(&stubController{}, nil, nil)
	cases := []any{
		RemoteRequest{OutPoint: "nonsense", Service: "198.51.100.4:8877"},
		RemoteRequest{OutPoint: testOutPoint().String()},
		map[string]string{"outpoint": testOutPoint().String(), "service": "198.51.100.4", "extra": "x"},
	}
	for _, body := range cases {
		require.Equal(t, http.StatusBadRequest, doJSON(t, srv.Handler(), "/enable-remote", body).Code, "%+v", body)
	}
	require.Equal(t, http.StatusNotFound, doJSON(t, NewServer(nil, nil, nil).Handler(), "/enable-remote", cases[0]).Code)
}

func TestRegisterRemoteByOutPoint(t *testing.T) {
	ctrl := &stubController{}
	operator := testOperator(t)
	srv := NewServer(ctrl, nil, nil, WithOperatorKeys(func() (crypto.OperatorKey, error) { return operator, nil }))
	vin := testOutPoint()

	rec := doJSON(t, srv.Handler(), "/register-remote", RemoteRequest{OutPoint: vin.String(), Service: "198.51.100.4"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, vin, ctrl.registered)
	require.True(t, ctrl.operator.PubKey().Equal(operator.PubKey()), "configured operator key expected")

	var resp RemoteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "register", resp.Action)
	require.Equal(t, vin.String(), resp.OutPoint)
}

func TestRegisterRemoteByAddressWithInlineKey(t *testing.T) {
	ctrl := &stubController{}
	srv := NewServer(ctrl, nil, nil)
	operator := testOperator(t)
	collateral := testOperator(t).PubKey().KeyID().Address()

	rec := doJSON(t, srv.Handler(), "/register-remote", RemoteRequest{
		Service:           "198.51.100.4:8877",
		CollateralAddress: collateral.String(),
		OperatorKey:       hex.EncodeToString(operator.Bytes()),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, collateral, ctrl.byAddress)
	require.True(t, ctrl.operator.PubKey().Equal(operator.PubKey()))
}

func TestRegisterRemoteMasksCollateralAddress(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	srv := NewServer(&stubController{}, nil, logger)
	collateral := testOperator(t).PubKey().KeyID().Address()

	rec := doJSON(t, srv.Handler(), "/register-remote", RemoteRequest{
		Service:           "198.51.100.4:8877",
		CollateralAddress: collateral.String(),
		OperatorKey:       hex.EncodeToString(testOperator(t).Bytes()),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, buf.String(), `"collateral_address":"[REDACTED]"`)
	require.NotContains(t, buf.String(), collateral.String())
}

func TestRegisterRemoteErrors(t *testing.T) {
	ctrl := &stubController{}
	srv := NewServer(ctrl, nil, nil)
	vin := testOutPoint().String()
	key := hex.EncodeToString(testOperator(t).Bytes())

	// No operator key configured and none supplied.
	require.Equal(t, http.StatusBadRequest, doJSON(t, srv.Handler(), "/register-remote", RemoteRequest{OutPoint: vin, Service: "198.51.100.4"}).Code)
	// Neither collateral selector.
	require.Equal(t, http.StatusBadRequest, doJSON(t, srv.Handler(), "/register-remote", RemoteRequest{Service: "198.51.100.4", OperatorKey: key}).Code)
	// Both collateral selectors.
	require.Equal(t, http.StatusBadRequest, doJSON(t, srv.Handler(), "/register-remote", RemoteRequest{
		OutPoint: vin, CollateralAddress: "garbage", Service: "198.51.100.4", OperatorKey: key,
	}).Code)

	ctrl.remoteErr = &banknode.Error{Kind: banknode.KindNoCollateral, Detail: "could not allocate vin"}
	rec := doJSON(t, srv.Handler(), "/register-remote", RemoteRequest{OutPoint: vin, Service: "198.51.100.4", OperatorKey: key})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "no_collateral", resp.Kind)
}

func TestStopRemote(t *testing.T) {
	ctrl := &stubController{}
	operator := testOperator(t)
	srv := NewServer(ctrl, nil, nil, WithOperatorKeys(func() (crypto.OperatorKey, error) { return operator, nil }))
	vin := testOutPoint()

	rec := doJSON(t, srv.Handler(), "/stop-remote", RemoteRequest{OutPoint: vin.String(), Service: "198.51.100.4:8877"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, vin, ctrl.stopped)

	var resp RemoteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "stop", resp.Action)

	ctrl.remoteErr = &banknode.Error{Kind: banknode.KindNotInDirectory, Detail: vin.String()}
	rec = doJSON(t, srv.Handler(), "/stop-remote", RemoteRequest{OutPoint: vin.String(), Service: "198.51.100.4:8877"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoteOperatorKeyUnavailable(t *testing.T) {
	srv := NewServer(&stubController{}, nil, nil, WithOperatorKeys(func() (crypto.OperatorKey, error) {
		return crypto.OperatorKey{}, errors.New("keystore locked")
	}))
	rec := doJSON(t, srv.Handler(), "/stop-remote", RemoteRequest{OutPoint: testOutPoint().String(), Service: "198.51.100.4"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "operator_key", resp.Kind)
}
