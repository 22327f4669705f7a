package streams

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "github.com/aevon-lab/eventkernel/internal/api/v1"
	"github.com/aevon-lab/eventkernel/internal/contract"
	"github.com/aevon-lab/eventkernel/internal/contract/formats/yaml"
	httperr "github.com/aevon-lab/eventkernel/internal/core/errors"
	"github.com/aevon-lab/eventkernel/internal/core/event"
	"github.com/aevon-lab/eventkernel/internal/core/storage"
	"github.com/aevon-lab/eventkernel/internal/core/storage/memory"
	storagemocks "github.com/aevon-lab/eventkernel/internal/mocks/storage"
	"github.com/aevon-lab/eventkernel/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const userStreamPath = "/v1/streams/tenant-1/User/user-42"

func newRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc.RegisterRoutes(r)
	return r
}

func userRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	formats := contract.NewFormatRegistry()
	formats.RegisterFormat(contract.FormatYaml, yaml.NewCompiler(), yaml.NewValidator())

	catalog := contract.NewCatalog()
	require.NoError(t, catalog.Add(contract.New("UserRegistered", 1, contract.FormatYaml, []byte(`
event: UserRegistered
version: 1
fields:
  email: string!
`))))

	reg := registry.New(contract.NewValidator(formats))
	require.NoError(t, reg.RegisterCatalog(catalog, nil))
	return reg
}

func postAppend(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, userStreamPath+"/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) httperr.ErrorResponse {
	t.Helper()
	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	return errResp
}

func TestAppendHandler_Success(t *testing.T) {
	mockStore := storagemocks.NewEventStore(t)
	mockStore.EXPECT().
		AppendToStream(mock.Anything, mock.MatchedBy(func(req storage.AppendRequest) bool {
			return req.TenantID == "tenant-1" &&
				req.AggregateType == "User" &&
				req.AggregateID == "user-42" &&
				req.ExpectedVersion == 0 &&
				len(req.Events) == 1 &&
				req.Events[0].EventType == "UserRegistered" &&
				req.Events[0].AggregateID == "user-42" &&
				req.UserID == "admin"
		})).
		Return(storage.AppendResult{NewVersion: 1}, nil).
		Once()

	r := newRouter(NewService(mockStore, nil, false, 1))
	resp := postAppend(r, `{"expected_version":0,"user_id":"admin","events":[{"event_type":"UserRegistered","event_data":{"email":"a@example.com"}}]}`)

	require.Equal(t, http.StatusCreated, resp.Code)
	var result v1.AppendEventsResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, int64(1), result.NewVersion)
}

func TestAppendHandler_Conflict(t *testing.T) {
	mockStore := storagemocks.NewEventStore(t)
	mockStore.EXPECT().
		AppendToStream(mock.Anything, mock.Anything).
		Return(storage.AppendResult{}, &storage.ConcurrencyError{
			TenantID: "tenant-1", AggregateType: "User", AggregateID: "user-42",
			ExpectedVersion: 0, CurrentVersion: 2,
		}).
		Once()

	r := newRouter(NewService(mockStore, nil, false, 1))
	resp := postAppend(r, `{"expected_version":0,"events":[{"event_type":"UserRegistered"}]}`)

	require.Equal(t, http.StatusConflict, resp.Code)
	errResp := decodeError(t, resp)
	require.Equal(t, httperr.HttpConcurrencyError, errResp.ErrorType)
	details, ok := errResp.Details.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, float64(2), details["current_version"])
	require.Equal(t, float64(0), details["expected_version"])
	require.Equal(t, "user-42", details["aggregate_id"])
}

func TestAppendHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		expectedCode  int
		expectedError string
	}{
		{name: "malformed json", body: "not json", expectedCode: http.StatusBadRequest, expectedError: httperr.HttpInvalidJsonError},
		{name: "missing expected_version", body: `{"events":[{"event_type":"A"}]}`, expectedCode: http.StatusBadRequest, expectedError: httperr.HttpInvalidRequestError},
		{name: "no events", body: `{"expected_version":0,"events":[]}`, expectedCode: http.StatusBadRequest, expectedError: httperr.HttpInvalidRequestError},
		{name: "oversized body", body: `{"expected_version":0,"events":[{"event_type":"A","event_data":{"blob":"` + strings.Repeat("x", 1024*1024) + `"}}]}`, expectedCode: http.StatusRequestEntityTooLarge, expectedError: httperr.HttpInvalidRequestError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockStore := storagemocks.NewEventStore(t)
			r := newRouter(NewService(mockStore, nil, false, 1))

			resp := postAppend(r, tc.body)
			require.Equal(t, tc.expectedCode, resp.Code)
			require.Equal(t, tc.expectedError, decodeError(t, resp).ErrorType)
		})
	}
}

func TestAppendHandler_ContractChecks(t *testing.T) {
	tests := []struct {
		name          string
		required      bool
		body          string
		expectedCode  int
		expectedError string
	}{
		{
			name:          "payload violates contract",
			body:          `{"expected_version":0,"events":[{"event_type":"UserRegistered","event_data":{"email":7}}]}`,
			expectedCode:  http.StatusBadRequest,
			expectedError: httperr.HttpContractValidationError,
		},
		{
			name:          "unsupported schema version",
			body:          `{"expected_version":0,"events":[{"event_type":"UserRegistered","schema_version":3,"event_data":{"email":"a@example.com"}}]}`,
			expectedCode:  http.StatusBadRequest,
			expectedError: httperr.HttpContractNotFoundError,
		},
		{
			name:          "unknown type rejected when contracts are required",
			required:      true,
			body:          `{"expected_version":0,"events":[{"event_type":"Mystery"}]}`,
			expectedCode:  http.StatusBadRequest,
			expectedError: httperr.HttpUnknownEventTypeError,
		},
		{
			name:         "unknown type allowed otherwise",
			body:         `{"expected_version":0,"events":[{"event_type":"Mystery"}]}`,
			expectedCode: http.StatusCreated,
		},
		{
			name:         "valid payload",
			required:     true,
			body:         `{"expected_version":0,"events":[{"event_type":"UserRegistered","event_data":{"email":"a@example.com"}}]}`,
			expectedCode: http.StatusCreated,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(NewService(memory.New(), userRegistry(t), tc.required, 1))

			resp := postAppend(r, tc.body)
			if resp.Code != tc.expectedCode {
				t.Logf("unexpected response body: %s", resp.Body.String())
			}
			require.Equal(t, tc.expectedCode, resp.Code)
			if tc.expectedError != "" {
				require.Equal(t, tc.expectedError, decodeError(t, resp).ErrorType)
			}
		})
	}
}

func TestAppendHandler_StoreError(t *testing.T) {
	mockStore := storagemocks.NewEventStore(t)
	mockStore.EXPECT().
		AppendToStream(mock.Anything, mock.Anything).
		Return(storage.AppendResult{}, errors.New("db failure")).
		Once()

	r := newRouter(NewService(mockStore, nil, false, 1))
	resp := postAppend(r, `{"expected_version":0,"events":[{"event_type":"A"}]}`)

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Equal(t, httperr.HttpInternalError, decodeError(t, resp).ErrorType)
}

func TestLoadStreamHandler(t *testing.T) {
	store := memory.New()
	_, err := store.AppendToStream(context.Background(), storage.AppendRequest{
		TenantID: "tenant-1", AggregateType: "User", AggregateID: "user-42",
		Events: []event.DomainEvent{
			event.New("UserRegistered", "user-42", map[string]interface{}{"email": "a@example.com"}),
			event.New("UserDisabled", "user-42", nil),
		},
	})
	require.NoError(t, err)
	r := newRouter(NewService(store, nil, false, 1))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, userStreamPath+"?from_version=1", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var stream v1.StreamResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stream))
	require.Equal(t, int64(2), stream.CurrentVersion)
	require.Len(t, stream.Events, 1)
	require.Equal(t, "UserDisabled", stream.Events[0].EventType)
	require.Equal(t, int64(2), stream.Events[0].Version)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/streams/tenant-1/User/nobody", nil))
	require.Equal(t, http.StatusNotFound, resp.Code)
	require.Equal(t, httperr.HttpStreamNotFoundError, decodeError(t, resp).ErrorType)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, userStreamPath+"?from_version=-1", nil))
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListEventsHandler_Success(t *testing.T) {
	from := time.Date(2026, 2, 8, 10, 0, 0, 0, time.UTC)

	mockStore := storagemocks.NewEventStore(t)
	mockStore.EXPECT().
		LoadAllEvents(mock.Anything,
			event.Filter{TenantID: "tenant-1", EventTypes: []string{"A", "B"}, From: from},
			event.ReadOptions{Limit: 2, Offset: 4, Descending: true}).
		Return([]event.StoredEvent{
			{ID: "evt-1", TenantID: "tenant-1", AggregateType: "User", Version: 1, DomainEvent: event.DomainEvent{EventType: "A", AggregateID: "user-1", OccurredAt: from}},
		}, nil).
		Once()

	r := newRouter(NewService(mockStore, nil, false, 1))
	req := httptest.NewRequest(http.MethodGet,
		"/v1/events?tenant_id=tenant-1&event_type=A&event_type=B&from="+from.Format(time.RFC3339)+"&limit=2&offset=4&order=desc", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var body v1.EventsResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, 5, body.NextOffset)
	require.Equal(t, "evt-1", body.Events[0].ID)
}

func TestListEventsHandler_InvalidQuery(t *testing.T) {
	for _, query := range []string{"limit=5000", "offset=-1", "order=sideways", "from_version=-2", "limit=abc"} {
		t.Run(query, func(t *testing.T) {
			r := newRouter(NewService(storagemocks.NewEventStore(t), nil, false, 1))
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/events?"+query, nil))
			require.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}
}

func TestListEventsHandler_StoreError(t *testing.T) {
	mockStore := storagemocks.NewEventStore(t)
	mockStore.EXPECT().
		LoadAllEvents(mock.Anything, event.Filter{}, event.ReadOptions{Limit: defaultPageLimit}).
		Return(nil, errors.New("db failure")).
		Once()

	r := newRouter(NewService(mockStore, nil, false, 1))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/events", bytes.NewReader(nil)))
	require.Equal(t, http.StatusInternalServerError, resp.Code)
}
