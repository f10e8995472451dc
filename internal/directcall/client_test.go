package directcall

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/pkg/errors"
	"carepipe/pkg/models"
)

func newClient(url string) *Client {
	return NewClient(config.ServicesConfig{
		Extraction: config.EndpointConfig{BaseURL: url},
		Scoring:    config.EndpointConfig{BaseURL: url + "/"},
		Planning:   config.EndpointConfig{BaseURL: url},
	}, time.Second)
}

func TestCallSuccess(t *testing.T) {
	var gotPath, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"result":{"message_id":"m-1"}}`))
	}))
	defer srv.Close()

	resp, err := newClient(srv.URL).Call(context.Background(), constants.ServiceScoring, constants.OperationPredict,
		models.EvidenceRecord{MessageID: "m-1"}, 0)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"message_id":"m-1"}`, string(resp.Result))
	assert.Equal(t, "/predict", gotPath)
	assert.Equal(t, "application/json", gotType)
	assert.Contains(t, gotBody, `"message_id":"m-1"`)
}

func TestCallErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout  time.Duration
		want     *errors.Error
		wantCode string
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: errors.ErrCall,
		},
		{
			name: "validation failure answered with 400",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"success":false,"error":"member ID is required","error_code":"VALIDATION_ERROR"}`))
			},
			want:     errors.ErrStageRejected,
			wantCode: "VALIDATION_ERROR",
		},
		{
			name: "server failure keeps stage error code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"success":false,"error":"boom","error_code":"INTERNAL_ERROR"}`))
			},
			want:     errors.ErrCall,
			wantCode: "INTERNAL_ERROR",
		},
		{
			name: "rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"success":false,"error":"bad record","error_code":"VALIDATION_ERROR"}`))
			},
			want:     errors.ErrStageRejected,
			wantCode: "VALIDATION_ERROR",
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
			want: errors.ErrCall,
		},
		{
			name: "slow",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout: 50 * time.Millisecond,
			want:    errors.ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newClient(srv.URL).Call(context.Background(), constants.ServiceExtraction, constants.OperationProcess,
				models.ClinicalMessage{MessageID: "m-1"}, tt.timeout)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.want), "got %v", err)
			if tt.wantCode != "" {
				var appErr *errors.Error
				require.True(t, errors.As(err, &appErr))
				assert.Equal(t, tt.wantCode, appErr.Details["error_code"])
			}
		})
	}
}

func TestCallDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Call(context.Background(), constants.ServicePlanning, constants.OperationOrchestrate,
		models.RiskRecord{MessageID: "m-1"}, 0)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallUnknownService(t *testing.T) {
	_, err := newClient("http://127.0.0.1:1").Call(context.Background(), "billing-service", "charge", struct{}{}, 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCall))
}

func TestCallConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(url).Call(context.Background(), constants.ServiceExtraction, constants.OperationProcess,
		models.ClinicalMessage{MessageID: "m-1"}, 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCall))
}
