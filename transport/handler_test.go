package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/orchestrator"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/trigger"
)

func getServer(orchestratorService orchestrator.Service) *httptest.Server {
	router := mux.NewRouter()
	NewHandler(orchestratorService).ConfigureRoutes(router)
	return httptest.NewServer(router)
}

func postJSON(t *testing.T, url, token string, body interface{}) *http.Response {
	encoded, err := json.Marshal(body)
	assert.Nil(t, err)
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	assert.Nil(t, err)
	if token != "" {
		request.Header.Set("Authorization", fmt.Sprintf("Bearer %v", token))
	}
	response, err := http.DefaultClient.Do(request)
	assert.Nil(t, err)
	return response
}

func TestPostTrigger(t *testing.T) {

	t.Run("ReturnsCreatedForAcceptedEventAndForwardsBearerToken", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		orchestratorService.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, event trigger.RawEvent) (trigger.Result, error) {
				assert.Equal(t, "secret-token", event.AuthToken)
				assert.Equal(t, api.EventKindMerge, event.EventKind)
				return trigger.Result{BuildRequestID: "request-1", Accepted: true}, nil
			})

		// act
		response := postJSON(t, server.URL+"/api/triggers", "secret-token", map[string]interface{}{
			"source_repo":   "github.com/openssl/openssl",
			"commit_sha":    "0123456789abcdef0123456789abcdef01234567",
			"event_kind":    "merge",
			"ref":           "refs/heads/master",
			"changed_paths": []string{"crypto/evp/evp_enc.c"},
		})
		defer response.Body.Close()

		assert.Equal(t, http.StatusCreated, response.StatusCode)

		var result trigger.Result
		err := json.NewDecoder(response.Body).Decode(&result)
		assert.Nil(t, err)
		assert.Equal(t, "request-1", result.BuildRequestID)
		assert.True(t, result.Accepted)
	})

	t.Run("FallsBackToPayloadTokenWithoutAuthorizationHeader", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		orchestratorService.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, event trigger.RawEvent) (trigger.Result, error) {
				assert.Equal(t, "secret-token", event.AuthToken)
				return trigger.Result{BuildRequestID: "request-1", Accepted: true}, nil
			})

		// act
		response := postJSON(t, server.URL+"/api/triggers", "", map[string]interface{}{
			"source_repo":   "github.com/openssl/openssl",
			"commit_sha":    "0123456789abcdef0123456789abcdef01234567",
			"event_kind":    "merge",
			"ref":           "refs/heads/master",
			"changed_paths": []string{"crypto/evp/evp_enc.c"},
			"auth_token":    "secret-token",
		})
		defer response.Body.Close()

		assert.Equal(t, http.StatusCreated, response.StatusCode)
	})

	t.Run("ReturnsOKForDuplicateDelivery", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		orchestratorService.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(trigger.Result{BuildRequestID: "request-1", Accepted: false, Reason: "duplicate"}, nil)

		// act
		response := postJSON(t, server.URL+"/api/triggers", "secret-token", map[string]interface{}{
			"source_repo": "github.com/openssl/openssl",
			"commit_sha":  "0123456789abcdef0123456789abcdef01234567",
			"event_kind":  "merge",
			"ref":         "refs/heads/master",
		})
		defer response.Body.Close()

		assert.Equal(t, http.StatusOK, response.StatusCode)
	})

	t.Run("ReturnsUnauthorizedForBadToken", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		orchestratorService.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(trigger.Result{}, fmt.Errorf("%w: token mismatch", api.ErrUnauthorized))

		// act
		response := postJSON(t, server.URL+"/api/triggers", "wrong-token", map[string]interface{}{
			"source_repo": "github.com/openssl/openssl",
			"commit_sha":  "0123456789abcdef0123456789abcdef01234567",
			"event_kind":  "merge",
			"ref":         "refs/heads/master",
		})
		defer response.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	})

	t.Run("ReturnsBadRequestForInvalidEvent", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		orchestratorService.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(trigger.Result{}, fmt.Errorf("%w: commit_sha is malformed", api.ErrInvalidRequest))

		// act
		response := postJSON(t, server.URL+"/api/triggers", "secret-token", map[string]interface{}{
			"source_repo": "github.com/openssl/openssl",
			"commit_sha":  "not-a-sha",
			"event_kind":  "merge",
			"ref":         "refs/heads/master",
		})
		defer response.Body.Close()

		assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	})

	t.Run("ReturnsBadRequestForMalformedBody", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		// act
		response, err := http.Post(server.URL+"/api/triggers", "application/json", bytes.NewBufferString("{not json"))

		assert.Nil(t, err)
		defer response.Body.Close()
		assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	})

	t.Run("ReturnsServiceUnavailableForTransientFailure", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		orchestratorService.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(trigger.Result{}, api.Transient(fmt.Errorf("dedup store unreachable")))

		// act
		response := postJSON(t, server.URL+"/api/triggers", "secret-token", map[string]interface{}{
			"source_repo": "github.com/openssl/openssl",
			"commit_sha":  "0123456789abcdef0123456789abcdef01234567",
			"event_kind":  "merge",
			"ref":         "refs/heads/master",
		})
		defer response.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, response.StatusCode)
	})
}

func TestGetRequestStatus(t *testing.T) {

	t.Run("ReturnsStatusForKnownRequest", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		orchestratorService.EXPECT().RequestStatus(gomock.Any(), "request-1").Return(orchestrator.RequestStatus{
			Request:       api.BuildRequest{ID: "request-1"},
			Phase:         "staged",
			OverallStatus: string(api.OutcomeStatusPassed),
			OutcomeID:     "outcome-1",
		}, nil)

		// act
		response, err := http.Get(server.URL + "/api/requests/request-1")

		assert.Nil(t, err)
		defer response.Body.Close()
		assert.Equal(t, http.StatusOK, response.StatusCode)

		var status orchestrator.RequestStatus
		err = json.NewDecoder(response.Body).Decode(&status)
		assert.Nil(t, err)
		assert.Equal(t, "staged", status.Phase)
		assert.Equal(t, "outcome-1", status.OutcomeID)
	})

	t.Run("ReturnsNotFoundForUnknownRequest", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		orchestratorService.EXPECT().RequestStatus(gomock.Any(), "nope").Return(orchestrator.RequestStatus{}, fmt.Errorf("%w: no build request nope", api.ErrNotFound))

		// act
		response, err := http.Get(server.URL + "/api/requests/nope")

		assert.Nil(t, err)
		defer response.Body.Close()
		assert.Equal(t, http.StatusNotFound, response.StatusCode)
	})
}

func TestPostApproval(t *testing.T) {

	t.Run("ApprovesOutcomeAndReturnsRecord", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		orchestratorService.EXPECT().Approve(gomock.Any(), "outcome-1", "alice@openssl.org").Return(api.PromotionRecord{
			BuildOutcomeID: "outcome-1",
			State:          api.PromotionStateProduction,
			Approver:       "alice@openssl.org",
		}, nil)

		// act
		response := postJSON(t, server.URL+"/api/outcomes/outcome-1/approvals", "", approvalPayload{Action: "approve", Approver: "alice@openssl.org"})
		defer response.Body.Close()

		assert.Equal(t, http.StatusOK, response.StatusCode)

		var record api.PromotionRecord
		err := json.NewDecoder(response.Body).Decode(&record)
		assert.Nil(t, err)
		assert.Equal(t, api.PromotionStateProduction, record.State)
	})

	t.Run("RejectsOutcome", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		orchestratorService.EXPECT().Reject(gomock.Any(), "outcome-1", "bob@openssl.org").Return(api.PromotionRecord{
			BuildOutcomeID: "outcome-1",
			State:          api.PromotionStateRejected,
		}, nil)

		// act
		response := postJSON(t, server.URL+"/api/outcomes/outcome-1/approvals", "", approvalPayload{Action: "reject", Approver: "bob@openssl.org"})
		defer response.Body.Close()

		assert.Equal(t, http.StatusOK, response.StatusCode)
	})

	t.Run("ReturnsBadRequestForUnknownAction", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		// act
		response := postJSON(t, server.URL+"/api/outcomes/outcome-1/approvals", "", approvalPayload{Action: "ship-it", Approver: "alice@openssl.org"})
		defer response.Body.Close()

		assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	})

	t.Run("ReturnsConflictWhenOutcomeIsNotAwaitingApproval", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		orchestratorService.EXPECT().Approve(gomock.Any(), "outcome-1", "alice@openssl.org").Return(api.PromotionRecord{}, fmt.Errorf("%w: promotion is built", api.ErrNotAwaitingApproval))

		// act
		response := postJSON(t, server.URL+"/api/outcomes/outcome-1/approvals", "", approvalPayload{Action: "approve", Approver: "alice@openssl.org"})
		defer response.Body.Close()

		assert.Equal(t, http.StatusConflict, response.StatusCode)
	})

	t.Run("ReturnsNotFoundForUnknownOutcome", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		orchestratorService.EXPECT().Approve(gomock.Any(), "nope", "alice@openssl.org").Return(api.PromotionRecord{}, fmt.Errorf("%w: no promotion record for build outcome nope", api.ErrNotFound))

		// act
		response := postJSON(t, server.URL+"/api/outcomes/nope/approvals", "", approvalPayload{Action: "approve", Approver: "alice@openssl.org"})
		defer response.Body.Close()

		assert.Equal(t, http.StatusNotFound, response.StatusCode)
	})
}

func TestHealthEndpoints(t *testing.T) {

	t.Run("LivenessAndReadinessReturnOK", func(t *testing.T) {

		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		orchestratorService := orchestrator.NewMockService(ctrl)
		server := getServer(orchestratorService)
		defer server.Close()

		// act
		for _, path := range []string{"/liveness", "/readiness"} {
			response, err := http.Get(server.URL + path)
			assert.Nil(t, err)
			response.Body.Close()
			assert.Equal(t, http.StatusOK, response.StatusCode)
		}
	})
}
