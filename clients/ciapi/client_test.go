package ciapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
)

func TestPostStatus(t *testing.T) {

	t.Run("PostsUpdateWithBearerToken", func(t *testing.T) {

		var received api.StatusUpdate
		var authorization string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&received)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret-token", 1)

		// act
		err := client.PostStatus(context.Background(), api.StatusUpdate{
			BuildRequestID: "request-1",
			CommitSHA:      "abc1234",
			State:          "success",
			OverallStatus:  "passed",
		})

		assert.Nil(t, err)
		assert.Equal(t, "Bearer secret-token", authorization)
		assert.Equal(t, "request-1", received.BuildRequestID)
		assert.Equal(t, "success", received.State)
	})

	t.Run("ReturnsErrorOnBadRequestResponse", func(t *testing.T) {

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret-token", 1)

		// act
		err := client.PostStatus(context.Background(), api.StatusUpdate{BuildRequestID: "request-1", State: "success"})

		assert.NotNil(t, err)
	})

	t.Run("DoesNothingWithoutStatusURL", func(t *testing.T) {

		client := NewClient("", "", 1)

		// act
		err := client.PostStatus(context.Background(), api.StatusUpdate{BuildRequestID: "request-1", State: "success"})

		assert.Nil(t, err)
	})
}
