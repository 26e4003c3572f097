package ciapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opentracing-contrib/go-stdlib/nethttp"
	"github.com/opentracing/opentracing-go"
	"github.com/rs/zerolog/log"
	"github.com/sethgrid/pester"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
)

// Client posts commit status updates back to the originating source repository.
// Delivery is best effort with bounded retries; it never blocks pipeline progress.
//go:generate mockgen -package=ciapi -destination ./mock.go -source=client.go
type Client interface {
	PostStatus(ctx context.Context, update api.StatusUpdate) error
}

// NewClient returns a ciapi.Client posting to statusURL with a bearer token;
// an empty statusURL disables delivery (useful for local runs)
func NewClient(statusURL, token string, maxRetries int) Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &client{
		statusURL:  statusURL,
		token:      token,
		maxRetries: maxRetries,
	}
}

type client struct {
	statusURL  string
	token      string
	maxRetries int
}

func (c *client) PostStatus(ctx context.Context, update api.StatusUpdate) (err error) {

	if c.statusURL == "" {
		return nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "PostStatus")
	defer span.Finish()
	span.SetTag("build-request-id", update.BuildRequestID)
	span.SetTag("state", update.State)

	data, err := json.Marshal(update)
	if err != nil {
		log.Error().Err(err).Msgf("Failed marshalling status update for build request %v", update.BuildRequestID)
		return err
	}

	// create client, in order to add headers
	httpClient := pester.NewExtendedClient(&http.Client{Transport: &nethttp.Transport{}})
	httpClient.MaxRetries = c.maxRetries
	httpClient.Backoff = pester.ExponentialJitterBackoff
	httpClient.KeepLog = true
	httpClient.Timeout = time.Second * 10

	request, err := http.NewRequest("POST", c.statusURL, bytes.NewReader(data))
	if err != nil {
		log.Error().Err(err).Msgf("Failed creating status request for build request %v", update.BuildRequestID)
		return err
	}

	// add tracing context
	request = request.WithContext(opentracing.ContextWithSpan(request.Context(), span))
	request, ht := nethttp.TraceRequest(span.Tracer(), request)

	request.Header.Add("Authorization", fmt.Sprintf("Bearer %v", c.token))
	request.Header.Add("Content-Type", "application/json")

	response, err := httpClient.Do(request)
	if err != nil {
		log.Error().Err(err).Str("pesterLogs", httpClient.LogString()).Msgf("Failed posting status %v for build request %v to %v", update.State, update.BuildRequestID, c.statusURL)
		return api.Transient(err)
	}
	defer response.Body.Close()
	ht.Finish()

	if response.StatusCode >= http.StatusBadRequest {
		err = fmt.Errorf("status endpoint returned http %v", response.StatusCode)
		log.Error().Err(err).Msgf("Failed posting status %v for build request %v", update.State, update.BuildRequestID)
		return err
	}

	log.Debug().Str("url", c.statusURL).Msgf("Posted status %v for build request %v", update.State, update.BuildRequestID)

	return nil
}
