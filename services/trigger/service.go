package trigger

import (
	"context"
	"crypto/subtle"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
	"github.com/sparesparrow/openssl-ci-orchestrator/clients/dedup"
)

// RawEvent is an inbound dispatch event before validation and normalization
type RawEvent struct {
	SourceRepo   string        `json:"source_repo"`
	CommitSHA    string        `json:"commit_sha"`
	EventKind    api.EventKind `json:"event_kind"`
	Ref          string        `json:"ref"`
	ChangedPaths []string      `json:"changed_paths"`
	AuthToken    string        `json:"auth_token"`
}

// Result is the trigger endpoint response contract
type Result struct {
	BuildRequestID string `json:"build_request_id"`
	Accepted       bool   `json:"accepted"`
	Reason         string `json:"reason,omitempty"`
}

// Service validates and normalizes inbound dispatch events into build requests
//go:generate mockgen -package=trigger -destination ./mock.go -source=service.go
type Service interface {
	// Receive validates the event, claims its dedup key and returns the
	// normalized request. On a duplicate delivery it returns the existing
	// request id with Accepted=false and api.ErrDuplicateRequest.
	Receive(ctx context.Context, event RawEvent) (request api.BuildRequest, result Result, err error)
}

// NewService returns a new trigger.Service
func NewService(dedupClient dedup.Client, authToken string) Service {
	return &service{
		dedupClient: dedupClient,
		authToken:   authToken,
	}
}

type service struct {
	dedupClient dedup.Client
	authToken   string
}

var commitSHARegex = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

func (s *service) Receive(ctx context.Context, event RawEvent) (request api.BuildRequest, result Result, err error) {

	if err = s.validate(event); err != nil {
		return request, result, err
	}

	if s.authToken != "" && subtle.ConstantTimeCompare([]byte(event.AuthToken), []byte(s.authToken)) != 1 {
		return request, result, api.ErrUnauthorized
	}

	request = api.BuildRequest{
		ID:           uuid.New().String(),
		SourceRepo:   event.SourceRepo,
		CommitSHA:    event.CommitSHA,
		EventKind:    event.EventKind,
		Ref:          event.Ref,
		ChangedPaths: event.ChangedPaths,
		RequestedAt:  time.Now().UTC(),
	}

	// the dedup key is persisted before any downstream work so a concurrent
	// second delivery always collides here
	existingID, inserted, err := s.dedupClient.CheckAndInsert(ctx, request.DedupKey(), request.ID)
	if err != nil {
		return request, result, err
	}
	if !inserted {
		log.Info().Msgf("Duplicate delivery for %v, existing build request %v", request.DedupKey(), existingID)
		result = Result{
			BuildRequestID: existingID,
			Accepted:       false,
			Reason:         "duplicate",
		}
		return request, result, api.ErrDuplicateRequest
	}

	log.Info().Msgf("Accepted %v trigger for %v at %v as build request %v", request.EventKind, request.SourceRepo, request.CommitSHA, request.ID)

	result = Result{
		BuildRequestID: request.ID,
		Accepted:       true,
	}

	return request, result, nil
}

func (s *service) validate(event RawEvent) error {

	if event.SourceRepo == "" {
		return fmt.Errorf("%w: source_repo is required", api.ErrInvalidRequest)
	}
	if event.CommitSHA == "" {
		return fmt.Errorf("%w: commit_sha is required", api.ErrInvalidRequest)
	}
	if !event.EventKind.IsValid() {
		return fmt.Errorf("%w: unknown event_kind %q", api.ErrInvalidRequest, event.EventKind)
	}
	if event.Ref == "" {
		return fmt.Errorf("%w: ref is required", api.ErrInvalidRequest)
	}

	// scheduled triggers are emitted internally and may carry a symbolic sha
	if event.EventKind != api.EventKindScheduled && !commitSHARegex.MatchString(event.CommitSHA) {
		return fmt.Errorf("%w: commit_sha %q is not a git sha", api.ErrInvalidRequest, event.CommitSHA)
	}

	return nil
}
