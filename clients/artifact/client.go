package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
)

// Client is the write-once artifact store; promotion copies artifact sets from
// staging to production, it never mutates a published object
//go:generate mockgen -package=artifact -destination ./mock.go -source=client.go
type Client interface {
	// Publish copies the job artifact handles into the namespace prefix for the
	// outcome; a second publish for the same (outcome, namespace) key returns
	// api.ErrAlreadyPublished
	Publish(ctx context.Context, buildOutcomeID, namespace string, artifactRefs []string) error
	// Promote re-tags a published artifact set into the target namespace via
	// server-side copy
	Promote(ctx context.Context, buildOutcomeID, fromNamespace, toNamespace string) error
	// Published reports whether an artifact set exists under (outcome, namespace)
	Published(ctx context.Context, buildOutcomeID, namespace string) (bool, error)
}

// Config holds the S3-compatible store settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Validate checks the minimally required settings
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("artifact store endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("artifact store endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("artifact store bucket is required")
	}
	return nil
}

// NewClient returns an artifact.Client backed by an S3-compatible object store
func NewClient(ctx context.Context, config Config) (Client, error) {

	if err := config.Validate(); err != nil {
		return nil, err
	}

	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, api.Transient(err)
	}

	exists, err := minioClient.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, api.Transient(err)
	}
	if !exists {
		if err = minioClient.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, api.Transient(err)
		}
	}

	return &client{
		minioClient: minioClient,
		bucket:      config.Bucket,
	}, nil
}

type client struct {
	minioClient *minio.Client
	bucket      string
}

// setManifest records which objects make up a published artifact set; its
// presence is the write-once marker for the (outcome, namespace) key
type setManifest struct {
	BuildOutcomeID string   `json:"build_outcome_id"`
	Namespace      string   `json:"namespace"`
	Objects        []string `json:"objects"`
}

func manifestKey(buildOutcomeID, namespace string) string {
	return fmt.Sprintf("%v/%v/.manifest.json", namespace, buildOutcomeID)
}

func objectKey(buildOutcomeID, namespace, ref string) string {
	return fmt.Sprintf("%v/%v/%v", namespace, buildOutcomeID, path.Base(ref))
}

func (c *client) Publish(ctx context.Context, buildOutcomeID, namespace string, artifactRefs []string) error {

	published, err := c.Published(ctx, buildOutcomeID, namespace)
	if err != nil {
		return err
	}
	if published {
		return api.ErrAlreadyPublished
	}

	manifest := setManifest{
		BuildOutcomeID: buildOutcomeID,
		Namespace:      namespace,
	}

	for _, ref := range artifactRefs {
		dst := objectKey(buildOutcomeID, namespace, ref)
		_, err = c.minioClient.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: c.bucket, Object: dst},
			minio.CopySrcOptions{Bucket: c.bucket, Object: ref})
		if err != nil {
			return api.Transient(fmt.Errorf("copying %v to %v: %w", ref, dst, err))
		}
		manifest.Objects = append(manifest.Objects, dst)
	}

	if err = c.putManifest(ctx, manifest); err != nil {
		return err
	}

	log.Debug().Msgf("Published %v artifacts for outcome %v to %v namespace", len(artifactRefs), buildOutcomeID, namespace)

	return nil
}

func (c *client) Promote(ctx context.Context, buildOutcomeID, fromNamespace, toNamespace string) error {

	published, err := c.Published(ctx, buildOutcomeID, toNamespace)
	if err != nil {
		return err
	}
	if published {
		// promotion commands are delivered at least once
		return nil
	}

	source, err := c.getManifest(ctx, buildOutcomeID, fromNamespace)
	if err != nil {
		return err
	}

	manifest := setManifest{
		BuildOutcomeID: buildOutcomeID,
		Namespace:      toNamespace,
	}

	for _, src := range source.Objects {
		dst := objectKey(buildOutcomeID, toNamespace, src)
		_, err = c.minioClient.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: c.bucket, Object: dst},
			minio.CopySrcOptions{Bucket: c.bucket, Object: src})
		if err != nil {
			return api.Transient(fmt.Errorf("promoting %v to %v: %w", src, dst, err))
		}
		manifest.Objects = append(manifest.Objects, dst)
	}

	return c.putManifest(ctx, manifest)
}

func (c *client) Published(ctx context.Context, buildOutcomeID, namespace string) (bool, error) {

	_, err := c.minioClient.StatObject(ctx, c.bucket, manifestKey(buildOutcomeID, namespace), minio.StatObjectOptions{})
	if err != nil {
		errResponse := minio.ToErrorResponse(err)
		if errResponse.Code == "NoSuchKey" {
			return false, nil
		}
		return false, api.Transient(err)
	}

	return true, nil
}

func (c *client) putManifest(ctx context.Context, manifest setManifest) error {

	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}

	_, err = c.minioClient.PutObject(ctx, c.bucket, manifestKey(manifest.BuildOutcomeID, manifest.Namespace),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return api.Transient(err)
	}

	return nil
}

func (c *client) getManifest(ctx context.Context, buildOutcomeID, namespace string) (manifest setManifest, err error) {

	object, err := c.minioClient.GetObject(ctx, c.bucket, manifestKey(buildOutcomeID, namespace), minio.GetObjectOptions{})
	if err != nil {
		return manifest, api.Transient(err)
	}
	defer object.Close()

	if err = json.NewDecoder(object).Decode(&manifest); err != nil {
		errResponse := minio.ToErrorResponse(err)
		if errResponse.Code == "NoSuchKey" {
			return manifest, api.ErrNotFound
		}
		return manifest, api.Transient(err)
	}

	return manifest, nil
}
