package deploy

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/spherical/pdf-enricher/internal/domain"
)

// objectPutter is the subset of *minio.Client the s3 target needs.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// minioClient builds an S3 client for t. Credentials come from the
// environment, then the shared credentials file, then instance metadata.
func (s *Service) minioClient(_ context.Context, t *ImageTarget) (objectPutter, error) {
	endpoint, secure := parseEndpoint(s.cfg.S3Endpoint, !s.cfg.S3Insecure)
	region := t.Region
	if region == "" {
		region = s.cfg.S3Region
	}

	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.FileAWSCredentials{},
		&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
	})

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, domain.StorageError("failed to initialize S3 client", err)
	}
	return client, nil
}

// parseEndpoint accepts "host[:port]" or a URL. A URL scheme decides TLS.
func parseEndpoint(endpoint string, secure bool) (string, bool) {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host, u.Scheme == "https"
	}
	return strings.TrimSuffix(endpoint, "/"), secure
}

// uploadImages puts every file under {prefix}/{stem}/{file}.
func (s *Service) uploadImages(ctx context.Context, t *ImageTarget, dir string, files []string, stem string) (string, error) {
	client, err := s.newS3(ctx, t)
	if err != nil {
		return "", err
	}
	prefix := strings.Trim(t.Prefix, "/")
	for _, f := range files {
		key := path.Join(prefix, stem, f)
		if err := putFile(ctx, client, t.Bucket, key, filepath.Join(dir, f)); err != nil {
			return "", domain.StorageError(fmt.Sprintf("failed to upload %s to s3://%s/%s", f, t.Bucket, key), err)
		}
	}
	return fmt.Sprintf("%d images uploaded to s3://%s/%s", len(files), t.Bucket, path.Join(prefix, stem)), nil
}

func putFile(ctx context.Context, client objectPutter, bucket, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = client.PutObject(ctx, bucket, key, f, info.Size(), minio.PutObjectOptions{
		ContentType: contentType(file),
	})
	return err
}

func contentType(file string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(file))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
