package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type S3ConnectorFactory struct{}

func (f *S3ConnectorFactory) Accept(protocol string) bool { return protocol == "s3" }

func (f *S3ConnectorFactory) Create(s Session) (Connector, error) {
	return NewS3Connector(s)
}

func (f *S3ConnectorFactory) Name() string { return "s3" }

// S3Connector maps remote paths to object keys in one bucket. User and
// Password are the access key and secret key. A non-empty Host selects a
// custom endpoint (S3-compatible servers).
type S3Connector struct {
	client          *s3.Client
	uploader        *manager.Uploader
	bucket          string
	transferTimeout time.Duration
	creds           *Credentials
}

func NewS3Connector(s Session) (*S3Connector, error) {
	creds := newCredentials(s.User, s.Password)
	connectTimeout := atLeast(s.ConnectTimeout, timeoutFloor)
	transferTimeout := atLeast(s.TransferTimeout, timeoutFloor)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(s.S3.Region),
		config.WithHTTPClient(s3HTTPClient(connectTimeout, transferTimeout)),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(creds.username, string(creds.password), "")),
	)
	if err != nil {
		creds.Clear()
		return nil, wrapError("s3", "connect", "", fmt.Errorf("unable to load AWS config: %w", err))
	}

	endpoint := s3Endpoint(s)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = s.S3.UsePathStyle
	})

	// HeadBucket proves reachability and credentials before any transfer.
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.S3.Bucket)}); err != nil {
		creds.Clear()
		return nil, wrapError("s3", "connect", s.S3.Bucket, err)
	}

	return &S3Connector{
		client:          client,
		uploader:        manager.NewUploader(client),
		bucket:          s.S3.Bucket,
		transferTimeout: transferTimeout,
		creds:           creds,
	}, nil
}

// s3HTTPClient applies the transfer timeout per read and write on every
// connection, so a long object keeps streaming as long as data flows.
func s3HTTPClient(connectTimeout, transferTimeout time.Duration) *awshttp.BuildableClient {
	return awshttp.NewBuildableClient().
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = connectTimeout
		}).
		WithTransportOptions(func(tr *http.Transport) {
			dial := tr.DialContext
			tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				conn, err := dial(ctx, network, addr)
				if err != nil {
					return nil, err
				}
				return newDeadlineConn(conn, transferTimeout), nil
			}
			tr.ResponseHeaderTimeout = transferTimeout
		})
}

func s3Endpoint(s Session) string {
	host := strings.TrimSpace(s.Host)
	if host == "" {
		return ""
	}
	if strings.Contains(host, "://") {
		return host
	}
	if s.Port > 0 {
		return "https://" + s.Addr(0)
	}
	return "https://" + host
}

// objectKey turns a remote path into an object key.
func objectKey(path string) string {
	return strings.TrimLeft(strings.ReplaceAll(path, `\`, "/"), "/")
}

// opContext bounds requests that carry no object body. Body transfers rely
// on the per-read deadlines of s3HTTPClient instead.
func (c *S3Connector) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.transferTimeout)
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func (c *S3Connector) Exists(path string) (bool, error) {
	ctx, cancel := c.opContext()
	defer cancel()

	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(path)),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, wrapError("s3", "head", path, err)
}

func (c *S3Connector) Download(path string, w io.Writer) error {
	out, err := c.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(path)),
	})
	if err != nil {
		return wrapError("s3", "get", path, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return wrapError("s3", "download", path, err)
	}
	return nil
}

func (c *S3Connector) Upload(r io.Reader, path string, overwrite bool) error {
	if !overwrite {
		exists, err := c.Exists(path)
		if err != nil {
			return err
		}
		if exists {
			return wrapError("s3", "put", path, fmt.Errorf("remote object exists and overwrite is disabled"))
		}
	}

	_, err := c.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(path)),
		Body:   r,
	})
	return wrapError("s3", "put", path, err)
}

func (c *S3Connector) Delete(path string) error {
	ctx, cancel := c.opContext()
	defer cancel()

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(path)),
	})
	return wrapError("s3", "delete", path, err)
}

func (c *S3Connector) Close() error {
	if c.creds != nil {
		c.creds.Clear()
	}
	return nil
}
