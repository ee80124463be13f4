// Package mirror copies every page file a mutation writes or removes to an
// S3 bucket. It plugs into the content store as its MutationObserver and
// never fails the mutation it observes.
package mirror

import (
	"bytes"
	"context"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/flatcms/internal/cryptoutil"
	"github.com/keithlinneman/flatcms/internal/log"
	"github.com/keithlinneman/flatcms/internal/xerrors"
)

// ObjectAPI is the slice of the S3 client the mirror uses; *s3.Client
// satisfies it.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Metrics counts mirror failures by operation ("put" or "delete").
type Metrics interface {
	IncMirrorError(op string)
}

type Options struct {
	Logger log.Logger

	// S3 location: s3://{Bucket}/{Prefix}/{file}
	Bucket string
	Prefix string

	// Timeout bounds each S3 call; zero means 10s.
	Timeout time.Duration

	Metrics Metrics

	// AWS config (uses default if nil). Ignored when Client is set.
	AWSConfig *aws.Config
	Client    ObjectAPI
}

type Mirror struct {
	opts   Options
	client ObjectAPI
	logger log.Logger
}

// New creates a Mirror with the given options
func New(ctx context.Context, opts Options) (*Mirror, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("mirror: Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")

	client := opts.Client
	if client == nil {
		var awsCfg aws.Config
		var err error
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "mirror: load AWS config")
			}
		}
		client = s3.NewFromConfig(awsCfg)
	}

	return &Mirror{
		opts:   opts,
		client: client,
		logger: opts.Logger.With("component", "mirror", "bucket", opts.Bucket),
	}, nil
}

// Key returns the object key for a content-relative file path.
func (m *Mirror) Key(file string) string {
	file = strings.TrimLeft(path.Clean("/"+file), "/")
	if m.opts.Prefix == "" {
		return file
	}
	return m.opts.Prefix + "/" + file
}

// PageWritten uploads data under the file's key.
func (m *Mirror) PageWritten(ctx context.Context, file string, data []byte) {
	key := m.Key(file)
	ctx, span := otel.Tracer("flatcms/mirror").Start(ctx, "mirror.put")
	span.SetAttributes(attribute.String("s3.key", key))
	defer span.End()

	cctx, cancel := m.callContext(ctx)
	defer cancel()

	_, err := m.client.PutObject(cctx, &s3.PutObjectInput{
		Bucket:            aws.String(m.opts.Bucket),
		Key:               aws.String(key),
		Body:              bytes.NewReader(data),
		ContentLength:     aws.Int64(int64(len(data))),
		ContentType:       aws.String(contentType(file)),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    aws.String(cryptoutil.SHA256Base64(data)),
		Metadata:          map[string]string{"sha256": cryptoutil.SHA256Hex(data)},
	})
	if err != nil {
		m.fail(ctx, span, "put", key, err)
		return
	}
	m.logger.Debug(ctx, "mirrored page file", "key", key, "bytes", len(data))
}

// PageRemoved deletes the file's key. Deleting a missing key succeeds.
func (m *Mirror) PageRemoved(ctx context.Context, file string) {
	key := m.Key(file)
	ctx, span := otel.Tracer("flatcms/mirror").Start(ctx, "mirror.delete")
	span.SetAttributes(attribute.String("s3.key", key))
	defer span.End()

	cctx, cancel := m.callContext(ctx)
	defer cancel()

	_, err := m.client.DeleteObject(cctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		m.fail(ctx, span, "delete", key, err)
		return
	}
	m.logger.Debug(ctx, "removed mirrored page file", "key", key)
}

// callContext detaches from the request so a client hang-up does not
// abort an upload for a mutation that already happened.
func (m *Mirror) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.opts.Timeout)
}

func (m *Mirror) fail(ctx context.Context, span trace.Span, op, key string, err error) {
	err = xerrors.Wrapf(err, "mirror %s s3://%s/%s", op, m.opts.Bucket, key)
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	if m.opts.Metrics != nil {
		m.opts.Metrics.IncMirrorError(op)
	}
	m.logger.Error(ctx, err, "mirror failed, bucket is now behind the content directory", "op", op, "key", key)
}

func contentType(file string) string {
	switch ext := path.Ext(file); ext {
	case ".md", ".markdown":
		return "text/markdown; charset=utf-8"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	return "application/octet-stream"
}
