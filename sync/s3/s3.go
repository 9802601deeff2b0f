// Package s3 syncs vault blobs to an Amazon S3 bucket. Optimistic
// concurrency rides on S3 conditional writes: uploads carry If-Match on
// the last seen ETag, or If-None-Match for the initial create.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/VBlackJack/genpwd-pro-sub017/sync"
)

const (
	defaultPrefix       = "vaults/"
	objectSuffix        = ".vault"
	defaultHealthPeriod = 30 * time.Second

	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 30 * time.Second
	defaultWriteTimeout   = 2 * time.Minute
)

// Timeouts bounds the provider's network calls. Connect limits dialing,
// Read limits waiting for response headers, Write caps a whole request
// including the body upload. Zero fields take the defaults.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Write   time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Connect <= 0 {
		t.Connect = defaultConnectTimeout
	}
	if t.Read <= 0 {
		t.Read = defaultReadTimeout
	}
	if t.Write <= 0 {
		t.Write = defaultWriteTimeout
	}
	return t
}

// Provider stores each vault as one S3 object under a key prefix.
type Provider struct {
	client       *awss3.Client
	bucket       string
	prefix       string
	healthPeriod time.Duration
	timeouts     Timeouts
}

// Option configures a Provider.
type Option func(*Provider)

// WithPrefix overrides the object key prefix, "vaults/" by default.
func WithPrefix(prefix string) Option {
	return func(p *Provider) { p.prefix = prefix }
}

// WithHealthPeriod sets the interval between health probes.
func WithHealthPeriod(d time.Duration) Option {
	return func(p *Provider) { p.healthPeriod = d }
}

// WithTimeouts overrides the network timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(p *Provider) { p.timeouts = t }
}

// WithClient injects a pre-built S3 client, for tests and custom
// endpoints. Timeouts are the injected client's responsibility.
func WithClient(client *awss3.Client) Option {
	return func(p *Provider) { p.client = client }
}

// New builds a provider for bucket in region, loading AWS credentials
// from the default chain.
func New(ctx context.Context, bucket, region string, opts ...Option) (*Provider, error) {
	p := &Provider{
		bucket:       bucket,
		prefix:       defaultPrefix,
		healthPeriod: defaultHealthPeriod,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.timeouts = p.timeouts.withDefaults()
	if p.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithHTTPClient(httpClientFor(p.timeouts)),
		)
		if err != nil {
			return nil, mapError(err)
		}
		p.client = awss3.NewFromConfig(cfg)
	}
	return p, nil
}

func httpClientFor(t Timeouts) *awshttp.BuildableClient {
	return awshttp.NewBuildableClient().
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = t.Connect
		}).
		WithTransportOptions(func(tr *http.Transport) {
			tr.ResponseHeaderTimeout = t.Read
		}).
		WithTimeout(t.Write)
}

func (p *Provider) Kind() string { return "s3" }

// Capabilities reports CapFullReconcile: S3 listings carry no change
// cursor, so callers diff full listings instead.
func (p *Provider) Capabilities() sync.Capability { return sync.CapFullReconcile }

// Authenticate verifies bucket access with a HeadBucket probe.
func (p *Provider) Authenticate(ctx context.Context) (sync.Account, error) {
	_, err := p.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	if err != nil {
		return sync.Account{}, mapError(err)
	}
	return sync.Account{ID: p.bucket, DisplayName: "s3://" + p.bucket}, nil
}

func (p *Provider) ListVaults(ctx context.Context, account sync.Account) ([]sync.RemoteVault, error) {
	var vaults []sync.RemoteVault
	paginator := awss3.NewListObjectsV2Paginator(p.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(p.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, obj := range page.Contents {
			id, ok := p.vaultIDFromKey(aws.ToString(obj.Key))
			if !ok {
				continue
			}
			vaults = append(vaults, sync.RemoteVault{
				ID:       id,
				Name:     id,
				Modified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return vaults, nil
}

func (p *Provider) Download(ctx context.Context, account sync.Account, vaultID string) ([]byte, string, error) {
	out, err := p.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(vaultID)),
	})
	if err != nil {
		return nil, "", mapError(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", mapError(err)
	}
	return data, aws.ToString(out.ETag), nil
}

func (p *Provider) Upload(ctx context.Context, account sync.Account, vaultID string, data []byte, ifMatch string) (string, time.Time, error) {
	in := &awss3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(vaultID)),
		Body:   bytes.NewReader(data),
	}
	if ifMatch == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(ifMatch)
	}

	out, err := p.client.PutObject(ctx, in)
	if err != nil {
		return "", time.Time{}, mapError(err)
	}
	return aws.ToString(out.ETag), time.Now().UTC(), nil
}

// CreateVault allocates a vault slot with an empty create-only object.
func (p *Provider) CreateVault(ctx context.Context, account sync.Account, name string) (sync.RemoteVault, error) {
	id := uuid.NewString()
	_, modified, err := p.Upload(ctx, account, id, nil, "")
	if err != nil {
		return sync.RemoteVault{}, err
	}
	return sync.RemoteVault{ID: id, Name: name, Modified: modified}, nil
}

func (p *Provider) DeleteVault(ctx context.Context, account sync.Account, vaultID string) error {
	_, err := p.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(vaultID)),
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// Changes lists every vault with an empty cursor, per CapFullReconcile.
func (p *Provider) Changes(ctx context.Context, account sync.Account, cursor string) (string, []sync.Change, error) {
	vaults, err := p.ListVaults(ctx, account)
	if err != nil {
		return "", nil, err
	}
	changes := make([]sync.Change, 0, len(vaults))
	for _, v := range vaults {
		changes = append(changes, sync.Change{VaultID: v.ID})
	}
	return "", changes, nil
}

// Health probes the bucket on a fixed period until ctx is cancelled.
func (p *Provider) Health(ctx context.Context, account sync.Account) (<-chan sync.Status, error) {
	ch := make(chan sync.Status, 1)
	go func() {
		defer close(ch)
		t := time.NewTicker(p.healthPeriod)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			status := sync.StatusOK
			probe, cancel := context.WithTimeout(ctx, p.timeouts.Connect+p.timeouts.Read)
			_, err := p.client.HeadBucket(probe, &awss3.HeadBucketInput{Bucket: aws.String(p.bucket)})
			cancel()
			if err != nil {
				status = sync.StatusDown
			}
			select {
			case ch <- status:
			default:
			}
		}
	}()
	return ch, nil
}

func (p *Provider) key(vaultID string) string {
	return p.prefix + vaultID + objectSuffix
}

func (p *Provider) vaultIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, p.prefix) || !strings.HasSuffix(key, objectSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, p.prefix), objectSuffix)
	if id == "" {
		return "", false
	}
	return id, true
}

// mapError folds AWS SDK failures into the sync error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return sync.ErrRemoteNotFound
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return sync.ErrRemoteNotFound
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		var retryAfter time.Duration
		if respErr.Response != nil {
			retryAfter = parseRetryAfter(respErr.Response.Header.Get("Retry-After"))
		}
		if mapped := sync.MapHTTPStatus(respErr.HTTPStatusCode(), retryAfter); mapped != nil {
			return mapped
		}
	}
	return errors.Join(sync.ErrNetwork, err)
}

// parseRetryAfter handles both Retry-After forms: delay seconds and an
// HTTP date. Anything unparseable or in the past yields zero.
func parseRetryAfter(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

var _ sync.Provider = (*Provider)(nil)
