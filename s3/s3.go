/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package s3

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/labstack/gommon/bytes"
	"go.uber.org/zap"

	econfig "github.com/redhatinsights/spreadsheet-export-service/config"
)

const partSize = 100 * 1024 * 1024

// Disk stores rendered export files.
type Disk interface {
	// Name is recorded on the job row, e.g. "s3" or "local".
	Name() string
	Put(ctx context.Context, key string, body io.Reader, contentType string) (int64, error)
	// URL returns a link the owner can download the file from.
	URL(ctx context.Context, key string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// S3GetObjectAPI defines the interface for the GetObject function.
// We use this interface to test the function using a mocked service.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context,
		params *s3.GetObjectInput,
		optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3PresignAPI defines the interface for presigning download links.
type S3PresignAPI interface {
	PresignGetObject(ctx context.Context,
		params *s3.GetObjectInput,
		optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error)
}

// PresignedRequest is the part of a presigned request the service uses.
type PresignedRequest struct {
	URL string
}

// S3Uploader defines the interface for the manager upload call.
type S3Uploader interface {
	Upload(ctx context.Context,
		input *s3.PutObjectInput,
		opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type presigner struct {
	client *s3.PresignClient
}

func (p presigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error) {
	req, err := p.client.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &PresignedRequest{URL: req.URL}, nil
}

type S3Disk struct {
	Bucket    string
	URLExpiry time.Duration
	Uploader  S3Uploader
	Getter    S3GetObjectAPI
	Presigner S3PresignAPI
	Log       *zap.SugaredLogger
}

// NewClient builds an s3 client for the configured endpoint.
func NewClient(cfg *econfig.ExportConfig) *s3.Client {
	scfg := cfg.StorageConfig

	creds := aws.CredentialsProviderFunc(func(c context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     scfg.AccessKey,
			SecretAccessKey: scfg.SecretKey,
		}, nil
	})

	s3cfg := aws.Config{
		Region:      scfg.Region,
		Credentials: creds,
	}

	return s3.NewFromConfig(s3cfg, func(o *s3.Options) {
		if scfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(scfg.Endpoint)
		}
		// minio and the local stack serve buckets by path
		o.UsePathStyle = cfg.Debug || !scfg.UseSSL
	})
}

func NewS3Disk(cfg *econfig.ExportConfig, client *s3.Client, log *zap.SugaredLogger) *S3Disk {
	log.Infow("s3 disk configured", "bucket", cfg.StorageConfig.Bucket, "endpoint", cfg.StorageConfig.Endpoint)
	return &S3Disk{
		Bucket:    cfg.StorageConfig.Bucket,
		URLExpiry: cfg.StorageConfig.URLExpiry,
		Uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		Getter:    client,
		Presigner: presigner{client: s3.NewPresignClient(client)},
		Log:       log,
	}
}

func (d *S3Disk) Name() string { return "s3" }

func (d *S3Disk) Put(ctx context.Context, key string, body io.Reader, contentType string) (int64, error) {
	totalUploads.Inc()
	counter := &countingReader{r: body}
	start := time.Now()

	_, err := d.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &d.Bucket,
		Key:         &key,
		Body:        counter,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		failUploads.Inc()
		return counter.n, fmt.Errorf("failed to upload %s to bucket %s: %w", key, d.Bucket, err)
	}

	uploadSizes.With(map[string]string{"disk": d.Name()}).Observe(float64(counter.n))
	d.Log.Infow("uploaded export file",
		"key", key,
		"bucket", d.Bucket,
		"size", bytes.Format(counter.n),
		"duration", time.Since(start),
	)
	return counter.n, nil
}

func (d *S3Disk) URL(ctx context.Context, key string) (string, error) {
	req, err := d.Presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &d.Bucket,
		Key:    &key,
	}, s3.WithPresignExpires(d.URLExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}

func (d *S3Disk) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := GetObject(ctx, d.Getter, &s3.GetObjectInput{
		Bucket: &d.Bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return out.Body, nil
}

// GetObject retrieves objects from Amazon S3
func GetObject(c context.Context, api S3GetObjectAPI, input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	return api.GetObject(c, input)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
