// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/nekazari/datahub-bff/arrowframe"
	"github.com/nekazari/datahub-bff/config"
)

// ParquetContentType is the media type recorded on uploaded objects.
const ParquetContentType = "application/vnd.apache.parquet"

// PresignExpiry is how long an export download URL stays valid.
const PresignExpiry = 3600 * time.Second

// ErrMissingCredentials maps to a 503: the exact message is part of the
// export API contract.
var ErrMissingCredentials = errors.New("S3_ACCESS_KEY and S3_SECRET_KEY required for Parquet export")

// Uploader stores an aligned frame as a Parquet object and returns a
// presigned download URL.
type Uploader interface {
	UploadParquet(ctx context.Context, tenant string, f *arrowframe.Frame) (string, error)
}

// ObjectStore is the S3-compatible (MinIO) Uploader.
type ObjectStore struct {
	client    *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
	bucket    string
}

// NewObjectStore builds the store from the loaded configuration. It fails
// with ErrMissingCredentials when the access pair is absent.
func NewObjectStore(ctx context.Context, cfg *config.Config) (*ObjectStore, error) {
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, ErrMissingCredentials
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("configure S3 client: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		// MinIO serves buckets by path, not virtual host.
		o.UsePathStyle = true
	})
	return &ObjectStore{
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.S3Bucket,
	}, nil
}

// UploadParquet writes the frame through a spooled buffer, uploads it under
// exports/{tenant}/{random-hex}.parquet, and returns a presigned GET URL
// valid for one hour.
func (o *ObjectStore) UploadParquet(ctx context.Context, tenant string, f *arrowframe.Frame) (string, error) {
	spool := NewSpool()
	defer spool.Close()
	if err := WriteParquet(f, spool); err != nil {
		return "", err
	}
	body, err := spool.Reader()
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("exports/%s/%s.parquet", tenant, randomHex())
	if _, err := o.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(ParquetContentType),
	}); err != nil {
		return "", fmt.Errorf("upload Parquet object: %w", err)
	}
	slog.Info("uploaded Parquet export", "bucket", o.bucket, "key", key, "bytes", spool.Size())

	presigned, err := o.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) { po.Expires = PresignExpiry })
	if err != nil {
		return "", fmt.Errorf("presign download URL: %w", err)
	}
	return presigned.URL, nil
}

func randomHex() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
