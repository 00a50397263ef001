/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package objfile

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// IsS3Path reports whether path uses the "s3://bucket/key" scheme -c
// accepts in addition to a local file path.
func IsS3Path(path string) bool { return strings.HasPrefix(path, "s3://") }

// UploadS3 uploads data to the bucket/key encoded in path (of the form
// "s3://bucket/key"), resolving credentials the standard way
// (environment, shared config, instance metadata) via config.
// LoadDefaultConfig, the same credential-resolution entry point the
// teacher's storage.S3Storage.ensureOpen uses; no custom credentials are
// threaded through here since -c has no flags for them, unlike the
// teacher's S3Factory.
func UploadS3(ctx context.Context, path string, data []byte) error {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(path, "s3://"), "/")
	if !ok || bucket == "" || key == "" {
		return fmt.Errorf("objfile: malformed s3 path %q, want s3://bucket/key", path)
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("objfile: loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("objfile: uploading to %s: %w", path, err)
	}
	return nil
}
