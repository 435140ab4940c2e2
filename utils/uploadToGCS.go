package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// Locally, explicit JSON can be provided via GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// ReportBucket returns GCS_REPORT_BUCKET, falling back to GCS_BUCKET.
func ReportBucket() (string, error) {
	bucket := strings.TrimSpace(os.Getenv("GCS_REPORT_BUCKET"))
	if bucket == "" {
		bucket = strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	}
	if bucket == "" {
		return "", errors.New("GCS_REPORT_BUCKET or GCS_BUCKET is required")
	}
	return bucket, nil
}

// UploadBytesToGCS writes data to objectName in bucket and returns its gs:// URI.
func UploadBytesToGCS(ctx context.Context, bucket, objectName string, data []byte, contentType string) (string, error) {
	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()
	return WriteObject(ctx, client, bucket, objectName, data, contentType)
}

// WriteObject uploads with an existing client.
func WriteObject(ctx context.Context, client *storage.Client, bucket, objectName string, data []byte, contentType string) (string, error) {
	if bucket == "" {
		return "", errors.New("bucket is required")
	}
	wc := client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to upload bytes to Google Cloud Storage: %w", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", bucket, objectName), nil
}
