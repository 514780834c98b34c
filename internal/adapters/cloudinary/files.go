// Package cloudinary stores payment proofs and ticket documents.
package cloudinary

import (
	"bytes"
	"context"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

type FileStore struct {
	api    uploadAPI
	folder string
}

func NewFileStore(cloud, key, secret, folder string) (*FileStore, error) {
	cld, err := cloudinary.NewFromParams(cloud, key, secret)
	if err != nil {
		return nil, errors.Wrap(err, "cloudinary: init")
	}
	return &FileStore{api: &cld.Upload, folder: folder}, nil
}

// Store uploads data under a random public id and returns its https URL.
func (f *FileStore) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	res, err := f.api.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		Folder:       f.folder + "/" + subfolder(contentType),
		PublicID:     uuid.NewString(),
		ResourceType: "auto",
	})
	if err != nil {
		return "", errors.Wrap(err, "cloudinary: upload")
	}
	if res.Error.Message != "" {
		return "", errors.Newf("cloudinary: upload: %s", res.Error.Message)
	}
	if res.SecureURL == "" {
		return "", errors.New("cloudinary: upload returned no url")
	}
	return res.SecureURL, nil
}

func subfolder(contentType string) string {
	switch {
	case contentType == "application/pdf":
		return "tickets"
	case strings.HasPrefix(contentType, "image/"):
		return "proofs"
	default:
		return "misc"
	}
}
