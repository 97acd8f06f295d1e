package domain

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// AllowedLabelExtensions lists the file types accepted as shipping labels.
var AllowedLabelExtensions = []string{".pdf", ".jpg", ".jpeg"}

// IsAllowedLabelFile checks the file extension case-insensitively.
func IsAllowedLabelFile(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, allowed := range AllowedLabelExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// NewBlobName builds "{shipmentId}/{token}_{fileName}" with a fresh random
// token, keeping the original file name and extension.
func NewBlobName(shipmentID uuid.UUID, fileName string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return shipmentID.String() + "/" + token + "_" + filepath.Base(fileName)
}

// LabelContentType returns the media type implied by the label's extension.
func LabelContentType(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
