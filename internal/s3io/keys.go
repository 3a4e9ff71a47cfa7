package s3io

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// Common S3 key patterns and content types.
const (
	ContentTypeJSON = "application/json"
	archivePrefix   = "chains"
)

// ArchiveKey constructs the S3 key for one snapshot of a claim chain.
// ULIDs sort by creation time, so listing a chain prefix yields snapshots oldest first.
func ArchiveKey(companyID, originalClaimID string, id ulid.ULID) string {
	return fmt.Sprintf("%s/%s/%s/%s.json", archivePrefix, companyID, originalClaimID, id)
}

