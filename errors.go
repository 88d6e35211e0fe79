package ytsheets

import (
	ythttp "ytsheets/http"
	"ytsheets/internal/retry"
	istorage "ytsheets/internal/storage"
	"ytsheets/pipeline"
	"ytsheets/quota"
	"ytsheets/sheets"
	"ytsheets/storage"
	"ytsheets/youtube"
)

// Error handling types exported for library users.
//
// Using errors.Is() for sentinel errors:
//
//	if errors.Is(err, ytsheets.ErrQuotaExceeded) {
//		fmt.Println("Come back tomorrow")
//	}
//
// Using errors.As() for wrapped errors:
//
//	var srcErr *ytsheets.SourceError
//	if errors.As(err, &srcErr) {
//		fmt.Printf("%s failed for %s: %v\n", srcErr.Op, srcErr.Channel, srcErr.Err)
//	}
//
// A run never fails as a whole because of one channel; per-channel and
// per-batch failures are collected in pipeline.RunResult.Errors. Only an
// invalid RunConfig makes Syncer.Run return an error.

// Type aliases for convenient error handling.
type (
	// SourceError wraps a failed YouTube Data API call.
	SourceError = youtube.SourceError
	// DestinationError wraps a failed spreadsheet operation.
	DestinationError = sheets.DestinationError
	// QuotaExceededError describes a consumption refused by the daily budget.
	QuotaExceededError = quota.ExceededError
	// ValidationError reports the first invalid RunConfig field.
	ValidationError = pipeline.ValidationError
	// HTTPStatusError is a throttled or failed upstream response.
	HTTPStatusError = ythttp.StatusError
	// ExhaustedError wraps the last error once retries ran out.
	ExhaustedError = retry.ExhaustedError
	// StorageError wraps errors reading or writing state files.
	StorageError = istorage.StorageError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrChannelNotFound indicates the YouTube channel does not exist.
	ErrChannelNotFound = youtube.ErrChannelNotFound
	// ErrInvalidChannelRef indicates a string is not a channel ID, handle or URL.
	ErrInvalidChannelRef = youtube.ErrInvalidChannelRef
	// ErrUpstream indicates the YouTube API rejected a request.
	ErrUpstream = youtube.ErrUpstream
	// ErrChannelResolution indicates a handle could not be resolved.
	ErrChannelResolution = pipeline.ErrChannelResolution

	// ErrQuotaExceeded indicates the daily API budget is spent.
	ErrQuotaExceeded = quota.ErrQuotaExceeded

	ErrInvalidSpreadsheetURL = sheets.ErrInvalidSpreadsheetURL
	ErrInvalidTabName        = sheets.ErrInvalidTabName
	ErrWriteFailed           = sheets.ErrWriteFailed

	// ErrInvalidConfig is wrapped by every ValidationError.
	ErrInvalidConfig = pipeline.ErrInvalidConfig
	// ErrCircuitOpen indicates a host is failing and requests are short-circuited.
	ErrCircuitOpen = ythttp.ErrCircuitOpen

	// ErrNotFound indicates a run or channel has no history record.
	ErrNotFound = storage.ErrNotFound
	// ErrStorageCorrupt indicates a state file could not be decoded.
	ErrStorageCorrupt = istorage.ErrStorageCorrupt
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = istorage.ErrLockTimeout
)

// IsRetryable determines if an error should be retried.
// It returns false for context errors and errors marked permanent.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
