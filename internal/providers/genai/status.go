package genai

import "strings"

// Normalized is the provider-independent view of a raw operation status.
type Normalized string

const (
	Done       Normalized = "DONE"
	DoneNoURL  Normalized = "DONE_NO_URL"
	Failed     Normalized = "FAILED"
	Processing Normalized = "PROCESSING"
)

const (
	RawPending    = "MEDIA_GENERATION_STATUS_PENDING"
	RawActive     = "MEDIA_GENERATION_STATUS_ACTIVE"
	RawSuccessful = "MEDIA_GENERATION_STATUS_SUCCESSFUL"
	RawFailed     = "MEDIA_GENERATION_STATUS_FAILED"
)

// Normalize maps a status entry to DONE (with url), DONE_NO_URL, FAILED or
// PROCESSING. Unknown raw values are treated as still processing.
func Normalize(st OperationStatus) (Normalized, string) {
	raw := strings.ToUpper(strings.TrimSpace(st.Status))
	switch {
	case raw == RawSuccessful || strings.HasSuffix(raw, "_SUCCESSFUL") || raw == "SUCCEEDED" || raw == "DONE":
		for _, u := range st.URLs {
			if u = strings.TrimSpace(u); u != "" {
				return Done, u
			}
		}
		return DoneNoURL, ""
	case raw == RawFailed || strings.HasSuffix(raw, "_FAILED") || raw == "FAILED" || st.ErrorCode != 0:
		return Failed, ""
	default:
		return Processing, ""
	}
}
