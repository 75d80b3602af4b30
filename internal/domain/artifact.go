package domain

import "time"

// MediaArtifact is the normalized output handed back to the caller.
type MediaArtifact struct {
	URL           string        `json:"url,omitempty"`
	StorageKey    string        `json:"storage_key,omitempty"`
	Data          []byte        `json:"-"`
	Format        string        `json:"format"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	Duration      time.Duration `json:"duration"`
	FileSize      int64         `json:"file_size"`
	Provider      string        `json:"provider"`
	ProviderJobID string        `json:"provider_job_id,omitempty"`
	Profile       string        `json:"profile"`
	Corrections   []string      `json:"corrections,omitempty"`
	TotalCost     Money         `json:"total_cost"`
}

// DefaultBitrateMbps is the encode bitrate assumed when a provider reports no file size.
const DefaultBitrateMbps = 8.0

// EstimateFileSize approximates an encoded file size: bitrate * seconds / 8, plus 20%
// for audio and container overhead.
func EstimateFileSize(d time.Duration, bitrateMbps float64) int64 {
	if d <= 0 || bitrateMbps <= 0 {
		return 0
	}
	megabytes := bitrateMbps * d.Seconds() / 8 * 1.2
	return int64(megabytes * 1024 * 1024)
}
