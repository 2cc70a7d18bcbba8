package domain

// ResourceType is the coarse media class of an uploaded asset.
type ResourceType string

const (
	ResourceImage ResourceType = "image"
	ResourceVideo ResourceType = "video"
	ResourceRaw   ResourceType = "raw"
)

// Asset describes a file held by the remote asset store.
type Asset struct {
	PublicID     string
	URL          string
	ResourceType ResourceType
	Bytes        int64
}
