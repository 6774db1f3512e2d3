package types

// MediaType identifies what kind of object a Media URL points at.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
)

// Media is a stored, publicly addressable upload.
type Media struct {
	URL  string    `json:"url"`
	Type MediaType `json:"type"`
}
