package handlers

// ColorizeArrayRequest carries a raw channel-last image, one value per
// channel per pixel in [0, 255].
type ColorizeArrayRequest struct {
	Height   int   `json:"height" binding:"required,gt=0"`
	Width    int   `json:"width" binding:"required,gt=0"`
	Channels int   `json:"channels" binding:"required,oneof=1 3 4"`
	Pixels   []int `json:"pixels" binding:"required"`
}

type ColorizeResponse struct {
	RequestID string             `json:"request_id"`
	Status    string             `json:"status"`
	Terrain   string             `json:"terrain,omitempty"`
	Image     string             `json:"image,omitempty"`
	Scores    map[string]float32 `json:"scores,omitempty"`
	Palette   []string           `json:"palette,omitempty"`
}
