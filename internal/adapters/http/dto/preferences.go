package dto

type WeightRequest struct {
	Weight *float64 `json:"weight"`
}

type WeightResponse struct {
	Tool       string  `json:"tool"`
	Weight     float64 `json:"weight"`
	Overridden bool    `json:"overridden"`
}
