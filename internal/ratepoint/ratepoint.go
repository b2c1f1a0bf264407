// Package ratepoint holds the wire and persistence types shared across the
// poller, rate service, repository, and connection handler.
package ratepoint

// Quote is a single upstream rate as delivered by the poller, before symbol
// filtering or mid-price derivation. Additional upstream fields are
// tolerated and ignored by the decoder.
type Quote struct {
	Symbol string  `json:"Symbol"`
	Bid    float64 `json:"Bid"`
	Ask    float64 `json:"Ask"`
}

// Batch is the JSON shape returned by the upstream endpoint once the JSONP
// wrapper has been stripped.
type Batch struct {
	Rates []Quote `json:"Rates"`
}

// Point is a derived, persisted rate: one symbol, one tick.
type Point struct {
	AssetID   int     `json:"assetId" bson:"assetId"`
	AssetName string  `json:"assetName" bson:"assetName"`
	Time      int64   `json:"time" bson:"time"`
	Value     float64 `json:"value" bson:"value"`
}

// Mid derives the mid-price for a quote: (Ask+Bid)/2, natural floating-point
// arithmetic, no custom rounding.
func Mid(q Quote) float64 {
	return (q.Ask + q.Bid) / 2
}
