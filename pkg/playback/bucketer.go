package playback

import "math"

// RequestClass separates request streams that are deduplicated independently
type RequestClass int

const (
	VideoDecode RequestClass = iota
	ScrubAudio
	HoverAudio
	requestClassCount
)

func (c RequestClass) String() string {
	switch c {
	case VideoDecode:
		return "video_decode"
	case ScrubAudio:
		return "scrub_audio"
	case HoverAudio:
		return "hover_audio"
	default:
		return "unknown"
	}
}

type bucketState struct {
	sourceID string
	bucket   int64
	valid    bool
}

// RequestBucketer drops requests that fall in the same time bucket as the
// previous admitted request of their class. It is used from one goroutine.
type RequestBucketer struct {
	rates [requestClassCount]float64
	last  [requestClassCount]bucketState
}

// NewRequestBucketer creates a bucketer with the configured rates
func NewRequestBucketer(cfg BucketerConfig) *RequestBucketer {
	b := &RequestBucketer{}
	b.rates[VideoDecode] = orDefault(cfg.VideoRate, 60)
	b.rates[ScrubAudio] = orDefault(cfg.ScrubRate, 10)
	b.rates[HoverAudio] = orDefault(cfg.HoverRate, 2)
	return b
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

// Bucket returns round(t * rate) for class
func (b *RequestBucketer) Bucket(class RequestClass, t float64) int64 {
	return int64(math.Round(t * b.rates[class]))
}

// Admit reports whether a request at t for sourceID should be dispatched and
// records it when it is.
func (b *RequestBucketer) Admit(class RequestClass, sourceID string, t float64) bool {
	if class < 0 || class >= requestClassCount {
		return true
	}
	bucket := b.Bucket(class, t)
	last := &b.last[class]
	if last.valid && last.sourceID == sourceID && last.bucket == bucket {
		return false
	}
	*last = bucketState{sourceID: sourceID, bucket: bucket, valid: true}
	return true
}

// Reset forgets the last bucket of every class
func (b *RequestBucketer) Reset() {
	for i := range b.last {
		b.last[i] = bucketState{}
	}
}

// ResetClass forgets the last bucket of class
func (b *RequestBucketer) ResetClass(class RequestClass) {
	if class >= 0 && class < requestClassCount {
		b.last[class] = bucketState{}
	}
}
