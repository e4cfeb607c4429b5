// Package face turns a model's description of a face photo into a small
// feature vector and ranks stored customers against it.
package face

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/md-rashed-zaman/mspharm/libs/gemini"
)

const Prompt = `이 사진에서 사람의 얼굴을 감지하고 JSON 하나만 반환하세요:
{"faceDetected": true, "embedding": {"eyeDistanceRatio": 0.5, "eyeNoseRatio": 0.5, "noseMouthRatio": 0.5,
"symmetryScore": 0.5, "contourFeatures": "타원형"}, "gender": "남성/여성", "age": 30,
"distinctiveFeatures": ["안경"], "imageQualityScore": 85}
비율은 0.3~0.7, symmetryScore는 0~1, imageQualityScore는 0~100 입니다.`

const (
	defaultEyeDistance = 0.45
	defaultEyeNose     = 0.35
	defaultNoseMouth   = 0.25
	defaultSymmetry    = 0.8
	defaultGender      = "불명확"
	defaultAge         = 30
	defaultQuality     = 70
)

type Embedding struct {
	EyeDistanceRatio float64 `json:"eyeDistanceRatio"`
	EyeNoseRatio     float64 `json:"eyeNoseRatio"`
	NoseMouthRatio   float64 `json:"noseMouthRatio"`
	SymmetryScore    float64 `json:"symmetryScore"`
	ContourFeatures  string  `json:"contourFeatures"`
}

// Analysis is the normalized result stored on customers.face_embedding.
type Analysis struct {
	FaceDetected        bool      `json:"faceDetected"`
	Embedding           Embedding `json:"embedding"`
	Gender              string    `json:"gender"`
	Age                 int       `json:"age"`
	DistinctiveFeatures []string  `json:"distinctiveFeatures"`
	ImageQualityScore   float64   `json:"imageQualityScore"`
}

// Vector is the part of the embedding used for distance.
func (e Embedding) Vector() [4]float64 {
	return [4]float64{e.EyeDistanceRatio, e.EyeNoseRatio, e.NoseMouthRatio, e.SymmetryScore}
}

func contourFor(gender string) string {
	if gender == "남성" {
		return "각진 형태"
	}
	return "둥근 형태"
}

// Default is returned when the reply cannot be read at all.
func Default() Analysis {
	return defaultFor(defaultGender, defaultAge)
}

func defaultFor(gender string, age int) Analysis {
	return Analysis{
		FaceDetected: true,
		Embedding: Embedding{
			EyeDistanceRatio: defaultEyeDistance,
			EyeNoseRatio:     defaultEyeNose,
			NoseMouthRatio:   defaultNoseMouth,
			SymmetryScore:    defaultSymmetry,
			ContourFeatures:  contourFor(gender),
		},
		Gender:              gender,
		Age:                 age,
		DistinctiveFeatures: []string{},
		ImageQualityScore:   defaultQuality,
	}
}

// rawEmbedding keeps absent fields distinguishable from zero.
type rawEmbedding struct {
	EyeDistanceRatio *float64 `json:"eyeDistanceRatio"`
	EyeNoseRatio     *float64 `json:"eyeNoseRatio"`
	NoseMouthRatio   *float64 `json:"noseMouthRatio"`
	SymmetryScore    *float64 `json:"symmetryScore"`
	ContourFeatures  string   `json:"contourFeatures"`
}

type rawAnalysis struct {
	rawEmbedding
	FaceDetected        *bool         `json:"faceDetected"`
	Embedding           *rawEmbedding `json:"embedding"`
	Gender              string        `json:"gender"`
	Age                 float64       `json:"age"`
	DistinctiveFeatures []string      `json:"distinctiveFeatures"`
	ImageQualityScore   float64       `json:"imageQualityScore"`
}

// Parse reads a model reply. Ratios may sit under "embedding" or at the top
// level; anything missing takes its default. ok is false when the reply
// holds no JSON object, in which case Default is returned.
func Parse(reply string) (Analysis, bool) {
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(gemini.ExtractJSON(reply)), &raw); err != nil {
		return Default(), false
	}
	return normalize(raw), true
}

func normalize(raw rawAnalysis) Analysis {
	gender := raw.Gender
	if gender == "" {
		gender = defaultGender
	}
	age := int(math.Round(raw.Age))
	if age <= 0 {
		age = defaultAge
	}
	out := defaultFor(gender, age)
	if raw.FaceDetected != nil {
		out.FaceDetected = *raw.FaceDetected
	}
	nested := rawEmbedding{}
	if raw.Embedding != nil {
		nested = *raw.Embedding
	}
	pick := func(dst *float64, candidates ...*float64) {
		for _, c := range candidates {
			if c != nil {
				*dst = *c
				return
			}
		}
	}
	pick(&out.Embedding.EyeDistanceRatio, nested.EyeDistanceRatio, raw.rawEmbedding.EyeDistanceRatio)
	pick(&out.Embedding.EyeNoseRatio, nested.EyeNoseRatio, raw.rawEmbedding.EyeNoseRatio)
	pick(&out.Embedding.NoseMouthRatio, nested.NoseMouthRatio, raw.rawEmbedding.NoseMouthRatio)
	pick(&out.Embedding.SymmetryScore, nested.SymmetryScore, raw.rawEmbedding.SymmetryScore)
	switch {
	case nested.ContourFeatures != "":
		out.Embedding.ContourFeatures = nested.ContourFeatures
	case raw.rawEmbedding.ContourFeatures != "":
		out.Embedding.ContourFeatures = raw.rawEmbedding.ContourFeatures
	}
	if raw.DistinctiveFeatures != nil {
		out.DistinctiveFeatures = raw.DistinctiveFeatures
	}
	if raw.ImageQualityScore > 0 {
		out.ImageQualityScore = raw.ImageQualityScore
	}
	return out
}

func Distance(a, b Embedding) float64 {
	va, vb := a.Vector(), b.Vector()
	var sum float64
	for i := range va {
		d := va[i] - vb[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Similarity maps a distance into (0, 1].
func Similarity(distance float64) float64 {
	return 1 / (1 + distance)
}

type Candidate struct {
	CustomerID   string
	CustomerCode string
	Name         string
	Phone        string
	Embedding    Embedding
}

type Match struct {
	CustomerID   string  `json:"customer_id"`
	CustomerCode string  `json:"customer_code"`
	Name         string  `json:"name"`
	Phone        string  `json:"phone,omitempty"`
	Distance     float64 `json:"distance"`
	Similarity   float64 `json:"similarity"`
}

// Rank orders candidates by distance to target and keeps the closest limit.
func Rank(target Embedding, candidates []Candidate, limit int) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		d := Distance(target, c.Embedding)
		matches = append(matches, Match{
			CustomerID:   c.CustomerID,
			CustomerCode: c.CustomerCode,
			Name:         c.Name,
			Phone:        c.Phone,
			Distance:     d,
			Similarity:   Similarity(d),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// FromStored reads a customers.face_embedding value, which may hold a full
// analysis or a bare embedding. ok is false when no ratio is present.
func FromStored(raw []byte) (Embedding, bool) {
	if len(raw) == 0 {
		return Embedding{}, false
	}
	var stored rawAnalysis
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Embedding{}, false
	}
	src := stored.rawEmbedding
	if stored.Embedding != nil {
		src = *stored.Embedding
	}
	if src.EyeDistanceRatio == nil && src.EyeNoseRatio == nil && src.NoseMouthRatio == nil && src.SymmetryScore == nil {
		return Embedding{}, false
	}
	get := func(p *float64, fallback float64) float64 {
		if p == nil {
			return fallback
		}
		return *p
	}
	return Embedding{
		EyeDistanceRatio: get(src.EyeDistanceRatio, defaultEyeDistance),
		EyeNoseRatio:     get(src.EyeNoseRatio, defaultEyeNose),
		NoseMouthRatio:   get(src.NoseMouthRatio, defaultNoseMouth),
		SymmetryScore:    get(src.SymmetryScore, defaultSymmetry),
		ContourFeatures:  src.ContourFeatures,
	}, true
}
