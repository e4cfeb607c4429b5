package invoice

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/mspharm/libs/gemini"
)

// Recognition is the model's match of a product photo against the lines of
// a statement. Confidence runs from 0 to 100.
type Recognition struct {
	Identified   bool   `json:"identified"`
	MedicineName string `json:"medicineName"`
	Confidence   Amount `json:"confidence"`
}

// MedicinePrompt asks which of names the photographed product is.
func MedicinePrompt(names []string) string {
	list := "(약품 목록이 제공되지 않았습니다)"
	if len(names) > 0 {
		list = strings.Join(names, ", ")
	}
	return fmt.Sprintf(`이 이미지는 약품입니다. 다음 약품 목록 중에서 이 이미지와 일치하는 약품을 찾아주세요:
%s

결과는 다음 JSON 형식으로 반환해주세요:
{"identified": true, "medicineName": "식별된 약품 이름", "confidence": 0~100 사이의 신뢰도 점수}

약품을 식별할 수 없는 경우:
{"identified": false, "medicineName": "", "confidence": 0}

오직 JSON 결과만 반환해주세요. JSON 외에 어떠한 설명도 포함하지 마세요.`, list)
}

// ItemNames reads the names out of a JSON array of statement lines. Blank
// or malformed input gives no names.
func ItemNames(raw string) []string {
	var items []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	var out []string
	for _, it := range items {
		if n := strings.TrimSpace(it.Name); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ParseRecognition clamps confidence into 0..100 and clears the name of an
// unidentified product.
func ParseRecognition(reply string) (Recognition, error) {
	var rec Recognition
	if err := gemini.DecodeJSON(reply, &rec); err != nil {
		return Recognition{}, err
	}
	rec.MedicineName = strings.TrimSpace(rec.MedicineName)
	rec.Confidence = min(max(rec.Confidence, 0), 100)
	if !rec.Identified {
		rec.MedicineName, rec.Confidence = "", 0
	}
	return rec, nil
}
