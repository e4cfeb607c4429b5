// Package importer copies the legacy Notion customer and consultation
// databases into Postgres.
package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/notion"
)

var KST = time.FixedZone("KST", 9*60*60)

var ErrIncomplete = errors.New("required field missing")

type Customer struct {
	NotionID      string
	Code          string
	Name          string
	Phone         string
	Gender        string
	BirthDate     *time.Time
	EstimatedAge  *int
	Address       string
	SpecialNotes  string
	FaceEmbedding json.RawMessage
}

type Consultation struct {
	NotionID         string
	ConsultationID   string
	CustomerCode     string
	ConsultDate      time.Time
	Symptoms         string
	PatientCondition string
	TongueAnalysis   string
	SpecialNotes     string
	Prescription     string
	Result           string
	ImageURLs        []string
	CreatedAt        time.Time
}

// CustomerFromPage reads one row of the customer database. The title column
// 고객 holds the customer code; rows without one are incomplete.
func CustomerFromPage(pg notion.Page) (Customer, error) {
	c := Customer{
		NotionID:     pg.ID,
		Code:         pg.Prop("고객").Text(),
		Name:         firstText(pg, "이름", "고객명"),
		Phone:        pg.Prop("전화번호").Text(),
		Gender:       pg.Prop("성별").Text(),
		Address:      pg.Prop("주소").Text(),
		SpecialNotes: pg.Prop("특이사항").Text(),
	}
	if c.Code == "" {
		return c, fmt.Errorf("%w: 고객 (page %s)", ErrIncomplete, pg.ID)
	}
	if c.Name == "" {
		c.Name = PlaceholderName(c.Code)
	}
	if d := pg.Prop("생년월일").DateStart(); d != "" {
		if t, err := parseDate(d); err == nil {
			c.BirthDate = &t
		}
	}
	if p := pg.Prop("추정나이"); p.Number != nil {
		age := int(*p.Number)
		c.EstimatedAge = &age
	}
	if raw := strings.TrimSpace(pg.Prop("얼굴_임베딩").Text()); raw != "" && json.Valid([]byte(raw)) {
		c.FaceEmbedding = json.RawMessage(raw)
	}
	return c, nil
}

// ConsultationFromPage reads one row of the consultation database. The
// consultation id, its customer code prefix, the date and the symptoms are
// all required.
func ConsultationFromPage(pg notion.Page) (Consultation, error) {
	c := Consultation{
		NotionID:         pg.ID,
		ConsultationID:   pg.Prop("id").Text(),
		Symptoms:         pg.Prop("호소증상").Text(),
		PatientCondition: pg.Prop("환자상태").Text(),
		TongueAnalysis:   pg.Prop("설진분석").Text(),
		SpecialNotes:     pg.Prop("특이사항").Text(),
		Prescription:     pg.Prop("처방약").Text(),
		Result:           pg.Prop("결과").Text(),
		ImageURLs:        pg.Prop("증상이미지").FileURLs(),
		CreatedAt:        pg.CreatedTime,
	}
	if t, err := time.Parse(time.RFC3339, pg.Prop("생성일시").Text()); err == nil {
		c.CreatedAt = t
	}

	var missing []string
	if c.ConsultationID == "" {
		missing = append(missing, "id")
	}
	c.CustomerCode = CustomerCode(c.ConsultationID)
	if c.CustomerCode == "" || pg.Prop("고객").RelationID() == "" {
		missing = append(missing, "고객")
	}
	if d := pg.Prop("상담일자").DateStart(); d != "" {
		t, err := parseDate(d)
		if err != nil {
			missing = append(missing, "상담일자")
		}
		c.ConsultDate = t
	} else {
		missing = append(missing, "상담일자")
	}
	if c.Symptoms == "" {
		missing = append(missing, "호소증상")
	}
	if len(missing) > 0 {
		return c, fmt.Errorf("%w: %s (page %s)", ErrIncomplete, strings.Join(missing, ", "), pg.ID)
	}
	return c, nil
}

// CustomerCode is the part of a consultation id before the first "_".
func CustomerCode(consultationID string) string {
	code, _, ok := strings.Cut(consultationID, "_")
	if !ok {
		return ""
	}
	return strings.TrimSpace(code)
}

func PlaceholderName(code string) string {
	return "고객_" + code
}

// ImagePath is the storage object path used by the consultation service.
func ImagePath(customerCode, consultationID string, n int) string {
	return fmt.Sprintf("%s/%s/image_%d.jpg", customerCode, consultationID, n)
}

// InitialPIN mirrors what new customers get: the last six phone digits, or
// 000000 when the phone is shorter.
func InitialPIN(phone string) string {
	var digits []byte
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) < 6 {
		return "000000"
	}
	return string(digits[len(digits)-6:])
}

func firstText(pg notion.Page, names ...string) string {
	for _, n := range names {
		if v := pg.Prop(n).Text(); v != "" {
			return v
		}
	}
	return ""
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, KST)
}
