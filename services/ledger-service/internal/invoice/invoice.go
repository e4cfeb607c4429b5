// Package invoice turns a supplier's transaction statement into structured
// line items, from the model's JSON or by scraping labelled text.
package invoice

import (
	"bytes"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/gemini"
)

const Prompt = `이 이미지는 한국어 거래 내역서입니다. 공급처 이름, 제품명, 제품 규격, 수량, 금액, 거래일자, 총액을 추출해주세요.
결과는 다음 JSON 형식 하나만 반환해주세요.
{
  "supplier": "공급처 이름",
  "items": [
    {"name": "제품명", "specification": "규격", "quantity": 1, "amount": 10000}
  ],
  "total": 10000,
  "date": "YYYY-MM-DD"
}
값을 찾을 수 없으면 공급처와 제품명은 "알 수 없음", 규격은 "규격 정보 없음", 수량은 1, 금액과 총액은 0, 날짜는 오늘 날짜로 채워주세요.
금액에는 쉼표를 넣지 마세요. JSON 외의 설명은 포함하지 마세요.`

const (
	Unknown   = "알 수 없음"
	NoSpec    = "규격 정보 없음"
	dateShape = "2006-01-02"
)

// Amount accepts numbers and strings such as "642,023" or "3개".
type Amount int64

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*a = 0
		return nil
	}
	s := strings.ReplaceAll(strings.Trim(string(b), `"`), ",", "")
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*a = Amount(math.Round(f))
		return nil
	}
	*a = Amount(parseDigits(s))
	return nil
}

type Item struct {
	Name          string `json:"name"`
	Specification string `json:"specification"`
	Quantity      Amount `json:"quantity"`
	Amount        Amount `json:"amount"`
}

type Invoice struct {
	Supplier string `json:"supplier"`
	Items    []Item `json:"items"`
	Total    Amount `json:"total"`
	Date     string `json:"date"`
}

// Parse reads a model reply. When the reply holds no decodable JSON the
// labelled-text fallback runs instead, and the bool reports that.
func Parse(reply string, today time.Time) (Invoice, bool) {
	var inv Invoice
	if err := gemini.DecodeJSON(reply, &inv); err == nil {
		return normalize(inv, today), false
	}
	return Scrape(gemini.StripFences(reply), today), true
}

var (
	supplierRe = regexp.MustCompile(`공\s*급\s*처\s*:?[ \t]*([가-힣a-zA-Z0-9() \t]+)`)
	productRe  = regexp.MustCompile(`품\s*명\s*:?[ \t]*([가-힣a-zA-Z0-9(). \t]+)`)
	specRe     = regexp.MustCompile(`규\s*격\s*:?[ \t]*([가-힣a-zA-Z0-9(). \t]+)`)
	quantityRe = regexp.MustCompile(`수\s*량\s*:?\s*(\d+)`)
	amountRe   = regexp.MustCompile(`금\s*액\s*:?\s*([0-9,]+)`)
	totalRe    = regexp.MustCompile(`합\s*계\s*:?\s*([0-9,]+)`)
	dateRe     = regexp.MustCompile(`(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})`)
)

// Scrape reads the labels 공급처, 품명, 규격, 수량, 금액 and 합계 plus the
// first date-shaped token from free text. It always yields one item.
func Scrape(text string, today time.Time) Invoice {
	item := Item{
		Name:          firstGroup(productRe, text, Unknown),
		Specification: firstGroup(specRe, text, NoSpec),
		Quantity:      Amount(parseDigits(firstGroup(quantityRe, text, "1"))),
		Amount:        Amount(parseDigits(firstGroup(amountRe, text, "0"))),
	}
	inv := Invoice{
		Supplier: firstGroup(supplierRe, text, Unknown),
		Items:    []Item{item},
		Total:    Amount(parseDigits(firstGroup(totalRe, text, "0"))),
	}
	if m := dateRe.FindStringSubmatch(text); m != nil {
		inv.Date = normalizeDate(m[1], m[2], m[3])
	}
	return normalize(inv, today)
}

func normalize(inv Invoice, today time.Time) Invoice {
	if strings.TrimSpace(inv.Supplier) == "" {
		inv.Supplier = Unknown
	}
	if len(inv.Items) == 0 {
		inv.Items = []Item{{}}
	}
	for i := range inv.Items {
		it := &inv.Items[i]
		if strings.TrimSpace(it.Name) == "" {
			it.Name = Unknown
		}
		if strings.TrimSpace(it.Specification) == "" {
			it.Specification = NoSpec
		}
		if it.Quantity <= 0 {
			it.Quantity = 1
		}
		if it.Amount < 0 {
			it.Amount = 0
		}
	}
	if m := dateRe.FindStringSubmatch(inv.Date); m != nil {
		inv.Date = normalizeDate(m[1], m[2], m[3])
	}
	if _, err := time.Parse(dateShape, inv.Date); err != nil {
		inv.Date = today.Format(dateShape)
	}
	return inv
}

func normalizeDate(y, m, d string) string {
	mi, _ := strconv.Atoi(m)
	di, _ := strconv.Atoi(d)
	return y + "-" + pad2(mi) + "-" + pad2(di)
}

func pad2(v int) string {
	if v < 10 {
		return "0" + strconv.Itoa(v)
	}
	return strconv.Itoa(v)
}

func firstGroup(re *regexp.Regexp, text, fallback string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return fallback
	}
	if v := strings.TrimSpace(m[1]); v != "" {
		return v
	}
	return fallback
}

// parseDigits keeps the digits of s, so "642,023원" reads as 642023.
func parseDigits(s string) int64 {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	v, _ := strconv.ParseInt(b.String(), 10, 64)
	if strings.HasPrefix(strings.TrimSpace(s), "-") {
		return -v
	}
	return v
}
