package notion

import (
	"strings"
	"time"
)

type Page struct {
	ID          string              `json:"id"`
	CreatedTime time.Time           `json:"created_time"`
	Properties  map[string]Property `json:"properties"`
}

type RichText struct {
	PlainText string `json:"plain_text"`
	Text      *struct {
		Content string `json:"content"`
	} `json:"text,omitempty"`
}

type DateValue struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

type FileObject struct {
	Name string `json:"name"`
	Type string `json:"type"`
	File *struct {
		URL string `json:"url"`
	} `json:"file,omitempty"`
	External *struct {
		URL string `json:"url"`
	} `json:"external,omitempty"`
}

type Property struct {
	Type     string     `json:"type"`
	Title    []RichText `json:"title,omitempty"`
	RichText []RichText `json:"rich_text,omitempty"`
	Number   *float64   `json:"number,omitempty"`
	Date     *DateValue `json:"date,omitempty"`
	Select   *struct {
		Name string `json:"name"`
	} `json:"select,omitempty"`
	PhoneNumber *string      `json:"phone_number,omitempty"`
	Files       []FileObject `json:"files,omitempty"`
	Relation    []struct {
		ID string `json:"id"`
	} `json:"relation,omitempty"`
	CreatedTime string `json:"created_time,omitempty"`
}

// Text joins title or rich_text fragments.
func (p Property) Text() string {
	frags := p.RichText
	if len(p.Title) > 0 {
		frags = p.Title
	}
	var b strings.Builder
	for _, f := range frags {
		if f.PlainText != "" {
			b.WriteString(f.PlainText)
		} else if f.Text != nil {
			b.WriteString(f.Text.Content)
		}
	}
	if b.Len() > 0 {
		return strings.TrimSpace(b.String())
	}
	switch {
	case p.PhoneNumber != nil:
		return *p.PhoneNumber
	case p.Select != nil:
		return p.Select.Name
	case p.Date != nil:
		return p.Date.Start
	}
	return p.CreatedTime
}

func (p Property) Int64() int64 {
	if p.Number == nil {
		return 0
	}
	return int64(*p.Number)
}

func (p Property) DateStart() string {
	if p.Date == nil {
		return ""
	}
	return p.Date.Start
}

func (p Property) FileURLs() []string {
	var urls []string
	for _, f := range p.Files {
		switch {
		case f.File != nil && f.File.URL != "":
			urls = append(urls, f.File.URL)
		case f.External != nil && f.External.URL != "":
			urls = append(urls, f.External.URL)
		}
	}
	return urls
}

func (p Property) RelationID() string {
	if len(p.Relation) == 0 {
		return ""
	}
	return p.Relation[0].ID
}

// Prop returns the named property or a zero value.
func (pg Page) Prop(name string) Property {
	return pg.Properties[name]
}

func NumberValue(v int64) map[string]any {
	return map[string]any{"number": v}
}

func DateProp(start string) map[string]any {
	return map[string]any{"date": map[string]string{"start": start}}
}

func DateEquals(property, date string) map[string]any {
	return map[string]any{"property": property, "date": map[string]string{"equals": date}}
}

// DateBetween filters on_or_after start and on_or_before end; empty bounds
// are omitted.
func DateBetween(property, start, end string) map[string]any {
	var and []any
	if start != "" {
		and = append(and, map[string]any{"property": property, "date": map[string]string{"on_or_after": start}})
	}
	if end != "" {
		and = append(and, map[string]any{"property": property, "date": map[string]string{"on_or_before": end}})
	}
	if len(and) == 0 {
		return nil
	}
	return map[string]any{"and": and}
}
