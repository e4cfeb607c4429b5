package income

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/mspharm/libs/notion"
)

// DateProperty names the date column of the legacy Notion database.
const DateProperty = "날짜"

// Legacy column names; the register total was entered as "Pos".
var notionFields = struct {
	Cas5, Cas1, Gif, Car1, Car2, Person, Pos string
}{"cas5", "cas1", "gif", "car1", "car2", "person", "Pos"}

// NotionStore keeps days in the Notion database the shop used before
// Postgres. Saved is called after each successful write so the service can
// still publish the saved event.
type NotionStore struct {
	client     *notion.Client
	databaseID string
	saved      func(context.Context, Day) error
}

func NewNotionStore(client *notion.Client, databaseID string, saved func(context.Context, Day) error) *NotionStore {
	return &NotionStore{client: client, databaseID: databaseID, saved: saved}
}

func (s *NotionStore) Get(ctx context.Context, date string) (Day, bool, error) {
	page, err := s.find(ctx, date)
	if err != nil || page == nil {
		return Day{}, false, err
	}
	return DayFromPage(*page), true, nil
}

func (s *NotionStore) find(ctx context.Context, date string) (*notion.Page, error) {
	resp, err := s.client.QueryDatabase(ctx, s.databaseID, notion.QueryRequest{
		Filter:   notion.DateEquals(DateProperty, date),
		PageSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("query notion day %s: %w", date, err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

func (s *NotionStore) Save(ctx context.Context, day Day) (Day, error) {
	existing, err := s.find(ctx, day.Date)
	if err != nil {
		return Day{}, err
	}
	props := pageProps(day)
	var page *notion.Page
	if existing != nil {
		page, err = s.client.UpdatePage(ctx, existing.ID, props)
	} else {
		props[DateProperty] = notion.DateProp(day.Date)
		page, err = s.client.CreatePage(ctx, s.databaseID, props)
	}
	if err != nil {
		return Day{}, fmt.Errorf("save notion day %s: %w", day.Date, err)
	}
	saved := DayFromPage(*page)
	if saved.Date == "" {
		saved = day
	}
	if s.saved != nil {
		if err := s.saved(ctx, saved); err != nil {
			return Day{}, err
		}
	}
	return saved, nil
}

func (s *NotionStore) Range(ctx context.Context, from, to string) ([]Day, error) {
	req := notion.QueryRequest{Sorts: []notion.Sort{{Property: DateProperty, Direction: "ascending"}}}
	if f := notion.DateBetween(DateProperty, from, to); f != nil {
		req.Filter = f
	}
	var out []Day
	err := s.client.QueryAll(ctx, s.databaseID, req, func(pages []notion.Page) error {
		for _, p := range pages {
			d := DayFromPage(p)
			// Notion date filters compare datetimes; keep the calendar bounds exact.
			if d.Date == "" || (from != "" && d.Date < from) || (to != "" && d.Date > to) {
				continue
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

// DayFromPage reads a legacy row. Datetimes in the date column are cut to
// the calendar day.
func DayFromPage(p notion.Page) Day {
	date := p.Prop(DateProperty).DateStart()
	if len(date) > len(DateLayout) {
		date = date[:len(DateLayout)]
	}
	return Day{
		Date:   date,
		Cas5:   p.Prop(notionFields.Cas5).Int64(),
		Cas1:   p.Prop(notionFields.Cas1).Int64(),
		Gif:    p.Prop(notionFields.Gif).Int64(),
		Car1:   p.Prop(notionFields.Car1).Int64(),
		Car2:   p.Prop(notionFields.Car2).Int64(),
		Person: p.Prop(notionFields.Person).Int64(),
		Pos:    p.Prop(notionFields.Pos).Int64(),
	}
}

func pageProps(d Day) map[string]any {
	return map[string]any{
		notionFields.Cas5:   notion.NumberValue(d.Cas5),
		notionFields.Cas1:   notion.NumberValue(d.Cas1),
		notionFields.Gif:    notion.NumberValue(d.Gif),
		notionFields.Car1:   notion.NumberValue(d.Car1),
		notionFields.Car2:   notion.NumberValue(d.Car2),
		notionFields.Person: notion.NumberValue(d.Person),
		notionFields.Pos:    notion.NumberValue(d.Pos),
	}
}
