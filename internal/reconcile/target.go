package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/ampersand-strategies/candidate-tracker/internal/metrics"
	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/resilience"
	"github.com/ampersand-strategies/candidate-tracker/pkg/airtable"
	"github.com/ampersand-strategies/candidate-tracker/pkg/notion"
)

// Record is one downstream row.
type Record struct {
	ID     string
	Fields Fields
}

// Target is a downstream table store the engine projects into.
type Target interface {
	// ListRecords returns every record of table, following continuation
	// tokens to the end.
	ListRecords(ctx context.Context, table string) ([]Record, error)
	// CreateRecords creates at most MaxBatch records. Returned records are
	// in input order; on error the records created before the failure are
	// still returned.
	CreateRecords(ctx context.Context, table string, rows []Fields) ([]Record, error)
	MaxBatch() int
}

// AirtableTarget writes to an Airtable base.
type AirtableTarget struct {
	client airtable.Client
	retry  resilience.RetryConfig
}

// NewAirtableTarget wraps an Airtable client. Rate-limited creates are
// retried with retry; a 429 on create means nothing was written, so the
// whole batch is safe to resend. Listing retries per page inside the client
// (airtable.WithRetry).
func NewAirtableTarget(client airtable.Client, retry resilience.RetryConfig) *AirtableTarget {
	retry.OnRetry = resilience.RetryLogger("airtable", "create_records")
	return &AirtableTarget{client: client, retry: retry}
}

func (t *AirtableTarget) MaxBatch() int { return airtable.MaxBatch }

func (t *AirtableTarget) ListRecords(ctx context.Context, table string) ([]Record, error) {
	recs, err := t.client.ListRecords(ctx, table)
	metrics.RecordCall("airtable", "list_records", err)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = Record{ID: r.ID, Fields: Fields(r.Fields)}
	}
	return out, nil
}

func (t *AirtableTarget) CreateRecords(ctx context.Context, table string, rows []Fields) ([]Record, error) {
	in := make([]airtable.Fields, len(rows))
	for i, row := range rows {
		f := make(airtable.Fields, len(row))
		for k, v := range row {
			if link, ok := v.(Link); ok {
				v = []string(link)
			}
			f[k] = v
		}
		in[i] = f
	}

	recs, err := resilience.DoVal(ctx, t.retry, func(ctx context.Context) ([]airtable.Record, error) {
		recs, err := t.client.CreateRecords(ctx, table, in)
		metrics.RecordCall("airtable", "create_records", err)
		return recs, err
	})
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = Record{ID: r.ID, Fields: Fields(r.Fields)}
	}
	return out, nil
}

// NotionDatabase binds a table name to a Notion database and its layout.
type NotionDatabase struct {
	ID     string
	Schema Schema
}

// NotionTarget writes to Notion databases, one page per call.
type NotionTarget struct {
	client    notion.Client
	databases map[string]NotionDatabase
	retry     resilience.RetryConfig
}

// NewNotionTarget wraps a Notion client. databases maps table names to
// database ids and schemas.
func NewNotionTarget(client notion.Client, databases map[string]NotionDatabase, retry resilience.RetryConfig) *NotionTarget {
	retry.OnRetry = resilience.RetryLogger("notion", "create_page")
	return &NotionTarget{client: client, databases: databases, retry: retry}
}

// MaxBatch keeps the Airtable batch boundary so failures are accounted for
// in the same units on either target.
func (t *NotionTarget) MaxBatch() int { return airtable.MaxBatch }

func (t *NotionTarget) ListRecords(ctx context.Context, table string) ([]Record, error) {
	db, err := t.database(table)
	if err != nil {
		return nil, err
	}
	pages, err := resilience.DoVal(ctx, t.retry, func(ctx context.Context) ([]notionapi.Page, error) {
		pages, err := notion.QueryAll(ctx, t.client, db.ID, nil)
		metrics.RecordCall("notion", "query_database", err)
		return pages, err
	})
	if err != nil {
		return nil, err
	}

	out := make([]Record, len(pages))
	for i, p := range pages {
		fields := make(Fields, len(db.Schema))
		for _, spec := range db.Schema {
			if spec.Kind == KindLink {
				continue
			}
			if prop, ok := p.Properties[spec.Name]; ok {
				fields[spec.Name] = notion.PlainText(prop)
			}
		}
		out[i] = Record{ID: string(p.ID), Fields: fields}
	}
	return out, nil
}

func (t *NotionTarget) CreateRecords(ctx context.Context, table string, rows []Fields) ([]Record, error) {
	db, err := t.database(table)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(rows))
	for i, row := range rows {
		props, err := notionProperties(db.Schema, row)
		if err != nil {
			return out, resilience.NewPermanentError(eris.Wrapf(err, "notion: row %d", i+1), 0, "")
		}
		page, err := resilience.DoVal(ctx, t.retry, func(ctx context.Context) (*notionapi.Page, error) {
			page, err := notion.CreateInDatabase(ctx, t.client, db.ID, props)
			metrics.RecordCall("notion", "create_page", err)
			return page, err
		})
		if err != nil {
			return out, err
		}
		out = append(out, Record{ID: string(page.ID), Fields: row})
	}
	return out, nil
}

func (t *NotionTarget) database(table string) (NotionDatabase, error) {
	db, ok := t.databases[table]
	if !ok || db.ID == "" {
		return NotionDatabase{}, resilience.NewPermanentError(eris.Errorf("notion: no database configured for table %q", table), 0, "")
	}
	return db, nil
}

// notionProperties converts a row into page properties following schema.
// Fields absent from the schema are ignored.
func notionProperties(schema Schema, row Fields) (notionapi.Properties, error) {
	props := make(notionapi.Properties, len(row))
	for _, spec := range schema {
		v, ok := row[spec.Name]
		if !ok || v == nil {
			continue
		}
		switch spec.Kind {
		case KindTitle:
			props[spec.Name] = notion.Title(fmt.Sprint(v))
		case KindText:
			props[spec.Name] = notion.Text(fmt.Sprint(v))
		case KindSelect:
			props[spec.Name] = notion.Select(fmt.Sprint(v))
		case KindURL:
			props[spec.Name] = notion.URL(fmt.Sprint(v))
		case KindCheckbox:
			b, ok := v.(bool)
			if !ok {
				return nil, eris.Errorf("field %q: want bool, got %T", spec.Name, v)
			}
			props[spec.Name] = notion.Checkbox(b)
		case KindNumber:
			n, err := toFloat(v)
			if err != nil {
				return nil, eris.Wrapf(err, "field %q", spec.Name)
			}
			props[spec.Name] = notion.Number(n)
		case KindDate:
			d, err := time.Parse(model.PeriodLayout, fmt.Sprint(v))
			if err != nil {
				return nil, eris.Wrapf(err, "field %q", spec.Name)
			}
			props[spec.Name] = notion.Date(d)
		case KindLink:
			link, ok := v.(Link)
			if !ok {
				return nil, eris.Errorf("field %q: want link, got %T", spec.Name, v)
			}
			props[spec.Name] = notion.Relation(link...)
		}
	}
	return props, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, eris.Errorf("want number, got %T", v)
	}
}
