package notion

import (
	"strconv"
	"strings"
	"time"

	"github.com/jomei/notionapi"
)

// Title builds a title property.
func Title(v string) notionapi.Property {
	return notionapi.TitleProperty{Title: richText(v)}
}

// Text builds a rich text property.
func Text(v string) notionapi.Property {
	return notionapi.RichTextProperty{RichText: richText(v)}
}

// Number builds a number property.
func Number(v float64) notionapi.Property {
	return notionapi.NumberProperty{Number: v}
}

// Checkbox builds a checkbox property.
func Checkbox(v bool) notionapi.Property {
	return notionapi.CheckboxProperty{Checkbox: v}
}

// URL builds a URL property.
func URL(v string) notionapi.Property {
	return notionapi.URLProperty{URL: v}
}

// Select builds a select property with the named option.
func Select(v string) notionapi.Property {
	return notionapi.SelectProperty{Select: notionapi.Option{Name: v}}
}

// Date builds a date property holding a single day.
func Date(t time.Time) notionapi.Property {
	d := notionapi.Date(t)
	return notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
}

// Relation builds a relation property pointing at the given page ids.
func Relation(pageIDs ...string) notionapi.Property {
	rel := make([]notionapi.Relation, 0, len(pageIDs))
	for _, id := range pageIDs {
		rel = append(rel, notionapi.Relation{ID: notionapi.PageID(id)})
	}
	return notionapi.RelationProperty{Relation: rel}
}

func richText(v string) []notionapi.RichText {
	return []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: v}}}
}

// PlainText renders a page property as a string. Pages returned by the API
// carry pointer properties; builders above produce values, so both are handled.
// Unknown property types render as "".
func PlainText(p notionapi.Property) string {
	switch v := p.(type) {
	case *notionapi.TitleProperty:
		return joinRichText(v.Title)
	case notionapi.TitleProperty:
		return joinRichText(v.Title)
	case *notionapi.RichTextProperty:
		return joinRichText(v.RichText)
	case notionapi.RichTextProperty:
		return joinRichText(v.RichText)
	case *notionapi.NumberProperty:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case notionapi.NumberProperty:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case *notionapi.CheckboxProperty:
		return strconv.FormatBool(v.Checkbox)
	case notionapi.CheckboxProperty:
		return strconv.FormatBool(v.Checkbox)
	case *notionapi.URLProperty:
		return v.URL
	case notionapi.URLProperty:
		return v.URL
	case *notionapi.SelectProperty:
		return v.Select.Name
	case notionapi.SelectProperty:
		return v.Select.Name
	case *notionapi.DateProperty:
		return dateText(v.Date)
	case notionapi.DateProperty:
		return dateText(v.Date)
	default:
		return ""
	}
}

func joinRichText(parts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range parts {
		switch {
		case rt.PlainText != "":
			b.WriteString(rt.PlainText)
		case rt.Text != nil:
			b.WriteString(rt.Text.Content)
		}
	}
	return b.String()
}

func dateText(d *notionapi.DateObject) string {
	if d == nil || d.Start == nil {
		return ""
	}
	return time.Time(*d.Start).Format("2006-01-02")
}
