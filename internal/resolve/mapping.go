package resolve

import (
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
)

//go:embed origins.yaml
var originsYAML []byte

// Strategy selects how a record's identity is established.
type Strategy string

const (
	// StrategyIdentifier keys records by the origin-assigned identifier.
	StrategyIdentifier Strategy = "identifier"
	// StrategyMatchKey keys records by normalized name, jurisdiction,
	// office, district and cycle when the origin has no stable identifier.
	StrategyMatchKey Strategy = "name_jurisdiction_office_cycle"
)

// Candidate attributes a mapping may populate.
const (
	AttrName          = "name"
	AttrParty         = "party"
	AttrPartyFull     = "party_full"
	AttrState         = "state"
	AttrOffice        = "office"
	AttrDistrict      = "district"
	AttrStatus        = "status"
	AttrFirstFileDate = "first_file_date"
	AttrLastFileDate  = "last_file_date"
)

var knownAttrs = map[string]bool{
	AttrName: true, AttrParty: true, AttrPartyFull: true, AttrState: true,
	AttrOffice: true, AttrDistrict: true, AttrStatus: true,
	AttrFirstFileDate: true, AttrLastFileDate: true,
}

// Flag derives a boolean attribute from a raw field's value.
type Flag struct {
	Field  string `yaml:"field"`
	Equals string `yaml:"equals"`
}

// Mapping describes how one origin system's raw records become candidates.
type Mapping struct {
	Origin       string            `yaml:"-"`
	Strategy     Strategy          `yaml:"strategy"`
	IDField      string            `yaml:"id_field"`
	Level        model.Level       `yaml:"level"`
	Jurisdiction string            `yaml:"jurisdiction"`
	SourceURL    string            `yaml:"source_url"`
	Incumbent    *Flag             `yaml:"incumbent"`
	Defaults     map[string]string `yaml:"defaults"`
	Fields       map[string]string `yaml:"fields"`
}

// Mappings indexes origin mappings by origin tag.
type Mappings map[string]*Mapping

// Origins returns the configured origin tags in sorted order.
func (m Mappings) Origins() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadMappings parses and validates the built-in origin tables.
func LoadMappings() (Mappings, error) {
	return ParseMappings(originsYAML)
}

// ParseMappings parses and validates origin tables from YAML.
func ParseMappings(data []byte) (Mappings, error) {
	var wrapper struct {
		Origins map[string]*Mapping `yaml:"origins"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "resolve: parse origin mappings")
	}
	if len(wrapper.Origins) == 0 {
		return nil, eris.New("resolve: no origins configured")
	}

	var problems []string
	for origin, m := range wrapper.Origins {
		if m == nil {
			problems = append(problems, fmt.Sprintf("%s: empty mapping", origin))
			continue
		}
		m.Origin = origin
		problems = append(problems, m.validate()...)
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, eris.Errorf("resolve: invalid origin mappings: %s", strings.Join(problems, "; "))
	}
	return Mappings(wrapper.Origins), nil
}

func (m *Mapping) validate() []string {
	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, m.Origin+": "+fmt.Sprintf(format, args...))
	}

	switch m.Strategy {
	case StrategyIdentifier:
		if m.IDField == "" {
			bad("id_field is required for the %s strategy", StrategyIdentifier)
		}
	case StrategyMatchKey:
	default:
		bad("unknown strategy %q", m.Strategy)
	}

	switch m.Level {
	case model.LevelFederal, model.LevelState, model.LevelLocal:
	default:
		bad("unknown level %q", m.Level)
	}

	if m.Fields[AttrName] == "" {
		bad("fields.%s is required", AttrName)
	}
	for attr := range m.Fields {
		if !knownAttrs[attr] {
			bad("unknown attribute %q", attr)
		}
	}
	for attr := range m.Defaults {
		if !knownAttrs[attr] {
			bad("unknown default attribute %q", attr)
		}
	}
	if m.Incumbent != nil && m.Incumbent.Field == "" {
		bad("incumbent.field is required")
	}
	return problems
}

// Candidate maps a raw record onto a new, unsaved candidate.
func (m *Mapping) Candidate(raw map[string]any, cycle int) *model.Candidate {
	attr := func(name string) string {
		if field := m.Fields[name]; field != "" {
			if v := str(raw[field]); v != "" {
				return v
			}
		}
		return m.Defaults[name]
	}

	c := &model.Candidate{
		Name:          attr(AttrName),
		Party:         strings.ToUpper(attr(AttrParty)),
		PartyFull:     attr(AttrPartyFull),
		Level:         m.Level,
		Jurisdiction:  m.Jurisdiction,
		State:         strings.ToUpper(attr(AttrState)),
		Office:        attr(AttrOffice),
		District:      attr(AttrDistrict),
		Cycle:         cycle,
		Origin:        m.Origin,
		Status:        attr(AttrStatus),
		FirstFileDate: attr(AttrFirstFileDate),
		LastFileDate:  attr(AttrLastFileDate),
	}
	if m.IDField != "" {
		c.OriginID = model.StringPtr(str(raw[m.IDField]))
	}
	if m.Incumbent != nil {
		c.Incumbent = strings.EqualFold(str(raw[m.Incumbent.Field]), m.Incumbent.Equals)
	}
	if m.SourceURL != "" && c.HasOriginID() {
		c.SourceURL = strings.ReplaceAll(m.SourceURL, "{id}", c.OriginIDValue())
	}
	c.MatchKey = MatchKey(c)
	return c
}

// str renders a decoded JSON value as trimmed text.
func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
