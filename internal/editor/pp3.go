package editor

import (
	"bufio"
	"strconv"
	"strings"
)

// Profile is a parsed PP3 edit profile: ordered sections of ordered key=value entries.
type Profile struct {
	order    []string
	sections map[string]*section
}

type section struct {
	keys   []string
	values map[string]string
}

// NewProfile returns an empty profile.
func NewProfile() *Profile {
	return &Profile{sections: make(map[string]*section)}
}

// ParseProfile reads PP3 text. Blank lines and lines starting with ';' or '#' are ignored,
// as are entries that appear before the first section header.
func ParseProfile(text string) *Profile {
	p := NewProfile()
	current := ""

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "", strings.HasPrefix(line, ";"), strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			current = strings.TrimSpace(line[1 : len(line)-1])
			p.section(current)
		default:
			if current == "" {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			p.Set(current, strings.TrimSpace(key), strings.TrimSpace(value))
		}
	}
	return p
}

func (p *Profile) section(name string) *section {
	s, ok := p.sections[name]
	if !ok {
		s = &section{values: make(map[string]string)}
		p.sections[name] = s
		p.order = append(p.order, name)
	}
	return s
}

// Sections returns section names in file order.
func (p *Profile) Sections() []string {
	return append([]string(nil), p.order...)
}

// Get returns the raw value of key in section.
func (p *Profile) Get(sectionName, key string) (string, bool) {
	s, ok := p.sections[sectionName]
	if !ok {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// Float parses the value of key in section as a number.
func (p *Profile) Float(sectionName, key string) (float64, bool) {
	v, ok := p.Get(sectionName, key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Set writes key=value into section, creating either as needed. Existing keys keep their position.
func (p *Profile) Set(sectionName, key, value string) {
	s := p.section(sectionName)
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Merge applies every entry of diff over p.
func (p *Profile) Merge(diff *Profile) *Profile {
	if diff == nil {
		return p
	}
	for _, name := range diff.order {
		s := diff.sections[name]
		p.section(name)
		for _, key := range s.keys {
			p.Set(name, key, s.values[key])
		}
	}
	return p
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	return NewProfile().Merge(p)
}

// String renders the profile back to PP3 text.
func (p *Profile) String() string {
	var b strings.Builder
	for i, name := range p.order {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[" + name + "]\n")
		s := p.sections[name]
		for _, key := range s.keys {
			b.WriteString(key + "=" + s.values[key] + "\n")
		}
	}
	return b.String()
}

// FormatNumber formats f with three decimals, then trims trailing zeros and a dangling point.
func FormatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

const (
	whiteBalanceSection = "White Balance"
	wbSetting           = "Setting"
	wbTemperature       = "Temperature"
	wbGreen             = "Green"
)

// WhiteBalance returns the temperature and tint (green) recorded in the profile.
func (p *Profile) WhiteBalance() (temperature, tint *float64) {
	if t, ok := p.Float(whiteBalanceSection, wbTemperature); ok {
		temperature = &t
	}
	if g, ok := p.Float(whiteBalanceSection, wbGreen); ok {
		tint = &g
	}
	return temperature, tint
}

// NormalizeWhiteBalance switches a Custom white balance back to Camera when its values
// equal the ones resolved at import, so an untouched white balance is not baked into the render.
func NormalizeWhiteBalance(p *Profile, temperature, tint *float64) bool {
	if temperature == nil || tint == nil {
		return false
	}
	setting, _ := p.Get(whiteBalanceSection, wbSetting)
	if setting != "Custom" {
		return false
	}
	t, okT := p.Float(whiteBalanceSection, wbTemperature)
	g, okG := p.Float(whiteBalanceSection, wbGreen)
	if !okT || !okG {
		return false
	}
	if FormatNumber(t) != FormatNumber(*temperature) || FormatNumber(g) != FormatNumber(*tint) {
		return false
	}
	p.Set(whiteBalanceSection, wbSetting, "Camera")
	return true
}
