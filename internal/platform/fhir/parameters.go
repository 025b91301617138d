package fhir

// Parameters is the FHIR Parameters resource used as the in/out envelope of
// the terminology operations.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter"`
}

// Parameter is a single name/value[x] pair. Exactly one value is set, or
// Part for nested parameters.
type Parameter struct {
	Name         string      `json:"name"`
	ValueString  *string     `json:"valueString,omitempty"`
	ValueCode    *string     `json:"valueCode,omitempty"`
	ValueURI     *string     `json:"valueUri,omitempty"`
	ValueBoolean *bool       `json:"valueBoolean,omitempty"`
	ValueInteger *int        `json:"valueInteger,omitempty"`
	ValueDecimal *float64    `json:"valueDecimal,omitempty"`
	ValueCoding  *Coding     `json:"valueCoding,omitempty"`
	Part         []Parameter `json:"part,omitempty"`
}

func NewParameters(params ...Parameter) *Parameters {
	if params == nil {
		params = []Parameter{}
	}
	return &Parameters{ResourceType: "Parameters", Parameter: params}
}

// Add appends parameters and returns the receiver for chaining.
func (p *Parameters) Add(params ...Parameter) *Parameters {
	p.Parameter = append(p.Parameter, params...)
	return p
}

// Get returns the first parameter with the given name.
func (p *Parameters) Get(name string) (Parameter, bool) {
	for _, param := range p.Parameter {
		if param.Name == name {
			return param, true
		}
	}
	return Parameter{}, false
}

// String returns the textual value of a parameter regardless of which
// primitive slot carries it.
func (p Parameter) String() string {
	switch {
	case p.ValueString != nil:
		return *p.ValueString
	case p.ValueCode != nil:
		return *p.ValueCode
	case p.ValueURI != nil:
		return *p.ValueURI
	}
	return ""
}

func StringParam(name, v string) Parameter { return Parameter{Name: name, ValueString: &v} }

func CodeParam(name, v string) Parameter { return Parameter{Name: name, ValueCode: &v} }

func URIParam(name, v string) Parameter { return Parameter{Name: name, ValueURI: &v} }

func BoolParam(name string, v bool) Parameter { return Parameter{Name: name, ValueBoolean: &v} }

func IntParam(name string, v int) Parameter { return Parameter{Name: name, ValueInteger: &v} }

func DecimalParam(name string, v float64) Parameter { return Parameter{Name: name, ValueDecimal: &v} }

func CodingParam(name string, c Coding) Parameter { return Parameter{Name: name, ValueCoding: &c} }

func PartParam(name string, parts ...Parameter) Parameter { return Parameter{Name: name, Part: parts} }
