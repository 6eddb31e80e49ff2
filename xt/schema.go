package xt

import (
	"fmt"
	"sort"
)

// Class distinguishes match schemas from target schemas.
type Class int

const (
	ClassMatch Class = iota
	ClassTarget
)

func (c Class) String() string {
	if c == ClassTarget {
		return "target"
	}
	return "match"
}

// ParamType is the semantic type of a parameter. Values are always passed as
// strings; the type selects the parser and canonical formatter.
type ParamType int

const (
	TypeString ParamType = iota
	TypePort             // single port or "low:high" range
	TypePortList         // comma-separated ports and "low:high" ranges
	TypeAddrMask         // address in CIDR or addr/mask form
	TypeAddrRange        // "low-high" address range
	TypeNATRange         // "addr[-addr][:port[-port]]"
	TypeU32              // decimal or 0x-hex unsigned integer
	TypeMark             // "value[/mask]", decimal or 0x-hex
	TypeTCPFlags         // "MASK/CMP" comma lists of flag names
	TypeStateList        // comma-separated conntrack states
	TypeRate             // "count/second|minute|hour|day"
	TypeEnum             // one of ParamSpec.Enum
)

// ParamSpec describes one named parameter of a match or target kind.
type ParamSpec struct {
	Name      string
	Type      ParamType
	Negatable bool
	Default   string // canonical default; "" means unset/omitted
	Enum      []string
	MaxLen    int // for TypeString; 0 means unbounded
}

// Schema describes one match or target kind: its identity, parameter table
// and the binary codec for its payload.
type Schema struct {
	Kind        string
	Class       Class
	Revision    uint8
	PayloadSize int
	Params      []ParamSpec

	// Protocol restricts the kind to rules whose protocol field holds this
	// transport protocol. Zero means the kind is protocol-agnostic. Kinds
	// with a non-zero Protocol define the rule's transport protocol and are
	// mutually exclusive with each other.
	Protocol uint16

	// Implicit kinds have no explicit block in the serialized rule; their
	// parameters live in the entry header itself.
	Implicit bool

	// Standard marks the four verdict targets. Their blocks carry an empty
	// extension name and Verdict as the payload.
	Standard bool
	Verdict  int32

	encode func(f Family, p map[string]string) ([]byte, error)
	decode func(f Family, b []byte) (map[string]string, error)
}

// Param returns the descriptor for a named parameter, or nil.
func (s *Schema) Param(name string) *ParamSpec {
	for i := range s.Params {
		if s.Params[i].Name == name {
			return &s.Params[i]
		}
	}
	return nil
}

// Defaults returns the kind's parameter map populated with declared defaults.
func (s *Schema) Defaults() map[string]string {
	p := make(map[string]string)
	for _, ps := range s.Params {
		if ps.Default != "" {
			p[ps.Name] = ps.Default
		}
	}
	return p
}

// Validate checks a single name/value pair against the schema and returns the
// canonical form of the value. A leading "!" negates the parameter and is
// preserved in the canonical form.
func (s *Schema) Validate(f Family, name, value string) (string, error) {
	ps := s.Param(name)
	if ps == nil {
		return "", fmt.Errorf("%w: %q has no parameter %q", ErrUnknownParameter, s.Kind, name)
	}
	neg := false
	if len(value) > 0 && value[0] == '!' {
		if !ps.Negatable {
			return "", fmt.Errorf("%w: %s.%s cannot be negated", ErrInvalidParameter, s.Kind, name)
		}
		neg = true
		value = value[1:]
	}
	canon, err := canonicalValue(f, ps, value)
	if err != nil {
		return "", fmt.Errorf("%w: %s.%s: %v", ErrInvalidParameter, s.Kind, name, err)
	}
	if neg {
		canon = "!" + canon
	}
	return canon, nil
}

// Encode builds the kind's binary payload from a full parameter map. Values
// must already be canonical (see Validate).
func (s *Schema) Encode(f Family, params map[string]string) ([]byte, error) {
	for name := range params {
		if s.Param(name) == nil {
			return nil, fmt.Errorf("%w: %q has no parameter %q", ErrUnknownParameter, s.Kind, name)
		}
	}
	return s.encode(f, params)
}

// Decode recovers the canonical parameter map from a binary payload.
// Parameters holding their default value are omitted.
func (s *Schema) Decode(f Family, payload []byte) (map[string]string, error) {
	if len(payload) < s.PayloadSize {
		return nil, fmt.Errorf("xt: %s %q: truncated payload (%d bytes, want %d)",
			s.Class, s.Kind, len(payload), s.PayloadSize)
	}
	return s.decode(f, payload)
}

// BlockSize is the full serialized size of the kind's block: header plus
// payload, padded to 8 bytes.
func (s *Schema) BlockSize() int {
	return Align8(SizeOfBlockHeader + s.PayloadSize)
}

// MarshalBlock serializes a complete match/target block for the kind.
func (s *Schema) MarshalBlock(f Family, params map[string]string) ([]byte, error) {
	payload, err := s.Encode(f, params)
	if err != nil {
		return nil, err
	}
	b := make([]byte, s.BlockSize())
	hdr := BlockHeader{Size: uint16(len(b)), Name: s.Kind, Revision: s.Revision}
	hdr.Marshal(b)
	copy(b[SizeOfBlockHeader:], payload)
	return b, nil
}

var registry = map[Class]map[string]*Schema{
	ClassMatch:  {},
	ClassTarget: {},
}

// register adds a schema to the catalog. Called from init functions of the
// per-kind files; duplicate registration is a programming error.
func register(s *Schema) {
	if _, ok := registry[s.Class][s.Kind]; ok {
		panic(fmt.Sprintf("xt: duplicate %s kind %q", s.Class, s.Kind))
	}
	registry[s.Class][s.Kind] = s
}

// Lookup returns the schema for a kind, or ErrUnsupportedKind.
func Lookup(c Class, kind string) (*Schema, error) {
	s, ok := registry[c][kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrUnsupportedKind, c, kind)
	}
	return s, nil
}

// Kinds lists the registered kinds of a class, sorted by name.
func Kinds(c Class) []string {
	names := make([]string, 0, len(registry[c]))
	for k := range registry[c] {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
