package xt

// Implicit pseudo-kinds. The rule's base criteria (addresses, interfaces,
// protocol, fragment flag) live in the entry header itself; registering them
// lets callers resolve whether a named match needs an explicit block.

func init() {
	for _, kind := range []string{"ip", "ipv6"} {
		register(&Schema{
			Kind:     kind,
			Class:    ClassMatch,
			Implicit: true,
			Params: []ParamSpec{
				{Name: "src", Type: TypeAddrMask, Negatable: true},
				{Name: "dst", Type: TypeAddrMask, Negatable: true},
				{Name: "in-interface", Type: TypeString, Negatable: true, MaxLen: IfNameSize},
				{Name: "out-interface", Type: TypeString, Negatable: true, MaxLen: IfNameSize},
				{Name: "protocol", Type: TypeString, Negatable: true},
			},
			encode: func(Family, map[string]string) ([]byte, error) { return nil, nil },
			decode: func(Family, []byte) (map[string]string, error) { return map[string]string{}, nil },
		})
	}
}

// IsImplicit reports whether a match kind is carried by the entry header
// rather than an explicit match block.
func IsImplicit(kind string) bool {
	s, err := Lookup(ClassMatch, kind)
	return err == nil && s.Implicit
}
