package xt

import "fmt"

// Standard targets: the four kernel verdicts. Their blocks carry an empty
// extension name and an xt_standard_target payload whose verdict is either
// a negative verdict code or, for jumps, a non-negative byte offset into the
// table blob. Jump blocks are produced by the table serializer, which alone
// knows chain offsets.

func init() {
	for _, t := range []struct {
		kind    string
		verdict int32
	}{
		{"ACCEPT", VerdictAccept},
		{"DROP", VerdictDrop},
		{"QUEUE", VerdictQueue},
		{"RETURN", VerdictReturn},
	} {
		verdict := t.verdict
		register(&Schema{
			Kind:        t.kind,
			Class:       ClassTarget,
			PayloadSize: 8,
			Standard:    true,
			Verdict:     verdict,
			encode: func(Family, map[string]string) ([]byte, error) {
				b := make([]byte, 8)
				NativeEndian.PutUint32(b, uint32(verdict))
				return b, nil
			},
			decode: func(Family, []byte) (map[string]string, error) {
				return map[string]string{}, nil
			},
		})
	}
}

// MarshalStandardTarget builds a complete standard-target block.
func MarshalStandardTarget(verdict int32) []byte {
	b := make([]byte, SizeOfStandardTarget)
	hdr := BlockHeader{Size: SizeOfStandardTarget}
	hdr.Marshal(b)
	NativeEndian.PutUint32(b[SizeOfBlockHeader:], uint32(verdict))
	return b
}

// UnmarshalStandardTarget extracts the verdict from a standard-target block.
func UnmarshalStandardTarget(b []byte) (int32, error) {
	if len(b) < SizeOfStandardTarget {
		return 0, fmt.Errorf("xt: truncated standard target: %d bytes", len(b))
	}
	return int32(NativeEndian.Uint32(b[SizeOfBlockHeader:])), nil
}

// VerdictKind maps a negative standard verdict back to its target kind name.
func VerdictKind(verdict int32) (string, error) {
	switch verdict {
	case VerdictAccept:
		return "ACCEPT", nil
	case VerdictDrop:
		return "DROP", nil
	case VerdictQueue:
		return "QUEUE", nil
	case VerdictReturn:
		return "RETURN", nil
	}
	return "", fmt.Errorf("xt: unknown standard verdict %d", verdict)
}

// MarshalErrorTarget builds an error-target block. These delimit chains in
// the serialized table: the name is either a user chain's name or
// ErrorTargetName for the table's terminator.
func MarshalErrorTarget(name string) []byte {
	b := make([]byte, SizeOfErrorTarget)
	hdr := BlockHeader{Size: SizeOfErrorTarget, Name: ErrorTargetName}
	hdr.Marshal(b)
	copy(b[SizeOfBlockHeader:SizeOfBlockHeader+FunctionMaxLen], name)
	return b
}

// UnmarshalErrorTarget extracts the chain name from an error-target block.
func UnmarshalErrorTarget(b []byte) (string, error) {
	if len(b) < SizeOfErrorTarget {
		return "", fmt.Errorf("xt: truncated error target: %d bytes", len(b))
	}
	return cString(b[SizeOfBlockHeader : SizeOfBlockHeader+FunctionMaxLen]), nil
}
