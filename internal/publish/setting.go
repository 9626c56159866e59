package publish

import "strings"

// Kind distinguishes the forms of the publish address setting.
type Kind int

const (
	// Unset means no publish address is configured.
	Unset Kind = iota
	// Literal holds an address or host name to advertise as is.
	Literal
	// InterfaceRef names a network interface whose address is advertised.
	InterfaceRef
)

func (k Kind) String() string {
	switch k {
	case Literal:
		return "literal"
	case InterfaceRef:
		return "interface"
	default:
		return "unset"
	}
}

// Setting is the parsed value of cse.service.publishAddress.
type Setting struct {
	Kind  Kind
	Value string // address for Literal, interface name for InterfaceRef
}

// ParseSetting parses a configuration string: empty is Unset, {name} is an
// InterfaceRef and anything else is a Literal.
func ParseSetting(s string) Setting {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Setting{Kind: Unset}
	case len(s) >= 2 && strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
		return Setting{Kind: InterfaceRef, Value: s[1 : len(s)-1]}
	default:
		return Setting{Kind: Literal, Value: s}
	}
}
