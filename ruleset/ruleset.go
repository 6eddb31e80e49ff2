// Package ruleset loads declarative firewall rulesets from HCL files,
// builds table images from them, and writes them back out as HCL or YAML.
//
// A ruleset file holds one family and any number of tables:
//
//	family = "ipv4"
//
//	table "filter" {
//	  chain "INPUT" {
//	    policy = "DROP"
//	    rule {
//	      protocol = "tcp"
//	      match "tcp" { params = { dport = "22" } }
//	      target = "ACCEPT"
//	    }
//	  }
//	}
//
// Rule criteria and match/target parameters use the same string forms as
// the object model, including "!" negation and the trailing "+" interface
// wildcard.
package ruleset

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/ferrule"
)

// Ruleset is the top-level HCL document.
type Ruleset struct {
	Family string       `hcl:"family,optional" yaml:"family"`
	Tables []TableBlock `hcl:"table,block" yaml:"tables"`
}

// TableBlock declares one kernel table.
type TableBlock struct {
	Name   string       `hcl:"name,label" yaml:"name"`
	Chains []ChainBlock `hcl:"chain,block" yaml:"chains"`
}

// ChainBlock declares a chain. Built-in chain names configure the existing
// chain; any other name creates a user chain.
type ChainBlock struct {
	Name   string      `hcl:"name,label" yaml:"name"`
	Policy string      `hcl:"policy,optional" yaml:"policy,omitempty"`
	Rules  []RuleBlock `hcl:"rule,block" yaml:"rules"`
}

// RuleBlock declares one rule. Target names that are not registered target
// kinds are treated as jumps to user chains in the same table.
type RuleBlock struct {
	Protocol     string            `hcl:"protocol,optional" yaml:"protocol,omitempty"`
	Source       string            `hcl:"source,optional" yaml:"source,omitempty"`
	Destination  string            `hcl:"destination,optional" yaml:"destination,omitempty"`
	InInterface  string            `hcl:"in_interface,optional" yaml:"in_interface,omitempty"`
	OutInterface string            `hcl:"out_interface,optional" yaml:"out_interface,omitempty"`
	Fragment     bool              `hcl:"fragment,optional" yaml:"fragment,omitempty"`
	NotFragment  bool              `hcl:"not_fragment,optional" yaml:"not_fragment,omitempty"`
	Matches      []MatchBlock      `hcl:"match,block" yaml:"matches,omitempty"`
	Target       string            `hcl:"target" yaml:"target"`
	Options      map[string]string `hcl:"options,optional" yaml:"options,omitempty"`
}

// MatchBlock attaches one match extension to a rule.
type MatchBlock struct {
	Kind   string            `hcl:"kind,label" yaml:"kind"`
	Params map[string]string `hcl:"params,optional" yaml:"params,omitempty"`
}

// Load reads and decodes a ruleset file.
func Load(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes ruleset HCL. The filename appears in diagnostics.
func Parse(data []byte, filename string) (*Ruleset, error) {
	var rs Ruleset
	if err := hclsimple.Decode(filename, data, nil, &rs); err != nil {
		return nil, fmt.Errorf("decode ruleset: %w", err)
	}
	if _, err := rs.family(); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (rs *Ruleset) family() (ferrule.Family, error) {
	switch rs.Family {
	case "", "ipv4":
		return ferrule.IPv4, nil
	case "ipv6":
		return ferrule.IPv6, nil
	}
	return 0, fmt.Errorf("unknown family %q", rs.Family)
}
