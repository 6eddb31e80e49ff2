package ruleset

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	yaml "gopkg.in/yaml.v2"
)

// RenderHCL produces the document as formatted HCL.
func (rs *Ruleset) RenderHCL() []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	if rs.Family != "" {
		body.SetAttributeValue("family", cty.StringVal(rs.Family))
		body.AppendNewline()
	}
	for _, tb := range rs.Tables {
		tBlock := body.AppendNewBlock("table", []string{tb.Name})
		tBody := tBlock.Body()
		for _, cb := range tb.Chains {
			cBlock := tBody.AppendNewBlock("chain", []string{cb.Name})
			cBody := cBlock.Body()
			if cb.Policy != "" {
				cBody.SetAttributeValue("policy", cty.StringVal(cb.Policy))
			}
			for _, rb := range cb.Rules {
				appendRuleBlock(cBody, rb)
			}
		}
		body.AppendNewline()
	}
	return f.Bytes()
}

func appendRuleBlock(body *hclwrite.Body, rb RuleBlock) {
	rBody := body.AppendNewBlock("rule", nil).Body()
	setOpt := func(name, v string) {
		if v != "" {
			rBody.SetAttributeValue(name, cty.StringVal(v))
		}
	}
	setOpt("protocol", rb.Protocol)
	setOpt("source", rb.Source)
	setOpt("destination", rb.Destination)
	setOpt("in_interface", rb.InInterface)
	setOpt("out_interface", rb.OutInterface)
	if rb.Fragment {
		rBody.SetAttributeValue("fragment", cty.BoolVal(true))
	}
	if rb.NotFragment {
		rBody.SetAttributeValue("not_fragment", cty.BoolVal(true))
	}
	for _, mb := range rb.Matches {
		mBody := rBody.AppendNewBlock("match", []string{mb.Kind}).Body()
		if len(mb.Params) > 0 {
			mBody.SetAttributeValue("params", ctyStringMap(mb.Params))
		}
	}
	rBody.SetAttributeValue("target", cty.StringVal(rb.Target))
	if len(rb.Options) > 0 {
		rBody.SetAttributeValue("options", ctyStringMap(rb.Options))
	}
}

func ctyStringMap(m map[string]string) cty.Value {
	vals := make(map[string]cty.Value, len(m))
	for k, v := range m {
		vals[k] = cty.StringVal(v)
	}
	return cty.MapVal(vals)
}

// Save writes the document to a file as formatted HCL.
func (rs *Ruleset) Save(path string) error {
	if err := os.WriteFile(path, rs.RenderHCL(), 0o644); err != nil {
		return fmt.Errorf("write ruleset: %w", err)
	}
	return nil
}

// RenderYAML produces the document as YAML, for interchange with tooling
// that does not speak HCL.
func (rs *Ruleset) RenderYAML() ([]byte, error) {
	out, err := yaml.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("encode ruleset: %w", err)
	}
	return out, nil
}

// ParseYAML decodes a YAML document produced by RenderYAML.
func ParseYAML(data []byte) (*Ruleset, error) {
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("decode ruleset: %w", err)
	}
	if _, err := rs.family(); err != nil {
		return nil, err
	}
	return &rs, nil
}
