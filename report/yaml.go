package report

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/enotvtapke/virtual-machines-cub/pkg/bytecode"
)

type listingLine struct {
	Offset      string `yaml:"offset"`
	Instruction string `yaml:"instruction"`
}

type listingDoc struct {
	Globals int           `yaml:"globals"`
	Publics []publicLine  `yaml:"publics,omitempty"`
	Code    []listingLine `yaml:"code"`
	Error   string        `yaml:"error,omitempty"`
}

type publicLine struct {
	Name   string `yaml:"name"`
	Offset string `yaml:"offset"`
}

// ListingYAML renders the disassembly of img as a YAML document. A decode
// error ends the code list and is recorded in the document, not returned.
func ListingYAML(img *bytecode.Image) ([]byte, error) {
	entries, derr := bytecode.Disassemble(img)

	doc := listingDoc{Globals: img.GlobalWords()}
	for _, p := range img.Publics() {
		doc.Publics = append(doc.Publics, publicLine{Name: p.Name, Offset: fmt.Sprintf("0x%08x", p.CodeOffset)})
	}
	for _, e := range entries {
		doc.Code = append(doc.Code, listingLine{Offset: fmt.Sprintf("0x%04x", e.Offset), Instruction: e.Instr.String()})
	}
	if derr != nil {
		doc.Error = derr.Error()
	}
	return yaml.Marshal(&doc)
}

// ReportYAML renders r as a YAML document.
func ReportYAML(r *Report) ([]byte, error) {
	return yaml.Marshal(r)
}
