package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk catalog format.
//
//	items:
//	  - symbol: ASML
//	    rollup: ASML
//	    currency: EUR
//	    exchange: SMART
//	    primary_exchange: AEB
//	  - symbol: ASML
//	    kind: OPT
//	    currency: EUR
//	    strike: 650
//	    expiry: "2025-12-19"
//	    right: call
type File struct {
	Items []Descriptor `yaml:"items"`
}

// Load decodes a YAML catalog from r. The default filters drop items
// without a symbol or currency.
func Load(r io.Reader, filters ...Filter) (*Catalog, error) {
	var f File
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(filters) == 0 {
		filters = []Filter{RequireSymbol, RequireCurrency}
	}
	return New(f.Items, filters...), nil
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string, filters ...Filter) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog file not found: %s", path)
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Load(bytes.NewReader(b), filters...)
}
