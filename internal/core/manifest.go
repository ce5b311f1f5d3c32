package core

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// Manifest holds the fields of package.json the pipelines care about.
type Manifest struct {
	Browsers []string
	Presets  []string
}

// HasPreset reports whether the babel presets include name.
func (m Manifest) HasPreset(name string) bool {
	for _, p := range m.Presets {
		if p == name || p == "babel-preset-"+name || p == "@babel/preset-"+name {
			return true
		}
	}
	return false
}

// LoadManifest reads browsers (or browserslist) and babel.presets from a
// package.json. A missing file yields an empty manifest.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return m, fmt.Errorf("parse manifest %s: invalid json", path)
	}
	doc := gjson.ParseBytes(data)

	browsers := doc.Get("browsers")
	if !browsers.Exists() {
		browsers = doc.Get("browserslist")
	}
	m.Browsers = stringList(browsers)

	// Presets are either "name" or ["name", {options}].
	doc.Get("babel.presets").ForEach(func(_, v gjson.Result) bool {
		if v.IsArray() {
			v = v.Get("0")
		}
		if v.Type == gjson.String {
			m.Presets = append(m.Presets, v.String())
		}
		return true
	})
	return m, nil
}

func stringList(r gjson.Result) []string {
	if !r.Exists() {
		return nil
	}
	if r.Type == gjson.String {
		return []string{r.String()}
	}
	var out []string
	for _, v := range r.Array() {
		if v.Type == gjson.String {
			out = append(out, v.String())
		}
	}
	return out
}
