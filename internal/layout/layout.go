// Package layout provides keyboard key geometry: a built-in QWERTY layout
// and YAML layout files.
package layout

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/glide/internal/model"
)

// File is the YAML layout format. Rows are laid out top to bottom; each row
// may be shifted right by Offset key widths.
//
//	name: qwerty
//	key-width: 100
//	key-height: 150
//	rows:
//	  - keys: qwertyuiop
//	  - keys: asdfghjkl
//	    offset: 0.5
type File struct {
	Name      string    `yaml:"name"`
	KeyWidth  float64   `yaml:"key-width"`
	KeyHeight float64   `yaml:"key-height"`
	Rows      []RowSpec `yaml:"rows"`
	Keys      []KeySpec `yaml:"keys"`
}

// RowSpec is one row of single-letter keys.
type RowSpec struct {
	Keys   string  `yaml:"keys"`
	Offset float64 `yaml:"offset"`
}

// KeySpec places one key explicitly.
type KeySpec struct {
	Label  string  `yaml:"label"`
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

const (
	defaultKeyWidth  = 100
	defaultKeyHeight = 150
)

// QWERTY returns the standard three-row letter layout.
func QWERTY() *model.KeyGeometry {
	geo, _ := Build(File{
		Name: "qwerty",
		Rows: []RowSpec{
			{Keys: "qwertyuiop"},
			{Keys: "asdfghjkl", Offset: 0.5},
			{Keys: "zxcvbnm", Offset: 1.5},
		},
	})
	return geo
}

// Load reads a YAML layout file.
func Load(path string) (*model.KeyGeometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode layout: %w", err)
	}
	if f.Name == "" {
		f.Name = strings.TrimSuffix(path, ".yaml")
	}
	return Build(f)
}

// Build turns a layout description into key geometry.
func Build(f File) (*model.KeyGeometry, error) {
	kw, kh := f.KeyWidth, f.KeyHeight
	if kw <= 0 {
		kw = defaultKeyWidth
	}
	if kh <= 0 {
		kh = defaultKeyHeight
	}
	var keys []model.Key
	for row, spec := range f.Rows {
		y := float64(row) * kh
		x := spec.Offset * kw
		for _, r := range spec.Keys {
			keys = append(keys, model.Key{
				Label:  string(r),
				Bounds: model.Rect{MinX: x, MinY: y, MaxX: x + kw, MaxY: y + kh},
			})
			x += kw
		}
	}
	for _, spec := range f.Keys {
		if spec.Label == "" {
			return nil, fmt.Errorf("layout %q: key without label", f.Name)
		}
		w, h := spec.Width, spec.Height
		if w <= 0 {
			w = kw
		}
		if h <= 0 {
			h = kh
		}
		keys = append(keys, model.Key{
			Label:  spec.Label,
			Bounds: model.Rect{MinX: spec.X, MinY: spec.Y, MaxX: spec.X + w, MaxY: spec.Y + h},
		})
	}
	geo := model.NewKeyGeometry(f.Name, keys)
	if geo.Empty() {
		return nil, fmt.Errorf("layout %q has no keys", f.Name)
	}
	return geo, nil
}
