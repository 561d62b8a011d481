package integrations

import (
	"strings"

	"github.com/gosimple/slug"

	"github.com/lupohub/lupohub/internal/marketplace"
	"github.com/lupohub/lupohub/internal/models"
)

// variantAttrs is the (color, size) pair derived from a variant's values.
type variantAttrs struct {
	ColorName string
	SizeCode  string
	SizeName  string
}

// attrsFromValues applies the store convention: the last value is the size
// and everything before it, joined with spaces, is the color. A single value
// is a color with the default size; no values gives both defaults.
func attrsFromValues(values []marketplace.LocalizedString) variantAttrs {
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(v.String()); s != "" {
			clean = append(clean, s)
		}
	}

	attrs := variantAttrs{
		ColorName: models.DefaultColorName,
		SizeCode:  models.DefaultSizeCode,
		SizeName:  models.DefaultSizeName,
	}
	switch len(clean) {
	case 0:
	case 1:
		attrs.ColorName = clean[0]
	default:
		last := clean[len(clean)-1]
		attrs.ColorName = strings.Join(clean[:len(clean)-1], " ")
		attrs.SizeCode = last
		attrs.SizeName = last
	}
	return attrs
}

// colorCode synthesizes a short code from a color name: accents stripped,
// uppercased, first three letters or digits.
func colorCode(name string) string {
	s := strings.ToUpper(strings.ReplaceAll(slug.Make(name), "-", ""))
	if len(s) > 3 {
		s = s[:3]
	}
	if s == "" {
		return "COL"
	}
	return s
}

// palette maps common color names to a hex value for new colors.
var palette = map[string]string{
	"negro":    "#000000",
	"blanco":   "#FFFFFF",
	"rojo":     "#FF0000",
	"azul":     "#0000FF",
	"verde":    "#008000",
	"amarillo": "#FFFF00",
	"gris":     "#808080",
	"rosa":     "#FFC0CB",
	"violeta":  "#8A2BE2",
	"naranja":  "#FFA500",
	"marron":   "#8B4513",
	"beige":    "#F5F5DC",
	"celeste":  "#87CEEB",
	"bordo":    "#800020",
	"nude":     "#E3BC9A",
}

func paletteHex(name string) *string {
	if hex, ok := palette[slug.Make(name)]; ok {
		return &hex
	}
	return nil
}
