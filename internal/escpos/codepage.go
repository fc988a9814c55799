package escpos

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ErrUnknownCodepage is returned for codepage names without an ESC t mapping
var ErrUnknownCodepage = errors.New("unknown codepage")

// Codepage pairs a charmap with the ESC t table number most Epson-compatible
// printers use for it.
type Codepage struct {
	Name    string
	Table   byte
	charmap *charmap.Charmap
}

var codepages = map[string]Codepage{
	"cp437":   {Name: "cp437", Table: 0, charmap: charmap.CodePage437},
	"cp850":   {Name: "cp850", Table: 2, charmap: charmap.CodePage850},
	"cp860":   {Name: "cp860", Table: 3, charmap: charmap.CodePage860},
	"cp863":   {Name: "cp863", Table: 4, charmap: charmap.CodePage863},
	"cp865":   {Name: "cp865", Table: 5, charmap: charmap.CodePage865},
	"wpc1252": {Name: "wpc1252", Table: 16, charmap: charmap.Windows1252},
	"cp866":   {Name: "cp866", Table: 17, charmap: charmap.CodePage866},
	"cp852":   {Name: "cp852", Table: 18, charmap: charmap.CodePage852},
	"cp858":   {Name: "cp858", Table: 19, charmap: charmap.CodePage858},
}

// LookupCodepage resolves a codepage by name, case-insensitively.
func LookupCodepage(name string) (Codepage, error) {
	cp, ok := codepages[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Codepage{}, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownCodepage, name, strings.Join(Codepages(), ", "))
	}
	return cp, nil
}

// Codepages lists the supported names in sorted order
func Codepages() []string {
	names := make([]string, 0, len(codepages))
	for name := range codepages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode transcodes UTF-8 text into the codepage. Runes the codepage cannot
// represent are replaced by the codepage's substitute byte.
func (c Codepage) Encode(text string) ([]byte, error) {
	enc := encoding.ReplaceUnsupported(c.charmap.NewEncoder())
	out, err := enc.Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Name, err)
	}
	return out, nil
}

// EncodeText returns the bytes to send for text. An empty codepage name
// passes the UTF-8 bytes through verbatim; otherwise the result starts with
// ESC t selecting the table, followed by the transcoded text.
func EncodeText(text, codepage string) ([]byte, error) {
	if codepage == "" {
		return []byte(text), nil
	}

	cp, err := LookupCodepage(codepage)
	if err != nil {
		return nil, err
	}

	encoded, err := cp.Encode(text)
	if err != nil {
		return nil, err
	}

	return NewEncoder().SelectCodeTable(cp.Table).Write(encoded).Bytes(), nil
}
