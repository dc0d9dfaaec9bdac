package adapter

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/chiral/transferd/internal/domain"
)

// SynthesizeMagnetURI builds `magnet:?xt=urn:btih:<info_hash>` with
// appended `&tr=<tracker>` pairs, preserving tracker order and case
// exactly as given in metadata.
func SynthesizeMagnetURI(infoHash string, trackers []string) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(infoHash)
	for _, tr := range trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	return b.String()
}

// Ed2kLink is a parsed `ed2k://|file|<name>|<size>|<md4>|/` identifier.
type Ed2kLink struct {
	Name string
	Size uint64
	MD4  string
}

// ParseEd2kLink parses an ED2K file link. Any other shape (e.g.
// `ed2k://|server|...`) or a malformed hash returns InvalidIdentifier.
func ParseEd2kLink(link string) (*Ed2kLink, error) {
	const prefix = "ed2k://|file|"
	if !strings.HasPrefix(link, prefix) {
		return nil, domain.NewError(domain.CategoryValidation, "not an ed2k file link", domain.ErrInvalidIdentifier)
	}

	rest := strings.TrimPrefix(link, prefix)
	rest = strings.TrimSuffix(rest, "|/")
	parts := strings.Split(rest, "|")
	if len(parts) != 3 {
		return nil, domain.NewError(domain.CategoryValidation, "ed2k link has wrong field count", domain.ErrInvalidIdentifier)
	}

	name := parts[0]
	if name == "" {
		return nil, domain.NewError(domain.CategoryValidation, "ed2k link has empty file name", domain.ErrInvalidIdentifier)
	}

	size, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return nil, domain.NewError(domain.CategoryValidation, "ed2k link has non-numeric size", domain.ErrInvalidIdentifier)
	}

	md4 := parts[2]
	if len(md4) != 32 {
		return nil, domain.NewError(domain.CategoryValidation, "ed2k link md4 must be 32 hex chars", domain.ErrInvalidIdentifier)
	}
	if _, err := hex.DecodeString(md4); err != nil {
		return nil, domain.NewError(domain.CategoryValidation, "ed2k link md4 is not valid hex", domain.ErrInvalidIdentifier)
	}

	return &Ed2kLink{Name: name, Size: size, MD4: strings.ToUpper(md4)}, nil
}

// FormatEd2kLink renders a link back to its canonical wire string.
func FormatEd2kLink(l Ed2kLink) string {
	return fmt.Sprintf("ed2k://|file|%s|%d|%s|/", l.Name, l.Size, strings.ToUpper(l.MD4))
}
