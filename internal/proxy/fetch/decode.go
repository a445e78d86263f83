package fetch

import (
	"bytes"
	"io"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// decodeHTML converts raw response bytes to UTF-8 text. Decoding is never
// fatal: charset resolution falls back from the Content-Type header to byte
// statistics, and malformed sequences degrade to replacement runes.
func decodeHTML(raw []byte, contentType string) string {
	if r, err := charset.NewReader(bytes.NewReader(raw), contentType); err == nil {
		if out, rerr := io.ReadAll(r); rerr == nil {
			return strings.ToValidUTF8(string(out), "�")
		}
	}

	// Header and meta sniffing both failed to produce a usable reader;
	// detect from the bytes themselves.
	if best, err := chardet.NewHtmlDetector().DetectBest(raw); err == nil {
		if enc, _ := charset.Lookup(best.Charset); enc != nil {
			if out, _, terr := transform.Bytes(enc.NewDecoder(), raw); terr == nil {
				return strings.ToValidUTF8(string(out), "�")
			}
		}
	}

	return strings.ToValidUTF8(string(raw), "�")
}
