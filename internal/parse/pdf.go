package parse

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rotisserie/eris"
)

// extractPDF returns one text entry per page, in page order. Pages with no
// extractable text yield empty strings so callers can still number them.
func extractPDF(path string) ([]string, *Quality, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "parse: open %s", path)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "parse: pdf read %s", path)
	}

	pages := make([]string, 0, pdfCtx.PageCount)
	totalChars := 0
	var all strings.Builder
	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		text := pageText(pdfCtx, pageNr)
		pages = append(pages, text)
		totalChars += len([]rune(text))
		if text != "" {
			all.WriteString(text)
			all.WriteByte('\n')
		}
	}

	full := all.String()
	var charsPerPage float64
	if pdfCtx.PageCount > 0 {
		charsPerPage = float64(totalChars) / float64(pdfCtx.PageCount)
	}
	quality := &Quality{
		PageCount:       pdfCtx.PageCount,
		CharsPerPage:    charsPerPage,
		PrintableRatio:  printableRatio(full),
		WordlikeRatio:   wordlikeRatio(full),
		HasImageStreams: hasImageStreams(pdfCtx),
	}
	return pages, quality, nil
}

func pageText(pdfCtx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(pdfCtx, pageNr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return textFromContentStream(data)
}

// hasImageStreams reports whether any page draws an image XObject.
func hasImageStreams(pdfCtx *model.Context) bool {
	if pdfCtx.Optimize != nil {
		for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
			if len(pdfcpu.ImageObjNrs(pdfCtx, pageNr)) > 0 {
				return true
			}
		}
	}
	// Unoptimized contexts: look for image subtype streams in the xref table.
	for _, entry := range pdfCtx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}

// stringLiteralRe matches parenthesised string literals in a content stream.
var stringLiteralRe = regexp.MustCompile(`\(([^)]*)\)`)

// textFromContentStream scans content-stream operators line by line. Text
// shows through Tj/TJ/' operands; Td, TD and T* only move the cursor, so
// they become a space or line break.
func textFromContentStream(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			writeLineStrings(&sb, line, "")
		case bytes.HasSuffix(line, []byte("'")):
			writeLineStrings(&sb, line, "\n")
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}
	return cleanStreamText(sb.String())
}

func writeLineStrings(sb *strings.Builder, line []byte, prefix string) {
	for _, m := range stringLiteralRe.FindAllSubmatch(line, -1) {
		text := decodeStringLiteral(m[1])
		if text == "" {
			continue
		}
		if prefix != "" {
			sb.WriteString(prefix)
		}
		sb.WriteString(text)
	}
}

// decodeStringLiteral resolves backslash escapes, including one- to
// three-digit octal codes.
func decodeStringLiteral(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch c := raw[i]; c {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(c)
		default:
			if c < '0' || c > '7' {
				sb.WriteByte(c)
				break
			}
			val := int(c - '0')
			for d := 0; d < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; d++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

// cleanStreamText collapses runs of spaces and blank lines but keeps line
// breaks, which sentence splitting downstream relies on.
func cleanStreamText(text string) string {
	var sb strings.Builder
	prevSpace := false
	prevNewline := false
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			if !prevNewline && sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			prevNewline = true
			prevSpace = true
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			prevSpace = true
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace = false
			prevNewline = false
		}
	}
	return strings.TrimSpace(sb.String())
}
