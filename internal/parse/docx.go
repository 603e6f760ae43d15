package parse

import (
	"archive/zip"
	"encoding/xml"
	"strings"

	"github.com/rotisserie/eris"
)

// parseDocx reads word/document.xml from the archive and joins paragraph
// texts. Only character data inside w:t runs is captured; tabs and breaks
// inside a run become \t and \n.
func parseDocx(path, fallbackTitle string) (*Parsed, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, eris.Wrapf(err, "parse: open docx %s", path)
	}
	defer r.Close()

	var docXML *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docXML = f
			break
		}
	}
	if docXML == nil {
		return nil, eris.Errorf("parse: %s has no word/document.xml", path)
	}

	rc, err := docXML.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "parse: docx content %s", path)
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var paragraphs []string
	var current strings.Builder
	inParagraph := false
	inText := false
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inParagraph = true
				current.Reset()
			case "t":
				if inParagraph {
					inText = true
				}
			case "tab":
				if inParagraph {
					current.WriteByte('\t')
				}
			case "br", "cr":
				if inParagraph {
					current.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if inParagraph {
					inParagraph = false
					if text := current.String(); text != "" {
						paragraphs = append(paragraphs, text)
					}
				}
			}
		}
	}

	return &Parsed{
		Title: titleOr(fallbackTitle, path),
		Text:  strings.Join(paragraphs, "\n"),
	}, nil
}
