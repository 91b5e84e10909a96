package vast

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// The types below mirror the subset of the VAST 2.0 schema the parser reads.
// Elements not listed here (companions, non-linear ads, extensions) are
// skipped by encoding/xml, which keeps newer documents parseable.
// Numeric attributes are strings so one bad value does not reject a document.

type document struct {
	XMLName xml.Name    `xml:"VAST"`
	Version string      `xml:"version,attr"`
	Ads     []adElement `xml:"Ad"`
}

type adElement struct {
	ID       string          `xml:"id,attr"`
	Sequence string          `xml:"sequence,attr"`
	InLine   *inLineElement  `xml:"InLine"`
	Wrapper  *wrapperElement `xml:"Wrapper"`
}

type inLineElement struct {
	AdSystem    textElement       `xml:"AdSystem"`
	AdTitle     textElement       `xml:"AdTitle"`
	Description textElement       `xml:"Description"`
	Errors      []textElement     `xml:"Error"`
	Impressions []textElement     `xml:"Impression"`
	Creatives   []creativeElement `xml:"Creatives>Creative"`
}

type wrapperElement struct {
	AdSystem     textElement       `xml:"AdSystem"`
	VASTAdTagURI textElement       `xml:"VASTAdTagURI"`
	Errors       []textElement     `xml:"Error"`
	Impressions  []textElement     `xml:"Impression"`
	Creatives    []creativeElement `xml:"Creatives>Creative"`
}

type creativeElement struct {
	ID       string         `xml:"id,attr"`
	Sequence string         `xml:"sequence,attr"`
	AdID     string         `xml:"AdID,attr"`
	Linear   *linearElement `xml:"Linear"`
}

type linearElement struct {
	Duration       textElement        `xml:"Duration"`
	TrackingEvents []trackingElement  `xml:"TrackingEvents>Tracking"`
	VideoClicks    *videoClicks       `xml:"VideoClicks"`
	MediaFiles     []mediaFileElement `xml:"MediaFiles>MediaFile"`
}

type trackingElement struct {
	Event string `xml:"event,attr"`
	URL   string `xml:",chardata"`
}

type videoClicks struct {
	ClickThrough  textElement   `xml:"ClickThrough"`
	ClickTracking []textElement `xml:"ClickTracking"`
}

type mediaFileElement struct {
	ID           string `xml:"id,attr"`
	Delivery     string `xml:"delivery,attr"`
	Type         string `xml:"type,attr"`
	Bitrate      string `xml:"bitrate,attr"`
	Width        string `xml:"width,attr"`
	Height       string `xml:"height,attr"`
	APIFramework string `xml:"apiFramework,attr"`
	URL          string `xml:",chardata"`
}

// textElement captures element text including CDATA sections.
type textElement struct {
	Text string `xml:",chardata"`
}

func (t textElement) String() string {
	return strings.TrimSpace(t.Text)
}

// decodeDocument parses raw bytes into a document. Non UTF-8 encodings
// declared in the XML prolog are transcoded. Only whitespace, comments and
// processing instructions may follow the root element.
func decodeDocument(data []byte) (*document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return &doc, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.Comment, xml.ProcInst:
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return nil, fmt.Errorf("unexpected text after root element")
			}
		default:
			return nil, fmt.Errorf("unexpected %T after root element", tok)
		}
	}
}

// firstAd returns the first ad carrying an InLine or Wrapper, in document order.
func (d *document) firstAd() *adElement {
	for i := range d.Ads {
		if d.Ads[i].InLine != nil || d.Ads[i].Wrapper != nil {
			return &d.Ads[i]
		}
	}
	return nil
}
