// Package feed reads the XML listing feed as a stream of offers.
//
// The document is consumed token by token, so a feed far larger than memory
// can be imported. Each call to Parse owns its own state; a Parser holds only
// options and may be reused across streams.
package feed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"realty_ingest/models"
)

const offerTag = "offer"

// ParseError is a non-fatal problem found in the document.
type ParseError struct {
	Line       int
	ExternalID string
	Message    string
}

func (e ParseError) Error() string {
	if e.ExternalID != "" {
		return fmt.Sprintf("line %d (offer %s): %s", e.Line, e.ExternalID, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

type Parser struct {
	lenient        bool
	encoding       string
	rawDescription bool
}

type Option func(*Parser)

// WithLenient lets the decoder resynchronize over unclosed tags and unknown
// HTML entities instead of stopping at the first one.
func WithLenient() Option {
	return func(p *Parser) { p.lenient = true }
}

// WithEncoding forces the document charset, ignoring the XML declaration.
func WithEncoding(label string) Option {
	return func(p *Parser) { p.encoding = label }
}

// WithRawDescription keeps descriptions as they appear in the feed.
func WithRawDescription() Option {
	return func(p *Parser) { p.rawDescription = true }
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse starts reading r. Offers are produced on demand by Stream.Next.
func (p *Parser) Parse(r io.Reader) *Stream {
	s := &Stream{parser: p}

	var dec *xml.Decoder
	if forced, err := decodeAs(r, p.encoding); err != nil {
		s.errs = append(s.errs, ParseError{Message: err.Error()})
		s.done = true
		return s
	} else if forced != nil {
		dec = xml.NewDecoder(forced)
		dec.CharsetReader = passthroughCharset
	} else {
		dec = xml.NewDecoder(r)
		dec.CharsetReader = CharsetReader
	}

	if p.lenient {
		// No AutoClose: the HTML void list holds feed tags such as area.
		dec.Strict = false
		dec.Entity = xml.HTMLEntity
	}
	s.dec = dec
	return s
}

// Stream yields the offers of one document. It is not safe for concurrent use.
type Stream struct {
	parser *Parser
	dec    *xml.Decoder

	stack []string
	text  strings.Builder
	cur   *offerBuilder
	next  *models.RawOffer

	emitted int
	errs    []ParseError
	err     error
	aborted bool
	done    bool
}

// Next advances to the next complete offer. It returns false at the end of
// the document or when the document cannot be read any further.
func (s *Stream) Next() bool {
	s.next = nil
	for !s.done {
		tok, err := s.dec.Token()
		if err != nil {
			s.stop(err)
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			s.start(t)
		case xml.EndElement:
			s.end(t.Name.Local)
		case xml.CharData:
			if s.cur != nil {
				s.text.Write(t)
			}
		}

		if s.next != nil {
			s.emitted++
			return true
		}
	}
	return false
}

// Offer returns the offer produced by the last successful Next.
func (s *Stream) Offer() *models.RawOffer {
	return s.next
}

// Emitted is the number of offers produced so far.
func (s *Stream) Emitted() int {
	return s.emitted
}

// Errors returns the parse errors recorded so far.
func (s *Stream) Errors() []ParseError {
	return s.errs
}

// Aborted reports whether the stream ended before the document did.
func (s *Stream) Aborted() bool {
	return s.aborted
}

// Err returns the read error that ended the stream, if the underlying reader
// failed. Malformed markup is reported through Errors, not here.
func (s *Stream) Err() error {
	return s.err
}

func (s *Stream) stop(err error) {
	s.done = true
	if errors.Is(err, io.EOF) {
		return
	}

	s.aborted = true
	pe := ParseError{Message: err.Error()}
	if s.cur != nil {
		pe.ExternalID = s.cur.offer.ExternalID
	}

	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) {
		pe.Line = syntaxErr.Line
		pe.Message = syntaxErr.Msg
	} else {
		pe.Line, _ = s.dec.InputPos()
		s.err = err
	}
	s.errs = append(s.errs, pe)
	s.cur = nil
}

func (s *Stream) start(t xml.StartElement) {
	name := t.Name.Local
	s.stack = append(s.stack, name)
	s.text.Reset()

	switch {
	case name == offerTag:
		if s.cur != nil {
			line, _ := s.dec.InputPos()
			s.errs = append(s.errs, ParseError{
				Line:       line,
				ExternalID: s.cur.offer.ExternalID,
				Message:    fmt.Sprintf("offer %q opened inside another offer", offerID(t)),
			})
		}
		s.cur = newOfferBuilder(offerID(t))
	case s.cur == nil:
	case name == "image":
		s.cur.imageTag = attr(t, "tag")
	case name == "metro":
		s.cur.station = &models.TransitStation{}
	}
}

func (s *Stream) end(name string) {
	idx := -1
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i] == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.text.Reset()
		return
	}

	parent := ""
	if idx > 0 {
		parent = s.stack[idx-1]
	}
	s.stack = s.stack[:idx]

	text := strings.TrimSpace(s.text.String())
	s.text.Reset()

	if s.cur == nil {
		return
	}

	switch name {
	case offerTag:
		s.finish()
		return
	case "image":
		s.cur.addImage(text)
		return
	case "metro":
		s.cur.closeStation()
		return
	}

	if text == "" {
		return
	}
	if set := lookup(name, parent); set != nil {
		set(s.cur, text)
	}
}

func (s *Stream) finish() {
	b := s.cur
	s.cur = nil

	offer := b.build(!s.parser.rawDescription)
	if !offer.IsComplete() {
		return
	}
	s.next = offer
}

func offerID(t xml.StartElement) string {
	if id := attr(t, "internal-id"); id != "" {
		return id
	}
	return attr(t, "id")
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}
