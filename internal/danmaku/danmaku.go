// Package danmaku holds timed-comment payloads and their bilibili-style XML
// serialization.
package danmaku

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Comment modes.
const (
	ModeScroll = 1
	ModeBottom = 4
	ModeTop    = 5
)

// DefaultFontSize is the nominal size used when a provider reports none.
const DefaultFontSize = 25

// DefaultColor is white.
const DefaultColor uint32 = 0xFFFFFF

// Comment is one timed comment. Progress is the offset in milliseconds.
type Comment struct {
	Progress  int
	Mode      int
	FontSize  int
	Color     uint32
	CreatedAt int64
	Pool      int
	MidHash   string
	ID        int64
	Content   string
}

// Payload is the full comment set for one episode or movie.
type Payload struct {
	ChatServer string
	ChatID     int64
	Comments   []Comment
}

// Len returns the number of comments, tolerating a nil payload.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Comments)
}

type xmlDocument struct {
	XMLName    xml.Name     `xml:"i"`
	ChatServer string       `xml:"chatserver"`
	ChatID     int64        `xml:"chatid"`
	Mission    int          `xml:"mission"`
	MaxLimit   int          `xml:"maxlimit"`
	Source     string       `xml:"source"`
	Comments   []xmlComment `xml:"d"`
}

type xmlComment struct {
	P       string `xml:"p,attr"`
	Content string `xml:",chardata"`
}

// MarshalXML renders the payload as a self-describing XML document. Comments
// are emitted in progress order.
func (p *Payload) MarshalXML() ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("marshal danmaku: nil payload")
	}
	comments := make([]Comment, len(p.Comments))
	copy(comments, p.Comments)
	sort.SliceStable(comments, func(i, j int) bool { return comments[i].Progress < comments[j].Progress })

	doc := xmlDocument{
		ChatServer: p.ChatServer,
		ChatID:     p.ChatID,
		MaxLimit:   len(comments),
		Source:     "k-v",
		Comments:   make([]xmlComment, 0, len(comments)),
	}
	for _, c := range comments {
		doc.Comments = append(doc.Comments, xmlComment{P: c.attr(), Content: sanitize(c.Content)})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("marshal danmaku: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// ParseXML decodes a document produced by MarshalXML or any bilibili-style
// comment file.
func ParseXML(data []byte) (*Payload, error) {
	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse danmaku: %w", err)
	}
	payload := &Payload{ChatServer: doc.ChatServer, ChatID: doc.ChatID}
	for _, d := range doc.Comments {
		c, err := parseAttr(d.P)
		if err != nil {
			continue
		}
		c.Content = d.Content
		payload.Comments = append(payload.Comments, c)
	}
	return payload, nil
}

func (c Comment) attr() string {
	mode := c.Mode
	if mode == 0 {
		mode = ModeScroll
	}
	size := c.FontSize
	if size == 0 {
		size = DefaultFontSize
	}
	created := c.CreatedAt
	if created == 0 {
		created = time.Now().Unix()
	}
	return strings.Join([]string{
		strconv.FormatFloat(float64(c.Progress)/1000, 'f', 5, 64),
		strconv.Itoa(mode),
		strconv.Itoa(size),
		strconv.FormatUint(uint64(c.Color), 10),
		strconv.FormatInt(created, 10),
		strconv.Itoa(c.Pool),
		c.MidHash,
		strconv.FormatInt(c.ID, 10),
	}, ",")
}

func parseAttr(p string) (Comment, error) {
	fields := strings.Split(p, ",")
	if len(fields) < 4 {
		return Comment{}, fmt.Errorf("short attribute %q", p)
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Comment{}, err
	}
	c := Comment{Progress: int(seconds*1000 + 0.5)}
	c.Mode, _ = strconv.Atoi(fields[1])
	c.FontSize, _ = strconv.Atoi(fields[2])
	if color, err := strconv.ParseUint(fields[3], 10, 32); err == nil {
		c.Color = uint32(color)
	}
	if len(fields) > 4 {
		c.CreatedAt, _ = strconv.ParseInt(fields[4], 10, 64)
	}
	if len(fields) > 5 {
		c.Pool, _ = strconv.Atoi(fields[5])
	}
	if len(fields) > 6 {
		c.MidHash = fields[6]
	}
	if len(fields) > 7 {
		c.ID, _ = strconv.ParseInt(fields[7], 10, 64)
	}
	return c, nil
}

// sanitize drops control characters that are invalid in XML 1.0.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return ' '
		}
		if r < 0x20 || r == 0xFFFE || r == 0xFFFF {
			return -1
		}
		return r
	}, s)
}
