package danmaku

import (
	"bytes"
	"strings"
	"testing"
)

func TestMarshalXMLOrdersAndFormats(t *testing.T) {
	payload := &Payload{
		ChatServer: "dm.video.qq.com",
		ChatID:     42,
		Comments: []Comment{
			{Progress: 2500, Mode: ModeTop, FontSize: 25, Color: 16777215, CreatedAt: 1700000000, MidHash: "[tencent]u2", ID: 2, Content: "second"},
			{Progress: 1000, CreatedAt: 1700000000, MidHash: "[tencent]u1", ID: 1, Content: "first & <b>"},
		},
	}
	data, err := payload.MarshalXML()
	if err != nil {
		t.Fatalf("MarshalXML returned error: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "<?xml") || !strings.Contains(text, "<chatid>42</chatid>") {
		t.Fatalf("unexpected document header:\n%s", text)
	}
	first := strings.Index(text, "first")
	second := strings.Index(text, "second")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("expected comments in progress order:\n%s", text)
	}
	if !strings.Contains(text, `p="1.00000,1,25,0,1700000000,0,[tencent]u1,1"`) {
		t.Fatalf("expected defaults in attribute:\n%s", text)
	}
	if !strings.Contains(text, "first &amp; &lt;b&gt;") {
		t.Fatalf("expected escaped content:\n%s", text)
	}
}

func TestParseXMLReadsMarshalledPayload(t *testing.T) {
	payload := &Payload{ChatID: 7, Comments: []Comment{
		{Progress: 61234, Mode: ModeBottom, FontSize: 18, Color: 255, CreatedAt: 5, Pool: 1, MidHash: "m", ID: 9, Content: "hi"},
	}}
	data, err := payload.MarshalXML()
	if err != nil {
		t.Fatalf("MarshalXML returned error: %v", err)
	}
	parsed, err := ParseXML(data)
	if err != nil {
		t.Fatalf("ParseXML returned error: %v", err)
	}
	if parsed.Len() != 1 {
		t.Fatalf("expected one comment, got %d", parsed.Len())
	}
	got := parsed.Comments[0]
	if got.Progress != 61234 || got.Mode != ModeBottom || got.Color != 255 || got.ID != 9 || got.Content != "hi" {
		t.Fatalf("unexpected comment %+v", got)
	}
}

func TestParseXMLSkipsMalformedAttributes(t *testing.T) {
	doc := []byte(`<i><d p="bad">x</d><d p="1.5,1,25,0">ok</d></i>`)
	parsed, err := ParseXML(doc)
	if err != nil {
		t.Fatalf("ParseXML returned error: %v", err)
	}
	if parsed.Len() != 1 || parsed.Comments[0].Progress != 1500 {
		t.Fatalf("unexpected comments %+v", parsed.Comments)
	}
}

func TestSanitizeStripsControlCharacters(t *testing.T) {
	payload := &Payload{Comments: []Comment{{Content: "a\x01b\nc"}}}
	data, err := payload.MarshalXML()
	if err != nil {
		t.Fatalf("MarshalXML returned error: %v", err)
	}
	if bytes.Contains(data, []byte{0x01}) || !bytes.Contains(data, []byte("ab c")) {
		t.Fatalf("unexpected sanitized output:\n%s", data)
	}
}

func TestNilPayload(t *testing.T) {
	var p *Payload
	if p.Len() != 0 {
		t.Fatal("expected zero length")
	}
	if _, err := p.MarshalXML(); err == nil {
		t.Fatal("expected error for nil payload")
	}
}
