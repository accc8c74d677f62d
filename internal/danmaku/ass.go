package danmaku

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ASSOptions controls subtitle rendering of a comment set.
type ASSOptions struct {
	Title    string
	Width    int
	Height   int
	FontName string
	// FontSize is the rendered size of a comment with DefaultFontSize.
	FontSize int
	// Opacity is the text opacity in [0,1].
	Opacity float64
	// LineCount caps the rows used by each comment mode. Comments that find
	// no free row are dropped.
	LineCount      int
	ScrollDuration time.Duration
	StillDuration  time.Duration
}

func (o ASSOptions) withDefaults() ASSOptions {
	if o.Width <= 0 {
		o.Width = 1920
	}
	if o.Height <= 0 {
		o.Height = 1080
	}
	if strings.TrimSpace(o.FontName) == "" {
		o.FontName = "sans-serif"
	}
	if o.FontSize <= 0 {
		o.FontSize = 30
	}
	if o.Opacity <= 0 || o.Opacity > 1 {
		o.Opacity = 1
	}
	if o.LineCount <= 0 {
		o.LineCount = 10
	}
	if o.ScrollDuration <= 0 {
		o.ScrollDuration = 8 * time.Second
	}
	if o.StillDuration <= 0 {
		o.StillDuration = 5 * time.Second
	}
	return o
}

// MarshalASS renders the payload as an Advanced SubStation Alpha script.
// Scrolling comments cross the screen right to left; top and bottom comments
// are pinned for StillDuration.
func (p *Payload) MarshalASS(opts ASSOptions) ([]byte, error) {
	if p.Len() == 0 {
		return nil, fmt.Errorf("render ass: empty comment set")
	}
	opts = opts.withDefaults()

	comments := append([]Comment(nil), p.Comments...)
	sort.SliceStable(comments, func(i, j int) bool { return comments[i].Progress < comments[j].Progress })

	var buf bytes.Buffer
	writeASSHeader(&buf, opts)

	lineHeight := float64(opts.FontSize) * 1.1
	scroll := newRows(opts.LineCount)
	top := newRows(opts.LineCount)
	bottom := newRows(opts.LineCount)

	for _, c := range comments {
		text := escapeASS(c.Content)
		if text == "" {
			continue
		}
		size := scaledSize(c.FontSize, opts.FontSize)
		start := time.Duration(c.Progress) * time.Millisecond

		var (
			end      time.Duration
			override string
		)
		switch c.Mode {
		case ModeTop, ModeBottom:
			end = start + opts.StillDuration
			rows := top
			if c.Mode == ModeBottom {
				rows = bottom
			}
			row, ok := rows.claim(start, end)
			if !ok {
				continue
			}
			y := float64(row) * lineHeight
			if c.Mode == ModeTop {
				override = fmt.Sprintf(`\an8\pos(%d,%d)`, opts.Width/2, int(y))
			} else {
				override = fmt.Sprintf(`\an2\pos(%d,%d)`, opts.Width/2, opts.Height-int(y))
			}
		default:
			end = start + opts.ScrollDuration
			width := textWidth(c.Content, size)
			// The row frees once the tail of this comment has entered the screen.
			entered := start + time.Duration(float64(opts.ScrollDuration)*width/(float64(opts.Width)+width))
			row, ok := scroll.claim(start, entered)
			if !ok {
				continue
			}
			y := int(float64(row) * lineHeight)
			override = fmt.Sprintf(`\move(%d,%d,%d,%d)`, opts.Width, y, -int(math.Ceil(width)), y)
		}

		if size != opts.FontSize {
			override += fmt.Sprintf(`\fs%d`, size)
		}
		if color := c.Color & 0xFFFFFF; color != DefaultColor {
			override += fmt.Sprintf(`\c&H%02X%02X%02X&`, color&0xFF, (color>>8)&0xFF, (color>>16)&0xFF)
		}
		fmt.Fprintf(&buf, "Dialogue: 2,%s,%s,Danmu,,0000,0000,0000,,{%s}%s\n",
			assTime(start), assTime(end), override, text)
	}
	return buf.Bytes(), nil
}

func writeASSHeader(buf *bytes.Buffer, opts ASSOptions) {
	alpha := int(math.Round(255 * (1 - opts.Opacity)))
	fmt.Fprintf(buf, "[Script Info]\nTitle: %s\nScriptType: v4.00+\nWrapStyle: 2\nCollisions: Normal\n", escapeASS(opts.Title))
	fmt.Fprintf(buf, "PlayResX: %d\nPlayResY: %d\nScaledBorderAndShadow: yes\n\n", opts.Width, opts.Height)
	buf.WriteString("[V4+ Styles]\n")
	buf.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(buf, "Style: Danmu,%s,%d,&H%02XFFFFFF,&H%02XFFFFFF,&H%02X000000,&H%02X000000,0,0,0,0,100,100,0,0,1,1,0,7,0,0,0,0\n\n",
		opts.FontName, opts.FontSize, alpha, alpha, alpha, alpha)
	buf.WriteString("[Events]\n")
	buf.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
}

// rows tracks when each subtitle row becomes free.
type rows []time.Duration

func newRows(n int) rows {
	r := make(rows, n)
	for i := range r {
		r[i] = -1
	}
	return r
}

func (r rows) claim(start, busyUntil time.Duration) (int, bool) {
	for i, freeAt := range r {
		if freeAt <= start {
			r[i] = busyUntil
			return i, true
		}
	}
	return 0, false
}

func scaledSize(commentSize, base int) int {
	if commentSize <= 0 || commentSize == DefaultFontSize {
		return base
	}
	return int(math.Round(float64(base) * float64(commentSize) / DefaultFontSize))
}

// textWidth approximates rendered width: ASCII is half width, everything
// else full width.
func textWidth(text string, size int) float64 {
	var units float64
	for _, r := range text {
		if r < 0x80 {
			units += 0.5
		} else {
			units++
		}
	}
	return units * float64(size)
}

func assTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	cs := d.Milliseconds() / 10
	h := cs / 360000
	m := cs / 6000 % 60
	s := cs / 100 % 60
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs%100)
}

var assEscaper = strings.NewReplacer(
	`\`, "＼",
	"{", "｛",
	"}", "｝",
)

func escapeASS(text string) string {
	return assEscaper.Replace(strings.TrimSpace(sanitize(text)))
}
