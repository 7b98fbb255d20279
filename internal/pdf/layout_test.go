package pdf

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html><head><style>body{background-color:slategray}</style></head><body>
<div id="page0" style="position:relative;width:612pt;height:792pt;background-color:white">
<p style="position:absolute;white-space:pre;margin:0;padding:0;top:700.5pt;left:72pt;line-height:10pt"><span style="font-family:Helvetica;font-size:9pt">Page footer</span></p>
<img style="position:absolute;top:300pt;left:100pt;width:200pt;height:150pt" src="data:image/png;base64,` + "%s" + `">
<p style="position:absolute;white-space:pre;margin:0;padding:0;top:72pt;left:72pt;line-height:14pt"><span style="font-family:Times;font-size:12pt">Hello </span><span style="font-size:12pt"><b>world</b></span></p>
<p style="position:absolute;top:90pt;left:72pt"><span style="font-size:12pt">   </span></p>
<img style="position:absolute;top:100pt;left:400pt;width:50pt;height:50pt" src="http://example.com/x.png">
</div>
</body></html>`

func TestParseLayout(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("fake-png"))
	markup := fmt.Sprintf(samplePage, payload)

	layout, err := ParseLayout(markup)
	require.NoError(t, err)

	assert.Equal(t, Rect{X1: 612, Y1: 792}, layout.Bounds)

	require.Len(t, layout.Blocks, 2, "whitespace-only paragraph is dropped")
	assert.Equal(t, "Hello world", layout.Blocks[0].Text)
	assert.Equal(t, 72.0, layout.Blocks[0].Box.Y0)
	assert.Equal(t, 86.0, layout.Blocks[0].Box.Y1)
	assert.Equal(t, 12.0, layout.Blocks[0].FontSize)
	assert.Equal(t, "Page footer", layout.Blocks[1].Text)

	require.Len(t, layout.Images, 2)
	// sorted by reading order and re-indexed
	assert.Equal(t, 1, layout.Images[0].Index)
	assert.Equal(t, RectXYWH(400, 100, 50, 50), layout.Images[0].Box)
	assert.Nil(t, layout.Images[0].Data)
	assert.Equal(t, 2, layout.Images[1].Index)
	assert.Equal(t, []byte("fake-png"), layout.Images[1].Data)
	assert.Equal(t, "image/png", layout.Images[1].Mime)

	assert.Equal(t, "Hello world\nPage footer", layout.PlainText())
	assert.Len(t, layout.ImageRects(), 2)
}

func TestParseLayout_EmptyPage(t *testing.T) {
	layout, err := ParseLayout(`<div id="page3" style="width:100pt;height:200pt"></div>`)
	require.NoError(t, err)
	assert.Empty(t, layout.Blocks)
	assert.Empty(t, layout.Images)
	assert.Equal(t, 20000.0, layout.Bounds.Area())
}

func TestParseStyle(t *testing.T) {
	s := parseStyle("top: 10.5pt; LEFT:3px;width:abc")
	v, ok := s.points("top")
	assert.True(t, ok)
	assert.Equal(t, 10.5, v)
	v, ok = s.points("left")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)
	_, ok = s.points("width")
	assert.False(t, ok)
	_, ok = s.points("height")
	assert.False(t, ok)
}

func TestRect(t *testing.T) {
	page := Rect{X1: 100, Y1: 100}

	assert.Equal(t, Rect{X0: 50, Y0: 50, X1: 100, Y1: 100}, RectXYWH(50, 50, 100, 100).Intersect(page))
	assert.True(t, RectXYWH(200, 200, 10, 10).Intersect(page).Empty())
	assert.Equal(t, Rect{X0: 0, Y0: 0, X1: 30, Y1: 40}, RectXYWH(0, 0, 10, 10).Union(RectXYWH(20, 30, 10, 10)))
	assert.Equal(t, RectXYWH(1, 1, 1, 1), Rect{}.Union(RectXYWH(1, 1, 1, 1)))
	assert.Equal(t, 0.0, Rect{X0: 5, X1: 1, Y1: 3}.Area())
}
