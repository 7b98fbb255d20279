package trash

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf-enricher/internal/domain"
)

func TestMargins(t *testing.T) {
	m := NewMargins(0)
	for page := 1; page <= 4; page++ {
		m.Add(page, "ACME  Device Manual", 0.04)
		m.Add(page, fmt.Sprintf("Page %d of 4", page), 0.96)
		m.Add(page, "Body text that repeats", 0.5)
	}
	m.Add(1, "Only once", 0.02)

	assert.True(t, m.IsRepeated("ACME Device Manual", 0.04))
	assert.True(t, m.IsRepeated("Page 9 of 4", 0.96), "digits are masked")
	assert.False(t, m.IsRepeated("Body text that repeats", 0.5), "body band is never stripped")
	assert.False(t, m.IsRepeated("Only once", 0.02))
	assert.False(t, m.IsRepeated("ACME Device Manual", 0.96), "position matters")

	found := m.Found()
	require.Len(t, found, 2)
	assert.Equal(t, Repeated{Text: "ACME  Device Manual", Footer: false, Pages: 4}, found[0])
	assert.Equal(t, Repeated{Text: "Page 1 of 4", Footer: true, Pages: 4}, found[1])
}

func TestMargins_BelowMinPages(t *testing.T) {
	m := NewMargins(3)
	m.Add(1, "Header", 0.01)
	m.Add(2, "Header", 0.01)
	m.Add(2, "Header", 0.01)
	assert.False(t, m.IsRepeated("Header", 0.01))
	assert.Empty(t, m.Found())
}

func TestMargins_LongLinesAreBody(t *testing.T) {
	m := NewMargins(0)
	long := strings.Repeat("ข้อความ ", 20)
	short := "คู่มือการใช้งาน"
	for page := 1; page <= 4; page++ {
		m.Add(page, long, 0.03)
		m.Add(page, short, 0.03)
	}
	assert.False(t, m.IsRepeated(long, 0.03))
	assert.True(t, m.IsRepeated(short, 0.03))

	found := m.Found()
	require.Len(t, found, 1)
	assert.Equal(t, short, found[0].Text)
}

func TestHeaderFooterDetection(t *testing.T) {
	assert.Nil(t, HeaderFooterDetection(nil, 10))

	ds := HeaderFooterDetection([]Repeated{
		{Text: "Company Name"},
		{Text: "Page 1", Footer: true},
	}, 12)
	require.Len(t, ds, 1)
	d := ds[0]
	assert.Equal(t, 0, d.Page)
	assert.Equal(t, domain.TrashHeaderFooter, d.TrashType)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, `Repeated text stripped from 12 pages: Header: "Company Name", Footer: "Page 1"`, d.Reason)
	assert.Equal(t, `Header: "Company Name"; Footer: "Page 1"`, d.Preview)
}
