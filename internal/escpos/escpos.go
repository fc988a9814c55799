// Package escpos builds ESC/POS command streams for thermal receipt printers
package escpos

import (
	"bytes"
	"errors"
	"fmt"
)

// ESC/POS commands
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	LF  byte = 0x0A
)

// Alignment is the argument of ESC a
type Alignment byte

const (
	AlignLeft   Alignment = 0
	AlignCenter Alignment = 1
	AlignRight  Alignment = 2
)

// Drawer kick pulse for drawer #1: on 25*2ms, off 250*2ms.
const (
	drawerPin   byte = 0x00
	drawerOnMS  byte = 0x19
	drawerOffMS byte = 0xFA
)

// Largest raster block GS v 0 can describe.
const (
	MaxRasterWidthBytes = 0xFFFF
	MaxRasterHeight     = 0xFFFF
)

// ErrBitmapSize is returned when a bitmap's data does not match its dimensions
var ErrBitmapSize = errors.New("bitmap size mismatch")

// Bitmap is a packed 1-bpp image: rows of BytesPerRow bytes, MSB is the
// leftmost pixel and a set bit burns a dot.
type Bitmap struct {
	Width  int
	Height int
	Data   []byte
}

// BytesPerRow returns ceil(Width/8)
func (b Bitmap) BytesPerRow() int {
	return (b.Width + 7) / 8
}

// Validate checks the bitmap fits a single GS v 0 block and that the data
// length matches the dimensions.
func (b Bitmap) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: empty bitmap %dx%d", ErrBitmapSize, b.Width, b.Height)
	}
	if b.BytesPerRow() > MaxRasterWidthBytes || b.Height > MaxRasterHeight {
		return fmt.Errorf("%w: %dx%d exceeds raster limits", ErrBitmapSize, b.Width, b.Height)
	}
	if want := b.BytesPerRow() * b.Height; len(b.Data) != want {
		return fmt.Errorf("%w: have %d bytes, want %d", ErrBitmapSize, len(b.Data), want)
	}
	return nil
}

// Encoder accumulates ESC/POS commands
type Encoder struct {
	buffer *bytes.Buffer
}

// NewEncoder creates a new ESC/POS encoder
func NewEncoder() *Encoder {
	return &Encoder{
		buffer: new(bytes.Buffer),
	}
}

// Initialize resets the printer (ESC @)
func (e *Encoder) Initialize() *Encoder {
	e.buffer.Write([]byte{ESC, '@'})
	return e
}

// SetAlignment sets justification (ESC a n). The mode persists on the device
// across jobs until changed again.
func (e *Encoder) SetAlignment(align Alignment) *Encoder {
	e.buffer.Write([]byte{ESC, 'a', byte(align)})
	return e
}

// LineFeed sends line feed
func (e *Encoder) LineFeed() *Encoder {
	e.buffer.WriteByte(LF)
	return e
}

// Feed sends multiple line feeds
func (e *Encoder) Feed(lines int) *Encoder {
	for i := 0; i < lines; i++ {
		e.LineFeed()
	}
	return e
}

// Cut sends full paper cut
func (e *Encoder) Cut() *Encoder {
	e.buffer.Write([]byte{GS, 'V', 0})
	return e
}

// PartialCut sends partial paper cut
func (e *Encoder) PartialCut() *Encoder {
	e.buffer.Write([]byte{GS, 'V', 1})
	return e
}

// Write appends raw bytes verbatim.
func (e *Encoder) Write(data []byte) *Encoder {
	e.buffer.Write(data)
	return e
}

// WriteText appends the UTF-8 bytes of text without transcoding.
func (e *Encoder) WriteText(text string) *Encoder {
	e.buffer.WriteString(text)
	return e
}

// SelectCodeTable selects the character code table (ESC t n)
func (e *Encoder) SelectCodeTable(n byte) *Encoder {
	e.buffer.Write([]byte{ESC, 't', n})
	return e
}

// KickDrawer energizes drawer #1 (ESC p m t1 t2)
func (e *Encoder) KickDrawer() *Encoder {
	e.buffer.Write([]byte{ESC, 'p', drawerPin, drawerOnMS, drawerOffMS})
	return e
}

// Raster emits a GS v 0 block in normal mode. The bitmap must already be
// valid; see Bitmap.Validate.
func (e *Encoder) Raster(b Bitmap) *Encoder {
	widthBytes := b.BytesPerRow()
	e.buffer.Write([]byte{
		GS, 'v', '0', 0,
		byte(widthBytes), byte(widthBytes >> 8),
		byte(b.Height), byte(b.Height >> 8),
	})
	e.buffer.Write(b.Data)
	return e
}

// Bytes returns the generated ESC/POS commands
func (e *Encoder) Bytes() []byte {
	return e.buffer.Bytes()
}

// Len returns the number of buffered bytes
func (e *Encoder) Len() int {
	return e.buffer.Len()
}

// Reset clears the buffer
func (e *Encoder) Reset() {
	e.buffer.Reset()
}

// DrawerKick returns the cash drawer pulse command
func DrawerKick() []byte {
	return NewEncoder().KickDrawer().Bytes()
}

// LogoReceipt centers the logo, prints it, restores left alignment and
// feeds a line before the text. A nil logo yields the text unchanged.
func LogoReceipt(logo *Bitmap, text []byte) []byte {
	e := NewEncoder()
	if logo != nil {
		e.SetAlignment(AlignCenter).
			Raster(*logo).
			SetAlignment(AlignLeft).
			LineFeed()
	}
	e.Write(text)
	return e.Bytes()
}
