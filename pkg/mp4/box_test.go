// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func rawBox(typ string, payload ...[]byte) []byte {
	p := bytes.Join(payload, nil)
	out := []byte{0, 0, 0, 0}
	size := 8 + len(p)
	out[0], out[1], out[2], out[3] = byte(size>>24), byte(size>>16), byte(size>>8), byte(size)
	out = append(out, typ...)
	return append(out, p...)
}

func TestBoxTree(t *testing.T) {
	file := bytes.Join([][]byte{
		rawBox("ftyp", []byte("isom"), []byte{0, 0, 2, 0}),
		rawBox("moov",
			rawBox("mvhd", []byte{1, 2, 3}),
			rawBox("trak", rawBox("tkhd", []byte{4, 5})),
		),
	}, nil)

	root := NewRoot(bytes.NewReader(file))
	require.Equal(t, 2, root.ChildCount())

	ftyp := root.Child(0)
	require.Equal(t, TypeFtyp, ftyp.Type())
	require.Equal(t, int64(16), ftyp.Size())
	require.Equal(t, int64(8), ftyp.HeaderSize())

	moov := root.FindChild(TypeMoov)
	require.NotNil(t, moov)
	require.Equal(t, int64(16), moov.Offset())
	require.Equal(t, 2, moov.ChildCount())

	tkhd := root.FindPath(TypeMoov, TypeTrak, TypeTkhd)
	require.NotNil(t, tkhd)
	payload, err := tkhd.Payload()
	require.NoError(t, err)
	require.Equal(t, []byte{4, 5}, payload)
	require.Equal(t, int64(16+8+11+8), tkhd.Offset())

	require.Nil(t, root.FindPath(TypeMoov, TypeMdia))
	require.Nil(t, root.Child(5))
}

func TestBoxHeaders(t *testing.T) {
	t.Run("largesize", func(t *testing.T) {
		file := []byte{
			0, 0, 0, 1, 'm', 'd', 'a', 't',
			0, 0, 0, 0, 0, 0, 0, 20, // Largesize.
			1, 2, 3, 4,
		}
		root := NewRoot(bytes.NewReader(file))
		require.Equal(t, 1, root.ChildCount())
		mdat := root.Child(0)
		require.Equal(t, int64(16), mdat.HeaderSize())
		require.Equal(t, int64(4), mdat.PayloadSize())
	})
	t.Run("uuid", func(t *testing.T) {
		file := append([]byte{0, 0, 0, 26, 'u', 'u', 'i', 'd'}, make([]byte, 16)...)
		file[8] = 0xab
		file = append(file, 7, 8)
		root := NewRoot(bytes.NewReader(file))
		require.Equal(t, 1, root.ChildCount())
		box := root.Child(0)
		require.Equal(t, int64(24), box.HeaderSize())
		require.Equal(t, byte(0xab), box.UserType()[0])
		payload, err := box.Payload()
		require.NoError(t, err)
		require.Equal(t, []byte{7, 8}, payload)
	})
	t.Run("largesizeUUID", func(t *testing.T) {
		file := []byte{
			0, 0, 0, 1, 'u', 'u', 'i', 'd',
			0, 0, 0, 0, 0, 0, 0, 33,
		}
		file = append(file, make([]byte, 16)...)
		file = append(file, 9)
		root := NewRoot(bytes.NewReader(file))
		require.Equal(t, 1, root.ChildCount())
		require.Equal(t, int64(32), root.Child(0).HeaderSize())
	})
	t.Run("sizeZeroTopLevel", func(t *testing.T) {
		file := append(rawBox("ftyp"), 0, 0, 0, 0, 'm', 'd', 'a', 't', 1, 2, 3)
		root := NewRoot(bytes.NewReader(file))
		require.Equal(t, 2, root.ChildCount())
		require.Equal(t, int64(11), root.Child(1).Size())
	})
	t.Run("sizeZeroNested", func(t *testing.T) {
		file := rawBox("moov", []byte{0, 0, 0, 0, 'm', 'v', 'h', 'd'})
		root := NewRoot(bytes.NewReader(file))
		require.Equal(t, 0, root.Child(0).ChildCount())
	})
}

func TestBoxMalformedChild(t *testing.T) {
	moov := rawBox("moov",
		rawBox("mvhd", []byte{1}),
		[]byte{0, 0, 0x10, 0, 't', 'r', 'a', 'k'}, // Past the end of moov.
		rawBox("udta"),
	)
	root := NewRoot(bytes.NewReader(moov))
	require.Equal(t, 1, root.Child(0).ChildCount())
	require.Equal(t, TypeMvhd, root.Child(0).Child(0).Type())

	// Negative largesize.
	file := []byte{
		0, 0, 0, 1, 'f', 'r', 'e', 'e',
		0xff, 0, 0, 0, 0, 0, 0, 0,
	}
	require.Equal(t, 0, NewRoot(bytes.NewReader(file)).ChildCount())

	// Size smaller than the header.
	file = []byte{0, 0, 0, 4, 'f', 'r', 'e', 'e'}
	require.Equal(t, 0, NewRoot(bytes.NewReader(file)).ChildCount())
}

type countingSource struct {
	*bytes.Reader
	reads int
}

func (s *countingSource) ReadAt(p []byte, off int64) (int, error) {
	s.reads++
	return s.Reader.ReadAt(p, off)
}

func TestBoxBuffer(t *testing.T) {
	file := rawBox("stbl",
		rawBox("stsz", []byte{1, 2, 3, 4}),
		rawBox("stco", []byte{5, 6}),
	)
	src := &countingSource{Reader: bytes.NewReader(file)}
	root := NewRoot(src)
	stbl := root.Child(0)

	buf, err := stbl.Buffer()
	require.NoError(t, err)
	require.Len(t, buf, len(file)-8)
	require.True(t, stbl.IsBuffered())

	reads := src.reads
	require.Equal(t, 2, stbl.ChildCount())
	payload, err := stbl.FindChild(TypeStco).Payload()
	require.NoError(t, err)
	require.Equal(t, []byte{5, 6}, payload)
	require.Equal(t, reads, src.reads, "buffered reads must not touch the source")

	_, err = stbl.Buffer()
	require.NoError(t, err)
	stbl.Release()
	require.True(t, stbl.IsBuffered())
	stbl.Release()
	require.False(t, stbl.IsBuffered())
	stbl.Release()

	_, err = stbl.FindChild(TypeStsz).Payload()
	require.NoError(t, err)
	require.Greater(t, src.reads, reads)
}

func TestBoxReadAt(t *testing.T) {
	file := rawBox("free", []byte{1, 2, 3, 4})
	box := NewRoot(bytes.NewReader(file)).Child(0)

	p := make([]byte, 3)
	n, err := box.ReadAt(p, 2)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 2, n)
	require.Equal(t, []byte{3, 4}, p[:n])

	_, err = box.ReadAt(p, 5)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestEntries(t *testing.T) {
	stsd := rawBox("stsd",
		[]byte{0, 0, 0, 0, 0, 0, 0, 1},
		rawBox("avc1", make([]byte, 4)),
	)
	box := NewRoot(bytes.NewReader(stsd)).Child(0)
	entries := box.Entries(8)
	require.Len(t, entries, 1)
	require.Equal(t, StrType("avc1"), entries[0].Type())
}
