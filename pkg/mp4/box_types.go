// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"github.com/icza/bitio"
)

/************************* FullBox **************************/

// FullBox is ISOBMFF FullBox.
type FullBox struct {
	Version uint8
	Flags   uint32 // 24 bits.
}

func (b *FullBox) marshalField(w *bitio.Writer) {
	w.TryWriteByte(b.Version)
	w.TryWriteBits(uint64(b.Flags), 24)
}

func (b *FullBox) unmarshalField(r reader) {
	b.Version = r.u8()
	b.Flags = uint32(r.TryReadBits(24))
}

// time field, 32 bits in version 0 and 64 bits in version 1.
func (b *FullBox) writeVar(w *bitio.Writer, v uint64) {
	if b.Version == 0 {
		writeUint32(w, uint32(v))
	} else {
		writeUint64(w, v)
	}
}

func (b *FullBox) readVar(r reader) uint64 {
	if b.Version == 0 {
		return uint64(r.u32())
	}
	return r.u64()
}

// VersionFor returns 1 if any of values needs 64 bits.
func VersionFor(values ...uint64) uint8 {
	for _, v := range values {
		if v > MaxBoxSize {
			return 1
		}
	}
	return 0
}

// UnityMatrix is the identity transformation matrix.
var UnityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

/*************************** ftyp ****************************/

// Ftyp is ISOBMFF ftyp box type.
type Ftyp struct {
	MajorBrand       BoxType
	MinorVersion     uint32
	CompatibleBrands []BoxType
}

// Type returns the BoxType.
func (*Ftyp) Type() BoxType { return TypeFtyp }

// Size returns the marshaled size in bytes.
func (b *Ftyp) Size() int {
	return 8 + len(b.CompatibleBrands)*4
}

// Marshal box to writer.
func (b *Ftyp) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.MajorBrand[:])
	writeUint32(w, b.MinorVersion)
	for _, brand := range b.CompatibleBrands {
		w.TryWrite(brand[:])
	}
	return w.TryError
}

/*************************** mvhd ****************************/

// Mvhd is ISOBMFF mvhd box type.
type Mvhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Rate             int32 // fixed-point 16.16
	Volume           int16 // fixed-point 8.8
	Matrix           [9]int32
	NextTrackID      uint32
}

// Type returns the BoxType.
func (*Mvhd) Type() BoxType { return TypeMvhd }

// Size returns the marshaled size in bytes.
func (b *Mvhd) Size() int {
	if b.Version == 0 {
		return 100
	}
	return 112
}

// Marshal box to writer.
func (b *Mvhd) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	b.writeVar(w, b.CreationTime)
	b.writeVar(w, b.ModificationTime)
	writeUint32(w, b.Timescale)
	b.writeVar(w, b.Duration)
	writeUint32(w, uint32(b.Rate))
	writeUint16(w, uint16(b.Volume))
	w.TryWrite(make([]byte, 10)) // Reserved.
	for _, m := range b.Matrix {
		writeUint32(w, uint32(m))
	}
	w.TryWrite(make([]byte, 24)) // Pre-defined.
	writeUint32(w, b.NextTrackID)
	return w.TryError
}

// Unmarshal payload.
func (b *Mvhd) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.unmarshalField(r)
	b.CreationTime = b.readVar(r)
	b.ModificationTime = b.readVar(r)
	b.Timescale = r.u32()
	b.Duration = b.readVar(r)
	b.Rate = int32(r.u32())
	b.Volume = int16(r.u16())
	r.skip(10)
	for i := range b.Matrix {
		b.Matrix[i] = int32(r.u32())
	}
	r.skip(24)
	b.NextTrackID = r.u32()
	return r.err(TypeMvhd)
}

/*************************** tkhd ****************************/

// Track header flags.
const (
	TrackEnabled   = 0x1
	TrackInMovie   = 0x2
	TrackInPreview = 0x4
)

// Tkhd is ISOBMFF tkhd box type.
type Tkhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	TrackID          uint32
	Duration         uint64
	Layer            int16
	AlternateGroup   int16
	Volume           int16 // fixed-point 8.8
	Matrix           [9]int32
	Width            uint32 // fixed-point 16.16
	Height           uint32 // fixed-point 16.16
}

// Type returns the BoxType.
func (*Tkhd) Type() BoxType { return TypeTkhd }

// Size returns the marshaled size in bytes.
func (b *Tkhd) Size() int {
	if b.Version == 0 {
		return 84
	}
	return 96
}

// Marshal box to writer.
func (b *Tkhd) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	b.writeVar(w, b.CreationTime)
	b.writeVar(w, b.ModificationTime)
	writeUint32(w, b.TrackID)
	writeUint32(w, 0) // Reserved.
	b.writeVar(w, b.Duration)
	writeUint64(w, 0) // Reserved.
	writeUint16(w, uint16(b.Layer))
	writeUint16(w, uint16(b.AlternateGroup))
	writeUint16(w, uint16(b.Volume))
	writeUint16(w, 0) // Reserved.
	for _, m := range b.Matrix {
		writeUint32(w, uint32(m))
	}
	writeUint32(w, b.Width)
	writeUint32(w, b.Height)
	return w.TryError
}

// Unmarshal payload.
func (b *Tkhd) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.unmarshalField(r)
	b.CreationTime = b.readVar(r)
	b.ModificationTime = b.readVar(r)
	b.TrackID = r.u32()
	r.skip(4)
	b.Duration = b.readVar(r)
	r.skip(8)
	b.Layer = int16(r.u16())
	b.AlternateGroup = int16(r.u16())
	b.Volume = int16(r.u16())
	r.skip(2)
	for i := range b.Matrix {
		b.Matrix[i] = int32(r.u32())
	}
	b.Width = r.u32()
	b.Height = r.u32()
	return r.err(TypeTkhd)
}

/*************************** elst ****************************/

// Elst is ISOBMFF elst box type.
type Elst struct {
	FullBox
	Entries []ElstEntry
}

// ElstEntry .
type ElstEntry struct {
	SegmentDuration   uint64 // Movie timescale.
	MediaTime         int64  // Media timescale, -1 is an empty edit.
	MediaRateInteger  int16
	MediaRateFraction int16
}

// Type returns the BoxType.
func (*Elst) Type() BoxType { return TypeElst }

// Size returns the marshaled size in bytes.
func (b *Elst) Size() int {
	if b.Version == 0 {
		return 8 + len(b.Entries)*12
	}
	return 8 + len(b.Entries)*20
}

// Marshal box to writer.
func (b *Elst) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint32(w, uint32(len(b.Entries)))
	for _, entry := range b.Entries {
		b.writeVar(w, entry.SegmentDuration)
		b.writeVar(w, uint64(entry.MediaTime))
		writeUint16(w, uint16(entry.MediaRateInteger))
		writeUint16(w, uint16(entry.MediaRateFraction))
	}
	return w.TryError
}

// Unmarshal payload.
func (b *Elst) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.unmarshalField(r)
	count := r.u32()
	entrySize := 12
	if b.Version != 0 {
		entrySize = 20
	}
	if err := checkCount(TypeElst, count, entrySize, payload, 8); err != nil {
		return err
	}
	b.Entries = make([]ElstEntry, count)
	for i := range b.Entries {
		e := &b.Entries[i]
		e.SegmentDuration = b.readVar(r)
		if b.Version == 0 {
			e.MediaTime = int64(int32(r.u32()))
		} else {
			e.MediaTime = int64(r.u64())
		}
		e.MediaRateInteger = int16(r.u16())
		e.MediaRateFraction = int16(r.u16())
	}
	return r.err(TypeElst)
}

/*************************** mdhd ****************************/

// Mdhd is ISOBMFF mdhd box type.
type Mdhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Language         [3]byte // ISO-639-2/T language code.
}

// Type returns the BoxType.
func (*Mdhd) Type() BoxType { return TypeMdhd }

// Size returns the marshaled size in bytes.
func (b *Mdhd) Size() int {
	if b.Version == 0 {
		return 24
	}
	return 36
}

// Marshal box to writer.
func (b *Mdhd) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	b.writeVar(w, b.CreationTime)
	b.writeVar(w, b.ModificationTime)
	writeUint32(w, b.Timescale)
	b.writeVar(w, b.Duration)
	w.TryWriteBits(0, 1) // Pad.
	for _, c := range b.Language {
		w.TryWriteBits(uint64(c-0x60), 5)
	}
	writeUint16(w, 0) // Pre-defined.
	return w.TryError
}

// Unmarshal payload.
func (b *Mdhd) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.unmarshalField(r)
	b.CreationTime = b.readVar(r)
	b.ModificationTime = b.readVar(r)
	b.Timescale = r.u32()
	b.Duration = b.readVar(r)
	r.TryReadBits(1)
	for i := range b.Language {
		b.Language[i] = byte(r.TryReadBits(5)) + 0x60
	}
	return r.err(TypeMdhd)
}

/*************************** hdlr ****************************/

// Hdlr is ISOBMFF hdlr box type.
type Hdlr struct {
	FullBox
	PreDefined  uint32 // 'mhlr' in QuickTime files.
	HandlerType BoxType
	Name        string
}

// Type returns the BoxType.
func (*Hdlr) Type() BoxType { return TypeHdlr }

// Size returns the marshaled size in bytes.
func (b *Hdlr) Size() int {
	return 25 + len(b.Name)
}

// Marshal box to writer.
func (b *Hdlr) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint32(w, b.PreDefined)
	w.TryWrite(b.HandlerType[:])
	w.TryWrite(make([]byte, 12)) // Reserved.
	w.TryWrite([]byte(b.Name))
	w.TryWriteByte(0)
	return w.TryError
}

// Unmarshal payload.
func (b *Hdlr) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.unmarshalField(r)
	b.PreDefined = r.u32()
	r.TryRead(b.HandlerType[:])
	if err := r.err(TypeHdlr); err != nil {
		return err
	}
	if len(payload) > 24 {
		name := payload[24:]
		for i, c := range name {
			if c == 0 {
				name = name[:i]
				break
			}
		}
		b.Name = string(name)
	}
	return nil
}

/*************************** vmhd ****************************/

// Vmhd is ISOBMFF vmhd box type.
type Vmhd struct {
	FullBox
	GraphicsMode uint16
	Opcolor      [3]uint16
}

// Type returns the BoxType.
func (*Vmhd) Type() BoxType { return TypeVmhd }

// Size returns the marshaled size in bytes.
func (*Vmhd) Size() int { return 12 }

// Marshal box to writer.
func (b *Vmhd) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint16(w, b.GraphicsMode)
	for _, c := range b.Opcolor {
		writeUint16(w, c)
	}
	return w.TryError
}

/*************************** smhd ****************************/

// Smhd is ISOBMFF smhd box type.
type Smhd struct {
	FullBox
	Balance int16 // fixed-point 8.8
}

// Type returns the BoxType.
func (*Smhd) Type() BoxType { return TypeSmhd }

// Size returns the marshaled size in bytes.
func (*Smhd) Size() int { return 8 }

// Marshal box to writer.
func (b *Smhd) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint16(w, uint16(b.Balance))
	writeUint16(w, 0) // Reserved.
	return w.TryError
}

/*************************** nmhd ****************************/

// Nmhd is ISOBMFF null media header box type.
type Nmhd struct {
	FullBox
}

// Type returns the BoxType.
func (*Nmhd) Type() BoxType { return TypeNmhd }

// Size returns the marshaled size in bytes.
func (*Nmhd) Size() int { return 4 }

// Marshal box to writer.
func (b *Nmhd) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	return w.TryError
}

/*************************** dref ****************************/

// Dref is ISOBMFF dref box type.
type Dref struct {
	FullBox
	EntryCount uint32
}

// Type returns the BoxType.
func (*Dref) Type() BoxType { return TypeDref }

// Size returns the marshaled size in bytes.
func (*Dref) Size() int { return 8 }

// Marshal box to writer.
func (b *Dref) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint32(w, b.EntryCount)
	return w.TryError
}

/*************************** url ****************************/

// URLSelfContained is set when the media data is in the same file.
const URLSelfContained = 0x1

// URL is ISOBMFF url box type.
type URL struct {
	FullBox
	Location string
}

// Type returns the BoxType.
func (*URL) Type() BoxType { return TypeURL }

// Size returns the marshaled size in bytes.
func (b *URL) Size() int {
	if b.Flags&URLSelfContained != 0 {
		return 4
	}
	return 5 + len(b.Location)
}

// Marshal box to writer.
func (b *URL) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	if b.Flags&URLSelfContained == 0 {
		w.TryWrite([]byte(b.Location))
		w.TryWriteByte(0)
	}
	return w.TryError
}

/*************************** stsd ****************************/

// Stsd is ISOBMFF stsd box type. Sample entries follow as children.
type Stsd struct {
	FullBox
	EntryCount uint32
}

// Type returns the BoxType.
func (*Stsd) Type() BoxType { return TypeStsd }

// Size returns the marshaled size in bytes.
func (*Stsd) Size() int { return 8 }

// Marshal box to writer.
func (b *Stsd) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint32(w, b.EntryCount)
	return w.TryError
}

/*************************** stts ****************************/

// Stts is ISOBMFF stts box type.
type Stts struct {
	FullBox
	Entries []SttsEntry
}

// SttsEntry .
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Type returns the BoxType.
func (*Stts) Type() BoxType { return TypeStts }

// Size returns the marshaled size in bytes.
func (b *Stts) Size() int {
	return 8 + len(b.Entries)*8
}

// Marshal box to writer.
func (b *Stts) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint32(w, uint32(len(b.Entries)))
	for _, entry := range b.Entries {
		writeUint32(w, entry.SampleCount)
		writeUint32(w, entry.SampleDelta)
	}
	return w.TryError
}

// Unmarshal payload.
func (b *Stts) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.unmarshalField(r)
	count := r.u32()
	if err := checkCount(TypeStts, count, 8, payload, 8); err != nil {
		return err
	}
	b.Entries = make([]SttsEntry, count)
	for i := range b.Entries {
		b.Entries[i].SampleCount = r.u32()
		b.Entries[i].SampleDelta = r.u32()
	}
	return r.err(TypeStts)
}

/*************************** ctts ****************************/

// Ctts is ISOBMFF ctts box type. Version 1 is required for negative offsets.
type Ctts struct {
	FullBox
	Entries []CttsEntry
}

// CttsEntry .
type CttsEntry struct {
	SampleCount  uint32
	SampleOffset int32
}

// Type returns the BoxType.
func (*Ctts) Type() BoxType { return TypeCtts }

// Size returns the marshaled size in bytes.
func (b *Ctts) Size() int {
	return 8 + len(b.Entries)*8
}

// Marshal box to writer.
func (b *Ctts) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint32(w, uint32(len(b.Entries)))
	for _, entry := range b.Entries {
		writeUint32(w, entry.SampleCount)
		writeUint32(w, uint32(entry.SampleOffset))
	}
	return w.TryError
}

// Unmarshal payload. Version 0 offsets are read as signed
// since writers commonly store negative values in them.
func (b *Ctts) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.unmarshalField(r)
	count := r.u32()
	if err := checkCount(TypeCtts, count, 8, payload, 8); err != nil {
		return err
	}
	b.Entries = make([]CttsEntry, count)
	for i := range b.Entries {
		b.Entries[i].SampleCount = r.u32()
		b.Entries[i].SampleOffset = int32(r.u32())
	}
	return r.err(TypeCtts)
}

/*************************** stss ****************************/

// Stss is ISOBMFF stss box type.
type Stss struct {
	FullBox
	SampleNumbers []uint32 // 1-based.
}

// Type returns the BoxType.
func (*Stss) Type() BoxType { return TypeStss }

// Size returns the marshaled size in bytes.
func (b *Stss) Size() int {
	return 8 + len(b.SampleNumbers)*4
}

// Marshal box to writer.
func (b *Stss) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint32(w, uint32(len(b.SampleNumbers)))
	for _, n := range b.SampleNumbers {
		writeUint32(w, n)
	}
	return w.TryError
}

// Unmarshal payload.
func (b *Stss) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.unmarshalField(r)
	count := r.u32()
	if err := checkCount(TypeStss, count, 4, payload, 8); err != nil {
		return err
	}
	b.SampleNumbers = make([]uint32, count)
	for i := range b.SampleNumbers {
		b.SampleNumbers[i] = r.u32()
	}
	return r.err(TypeStss)
}

/*************************** stsc ****************************/

// Stsc is ISOBMFF stsc box type.
type Stsc struct {
	FullBox
	Entries []StscEntry
}

// StscEntry .
type StscEntry struct {
	FirstChunk             uint32 // 1-based.
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// Type returns the BoxType.
func (*Stsc) Type() BoxType { return TypeStsc }

// Size returns the marshaled size in bytes.
func (b *Stsc) Size() int {
	return 8 + len(b.Entries)*12
}

// Marshal box to writer.
func (b *Stsc) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint32(w, uint32(len(b.Entries)))
	for _, entry := range b.Entries {
		writeUint32(w, entry.FirstChunk)
		writeUint32(w, entry.SamplesPerChunk)
		writeUint32(w, entry.SampleDescriptionIndex)
	}
	return w.TryError
}

// Unmarshal payload.
func (b *Stsc) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.unmarshalField(r)
	count := r.u32()
	if err := checkCount(TypeStsc, count, 12, payload, 8); err != nil {
		return err
	}
	b.Entries = make([]StscEntry, count)
	for i := range b.Entries {
		b.Entries[i].FirstChunk = r.u32()
		b.Entries[i].SamplesPerChunk = r.u32()
		b.Entries[i].SampleDescriptionIndex = r.u32()
	}
	return r.err(TypeStsc)
}

/*************************** stsz ****************************/

// Stsz is ISOBMFF stsz box type. EntrySizes is empty when SampleSize is set.
type Stsz struct {
	FullBox
	SampleSize  uint32
	SampleCount uint32
	EntrySizes  []uint32
}

// Type returns the BoxType.
func (*Stsz) Type() BoxType { return TypeStsz }

// Size returns the marshaled size in bytes.
func (b *Stsz) Size() int {
	return 12 + len(b.EntrySizes)*4
}

// Marshal box to writer.
func (b *Stsz) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint32(w, b.SampleSize)
	writeUint32(w, b.SampleCount)
	for _, size := range b.EntrySizes {
		writeUint32(w, size)
	}
	return w.TryError
}

// Unmarshal payload.
func (b *Stsz) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.unmarshalField(r)
	b.SampleSize = r.u32()
	b.SampleCount = r.u32()
	if b.SampleSize == 0 {
		if err := checkCount(TypeStsz, b.SampleCount, 4, payload, 12); err != nil {
			return err
		}
		b.EntrySizes = make([]uint32, b.SampleCount)
		for i := range b.EntrySizes {
			b.EntrySizes[i] = r.u32()
		}
	}
	return r.err(TypeStsz)
}

/*************************** stco ****************************/

// Stco is ISOBMFF stco box type.
type Stco struct {
	FullBox
	ChunkOffsets []uint32
}

// Type returns the BoxType.
func (*Stco) Type() BoxType { return TypeStco }

// Size returns the marshaled size in bytes.
func (b *Stco) Size() int {
	return 8 + len(b.ChunkOffsets)*4
}

// Marshal box to writer.
func (b *Stco) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint32(w, uint32(len(b.ChunkOffsets)))
	for _, offset := range b.ChunkOffsets {
		writeUint32(w, offset)
	}
	return w.TryError
}

// Unmarshal payload.
func (b *Stco) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.unmarshalField(r)
	count := r.u32()
	if err := checkCount(TypeStco, count, 4, payload, 8); err != nil {
		return err
	}
	b.ChunkOffsets = make([]uint32, count)
	for i := range b.ChunkOffsets {
		b.ChunkOffsets[i] = r.u32()
	}
	return r.err(TypeStco)
}

/*************************** co64 ****************************/

// Co64 is ISOBMFF co64 box type.
type Co64 struct {
	FullBox
	ChunkOffsets []uint64
}

// Type returns the BoxType.
func (*Co64) Type() BoxType { return TypeCo64 }

// Size returns the marshaled size in bytes.
func (b *Co64) Size() int {
	return 8 + len(b.ChunkOffsets)*8
}

// Marshal box to writer.
func (b *Co64) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	writeUint32(w, uint32(len(b.ChunkOffsets)))
	for _, offset := range b.ChunkOffsets {
		writeUint64(w, offset)
	}
	return w.TryError
}

// Unmarshal payload.
func (b *Co64) Unmarshal(payload []byte) error {
	r := newReader(payload)
	b.unmarshalField(r)
	count := r.u32()
	if err := checkCount(TypeCo64, count, 8, payload, 8); err != nil {
		return err
	}
	b.ChunkOffsets = make([]uint64, count)
	for i := range b.ChunkOffsets {
		b.ChunkOffsets[i] = r.u64()
	}
	return r.err(TypeCo64)
}

/*************************** meta ****************************/

// Meta is ISOBMFF meta box type.
type Meta struct {
	FullBox
}

// Type returns the BoxType.
func (*Meta) Type() BoxType { return TypeMeta }

// Size returns the marshaled size in bytes.
func (*Meta) Size() int { return 4 }

// Marshal box to writer.
func (b *Meta) Marshal(w *bitio.Writer) error {
	b.marshalField(w)
	return w.TryError
}

/*************************** data ****************************/

// DataTypeUTF8 is the well-known type of text metadata values.
const DataTypeUTF8 = 1

// Data is an iTunes metadata value.
type Data struct {
	DataType uint32
	Locale   uint32
	Value    []byte
}

// Type returns the BoxType.
func (*Data) Type() BoxType { return TypeData }

// Size returns the marshaled size in bytes.
func (b *Data) Size() int {
	return 8 + len(b.Value)
}

// Marshal box to writer.
func (b *Data) Marshal(w *bitio.Writer) error {
	writeUint32(w, b.DataType)
	writeUint32(w, b.Locale)
	w.TryWrite(b.Value)
	return w.TryError
}

// Unmarshal payload.
func (b *Data) Unmarshal(payload []byte) error {
	if len(payload) < 8 {
		return ErrShortPayload
	}
	r := newReader(payload)
	b.DataType = r.u32()
	b.Locale = r.u32()
	b.Value = append([]byte(nil), payload[8:]...)
	return r.err(TypeData)
}
