package physmem

import "encoding/binary"

// widthOf maps a byte count to its AccessWidth flag bit.
func widthOf(size uint) AccessWidth {
	switch size {
	case 1:
		return Width8
	case 2:
		return Width16
	case 4:
		return Width32
	case 8:
		return Width64
	default:
		return 0
	}
}

// ReadWord reads size bytes (1, 2, 4 or 8) at offset within the range and
// returns them as a little-endian word. RAM reads are always satisfied.
// Device reads of an unsupported width return 0, per §4.1 of the design
// (the MMU, not this layer, turns a missing range into a fault).
func (r *Range) ReadWord(offset uint64, size uint) (uint64, error) {
	if r.Kind == KindRAM {
		return readRAM(r.Data, offset, size)
	}

	if size == 8 && r.Flags&Width64 == 0 && r.Flags&Size32Emulate64 != 0 {
		lo, err := r.Device.Read(offset, 2)
		if err != nil {
			return 0, err
		}
		hi, err := r.Device.Read(offset+4, 2)
		if err != nil {
			return 0, err
		}
		return (hi << 32) | (lo & 0xffffffff), nil
	}

	if r.Flags&widthOf(size) == 0 {
		return 0, nil
	}
	return r.Device.Read(offset, log2(size))
}

// WriteWord writes size bytes (1, 2, 4 or 8) at offset within the range.
// A device write of an unsupported width is silently discarded, matching
// the reference implementation (see Open Question in spec.md §9).
func (r *Range) WriteWord(offset uint64, size uint, value uint64) error {
	if r.Kind == KindRAM {
		if err := writeRAM(r.Data, offset, size, value); err != nil {
			return err
		}
		r.SetDirty(offset)
		return nil
	}

	if size == 8 && r.Flags&Width64 == 0 && r.Flags&Size32Emulate64 != 0 {
		if err := r.Device.Write(offset, 2, value&0xffffffff); err != nil {
			return err
		}
		return r.Device.Write(offset+4, 2, value>>32)
	}

	if r.Flags&widthOf(size) == 0 {
		return nil
	}
	return r.Device.Write(offset, log2(size), value)
}

func log2(size uint) uint {
	switch size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		return 0
	}
}

func readRAM(data []byte, offset uint64, size uint) (uint64, error) {
	switch size {
	case 1:
		return uint64(data[offset]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(data[offset:])), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(data[offset:])), nil
	case 8:
		return binary.LittleEndian.Uint64(data[offset:]), nil
	}
	return 0, errInvalidSize(size)
}

func writeRAM(data []byte, offset uint64, size uint, value uint64) error {
	switch size {
	case 1:
		data[offset] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(data[offset:], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(data[offset:], uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(data[offset:], value)
	default:
		return errInvalidSize(size)
	}
	return nil
}

type errInvalidSize uint

func (e errInvalidSize) Error() string {
	return "physmem: invalid access size"
}
