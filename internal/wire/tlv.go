package wire

import (
	"encoding/binary"
)

const fieldHeaderLen = 2 + 1 + 4

// FieldType IDs.
const (
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
)

// Field is one TLV field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func u64Field(id uint16, v uint64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return Field{ID: id, Type: TypeU64, Value: buf}
}

func boolField(id uint16, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

func stringField(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func bytesField(id uint16, v []byte) Field {
	return Field{ID: id, Type: TypeBytes, Value: append([]byte(nil), v...)}
}

func encodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += fieldHeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		var head [fieldHeaderLen]byte
		binary.BigEndian.PutUint16(head[0:2], f.ID)
		head[2] = f.Type
		binary.BigEndian.PutUint32(head[3:7], uint32(len(f.Value)))
		out = append(out, head[:]...)
		out = append(out, f.Value...)
	}
	return out
}

func decodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0, 6)
	for i := 0; i < len(payload); {
		if len(payload)-i < fieldHeaderLen {
			return nil, ErrTruncated
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typ := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += fieldHeaderLen
		if uint64(l) > uint64(len(payload)-i) {
			return nil, ErrInvalidLength
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typ, Value: val})
	}
	return fields, nil
}

func (f Field) u64() (uint64, error) {
	if f.Type != TypeU64 {
		return 0, ErrFieldTypeMismatch
	}
	if len(f.Value) != 8 {
		return 0, ErrInvalidLength
	}
	return binary.BigEndian.Uint64(f.Value), nil
}

func (f Field) bool() (bool, error) {
	if f.Type != TypeBool {
		return false, ErrFieldTypeMismatch
	}
	if len(f.Value) != 1 {
		return false, ErrInvalidLength
	}
	switch f.Value[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidBool
	}
}

func (f Field) string() (string, error) {
	if f.Type != TypeString {
		return "", ErrFieldTypeMismatch
	}
	return string(f.Value), nil
}

func (f Field) bytes() ([]byte, error) {
	if f.Type != TypeBytes {
		return nil, ErrFieldTypeMismatch
	}
	return append([]byte(nil), f.Value...), nil
}
