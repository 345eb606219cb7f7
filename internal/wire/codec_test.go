package wire

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xchange/internal/model"
)

func sampleMessages() []Message {
	return []Message{
		NewOrder{
			Client: "alice",
			Order: model.OrderDescriptor{
				Deadline: 1_700_000,
				Payload:  []byte("render frame 7"),
				Fee:      50,
				Device:   "printer-1",
			},
		},
		OrderAccept{Client: "alice", Device: "printer-1"},
		OrderReject{Client: "alice", Device: "printer-1", Resume: true},
		OrderReject{Client: "alice", Device: "printer-1", Resume: false},
		OrderDone{Client: "alice", Device: "printer-1", Resume: true},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, msg := range sampleMessages() {
		t.Run(msg.Tag().String(), func(t *testing.T) {
			frame, err := Encode(msg)
			require.NoError(t, err)

			got, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, msg, got)
			assert.Equal(t, msg.Tag(), got.Tag())
		})
	}
}

func TestEncodeDeterministic(t *testing.T) {
	for _, msg := range sampleMessages() {
		a, err := Encode(msg)
		require.NoError(t, err)
		b, err := Encode(msg)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestEncodeOrderAcceptBytes(t *testing.T) {
	frame, err := Encode(OrderAccept{Client: "c", Device: "d"})
	require.NoError(t, err)

	want := "58434847" + // magic
		"0001" + // version
		"0002" + // tag
		"00000000" + // flags
		"00000010" + // payload length 16
		"0001" + "06" + "00000001" + "63" + // client "c"
		"0002" + "06" + "00000001" + "64" // device "d"
	assert.Equal(t, want, hex.EncodeToString(frame))
}

func TestDecodeEmptyPayloadBytes(t *testing.T) {
	frame, err := Encode(NewOrder{
		Client: "c",
		Order:  model.OrderDescriptor{Deadline: 5, Fee: 1, Device: "d"},
	})
	require.NoError(t, err)

	got, err := Decode(frame)
	require.NoError(t, err)
	no, ok := got.(NewOrder)
	require.True(t, ok)
	assert.Empty(t, no.Order.Payload)
	assert.Equal(t, model.Moment(5), no.Order.Deadline)
}

func TestEncodeRejectsEmptyIdentifiers(t *testing.T) {
	_, err := Encode(OrderAccept{Client: "", Device: "d"})
	assert.ErrorIs(t, err, ErrEmptyIdentifier)

	_, err = Encode(NewOrder{Client: "c"})
	assert.ErrorIs(t, err, ErrEmptyIdentifier)
}

func TestEncodeRejectsNonCanonicalIdentifiers(t *testing.T) {
	tests := map[string]Message{
		"decomposed client": OrderDone{Client: "cafe\u0301", Device: "d"},
		"padded device":     OrderAccept{Client: "c", Device: " d"},
		"padded order":      NewOrder{Client: "c", Order: model.OrderDescriptor{Device: "d\t", Deadline: 5}},
	}
	for name, m := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Encode(m)
			assert.ErrorIs(t, err, ErrNonCanonicalID)
		})
	}

	// The composed form round-trips unchanged.
	got, err := Decode(mustEncode(t, OrderDone{Client: "caf\u00e9", Device: "d", Resume: true}))
	require.NoError(t, err)
	assert.Equal(t, OrderDone{Client: "caf\u00e9", Device: "d", Resume: true}, got)
}

func mustEncode(t *testing.T, m Message) []byte {
	t.Helper()
	frame, err := Encode(m)
	require.NoError(t, err)
	return frame
}

func TestDecodeHeaderErrors(t *testing.T) {
	base := mustEncode(t, OrderAccept{Client: "c", Device: "d"})

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"short header", func(b []byte) []byte { return b[:HeaderLen-1] }, ErrTruncated},
		{"bad magic", func(b []byte) []byte { b[0] = 'Y'; return b }, ErrInvalidMagic},
		{"bad version", func(b []byte) []byte { binary.BigEndian.PutUint16(b[4:6], 9); return b }, ErrUnsupportedVersion},
		{"unknown tag", func(b []byte) []byte { binary.BigEndian.PutUint16(b[6:8], 99); return b }, ErrUnknownTag},
		{"zero tag", func(b []byte) []byte { binary.BigEndian.PutUint16(b[6:8], 0); return b }, ErrUnknownTag},
		{"reserved flags", func(b []byte) []byte { b[11] = 1; return b }, ErrReservedFlags},
		{"payload truncated", func(b []byte) []byte { return b[:len(b)-1] }, ErrTruncated},
		{"trailing bytes", func(b []byte) []byte { return append(b, 0) }, ErrTrailingBytes},
		{"payload too large", func(b []byte) []byte { binary.BigEndian.PutUint32(b[12:16], MaxPayload+1); return b }, ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.mutate(append([]byte(nil), base...))
			_, err := Decode(buf)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func frameWith(tag Tag, fields ...Field) []byte {
	payload := encodeFields(fields)
	return append(encodeHeader(Header{
		Magic:      Magic,
		Version:    model.WireVersion,
		Tag:        tag,
		PayloadLen: uint32(len(payload)),
	}), payload...)
}

func TestDecodeMissingField(t *testing.T) {
	buf := frameWith(TagOrderReject,
		stringField(FieldClient, "c"),
		stringField(FieldDevice, "d"),
	)
	_, err := Decode(buf)

	var missing MissingFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, TagOrderReject, missing.Tag)
	assert.Equal(t, FieldResume, missing.FieldID)
}

func TestDecodeFieldTypeMismatch(t *testing.T) {
	buf := frameWith(TagOrderAccept,
		stringField(FieldClient, "c"),
		u64Field(FieldDevice, 7),
	)
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrFieldTypeMismatch)
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	buf := frameWith(TagOrderDone,
		stringField(FieldClient, "c"),
		stringField(99, "future"),
		stringField(FieldDevice, "d"),
		boolField(FieldResume, false),
	)
	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, OrderDone{Client: "c", Device: "d", Resume: false}, got)
}

func TestDecodeRejectsInvalidBool(t *testing.T) {
	buf := frameWith(TagOrderDone,
		stringField(FieldClient, "c"),
		stringField(FieldDevice, "d"),
		Field{ID: FieldResume, Type: TypeBool, Value: []byte{2}},
	)
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrInvalidBool)
}

func TestDecodeRejectsBadFieldLength(t *testing.T) {
	buf := frameWith(TagNewOrder,
		stringField(FieldClient, "c"),
		stringField(FieldDevice, "d"),
		Field{ID: FieldDeadline, Type: TypeU64, Value: []byte{1, 2, 3}},
		bytesField(FieldPayload, nil),
		u64Field(FieldFee, 1),
	)
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestDecodeRejectsOverlongFieldLength(t *testing.T) {
	buf := frameWith(TagOrderAccept,
		stringField(FieldClient, "c"),
		stringField(FieldDevice, "d"),
	)
	// Inflate the first field's declared length past the payload end.
	binary.BigEndian.PutUint32(buf[HeaderLen+3:HeaderLen+7], 1000)
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestDecodeRejectsBlankIdentifier(t *testing.T) {
	buf := frameWith(TagOrderAccept,
		stringField(FieldClient, "   "),
		stringField(FieldDevice, "d"),
	)
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrEmptyIdentifier)
}

func TestPeekTag(t *testing.T) {
	tag, err := PeekTag(mustEncode(t, OrderDone{Client: "c", Device: "d"}))
	require.NoError(t, err)
	assert.Equal(t, TagOrderDone, tag)

	_, err = PeekTag([]byte{1, 2})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestTagString(t *testing.T) {
	assert.Equal(t, "NewOrder", TagNewOrder.String())
	assert.Equal(t, "Tag(42)", Tag(42).String())
	assert.False(t, Tag(42).Known())
}
