package wire

import (
	"fmt"

	"github.com/roach88/xchange/internal/model"
)

// Encode serializes m into a complete frame.
func Encode(m Message) ([]byte, error) {
	var fields []Field
	switch v := m.(type) {
	case NewOrder:
		if err := checkIDs(v.Client, v.Order.Device); err != nil {
			return nil, err
		}
		fields = []Field{
			stringField(FieldClient, string(v.Client)),
			stringField(FieldDevice, string(v.Order.Device)),
			u64Field(FieldDeadline, v.Order.Deadline),
			bytesField(FieldPayload, v.Order.Payload),
			u64Field(FieldFee, v.Order.Fee),
		}
	case OrderAccept:
		if err := checkIDs(v.Client, v.Device); err != nil {
			return nil, err
		}
		fields = []Field{
			stringField(FieldClient, string(v.Client)),
			stringField(FieldDevice, string(v.Device)),
		}
	case OrderReject:
		if err := checkIDs(v.Client, v.Device); err != nil {
			return nil, err
		}
		fields = []Field{
			stringField(FieldClient, string(v.Client)),
			stringField(FieldDevice, string(v.Device)),
			boolField(FieldResume, v.Resume),
		}
	case OrderDone:
		if err := checkIDs(v.Client, v.Device); err != nil {
			return nil, err
		}
		fields = []Field{
			stringField(FieldClient, string(v.Client)),
			stringField(FieldDevice, string(v.Device)),
			boolField(FieldResume, v.Resume),
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownTag, m)
	}

	payload := encodeFields(fields)
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	head := encodeHeader(Header{
		Magic:      Magic,
		Version:    model.WireVersion,
		Tag:        m.Tag(),
		PayloadLen: uint32(len(payload)),
	})
	return append(head, payload...), nil
}

// Decode parses one complete frame. The buffer must hold exactly one frame.
func Decode(buf []byte) (Message, error) {
	h, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	if !h.Tag.Known() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uint16(h.Tag))
	}
	rest := buf[HeaderLen:]
	if uint64(len(rest)) < uint64(h.PayloadLen) {
		return nil, ErrTruncated
	}
	if uint64(len(rest)) > uint64(h.PayloadLen) {
		return nil, ErrTrailingBytes
	}
	fields, err := decodeFields(rest)
	if err != nil {
		return nil, err
	}
	byID, err := index(h.Tag, fields)
	if err != nil {
		return nil, err
	}

	client, err := accountField(byID[FieldClient])
	if err != nil {
		return nil, err
	}
	device, err := accountField(byID[FieldDevice])
	if err != nil {
		return nil, err
	}

	switch h.Tag {
	case TagNewOrder:
		deadline, err := byID[FieldDeadline].u64()
		if err != nil {
			return nil, err
		}
		payload, err := byID[FieldPayload].bytes()
		if err != nil {
			return nil, err
		}
		fee, err := byID[FieldFee].u64()
		if err != nil {
			return nil, err
		}
		return NewOrder{
			Client: client,
			Order: model.OrderDescriptor{
				Deadline: deadline,
				Payload:  payload,
				Fee:      fee,
				Device:   device,
			},
		}, nil
	case TagOrderAccept:
		return OrderAccept{Client: client, Device: device}, nil
	case TagOrderReject:
		resume, err := byID[FieldResume].bool()
		if err != nil {
			return nil, err
		}
		return OrderReject{Client: client, Device: device, Resume: resume}, nil
	case TagOrderDone:
		resume, err := byID[FieldResume].bool()
		if err != nil {
			return nil, err
		}
		return OrderDone{Client: client, Device: device, Resume: resume}, nil
	}
	// Known() already filtered tags; reaching here means requirements and
	// this switch disagree.
	return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uint16(h.Tag))
}

// PeekTag returns the frame's tag after validating only the header.
func PeekTag(buf []byte) (Tag, error) {
	h, err := parseHeader(buf)
	if err != nil {
		return 0, err
	}
	return h.Tag, nil
}

func accountField(f Field) (model.AccountID, error) {
	s, err := f.string()
	if err != nil {
		return "", err
	}
	id, err := model.ParseAccountID(s)
	if err != nil {
		return "", ErrEmptyIdentifier
	}
	return id, nil
}

// checkIDs rejects identifiers that Decode would not reproduce byte for byte.
func checkIDs(ids ...model.AccountID) error {
	for _, id := range ids {
		if id == "" {
			return ErrEmptyIdentifier
		}
		if !id.Canonical() {
			return fmt.Errorf("%w: %q", ErrNonCanonicalID, string(id))
		}
	}
	return nil
}
