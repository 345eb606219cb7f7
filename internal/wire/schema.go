package wire

type fieldRequirement struct {
	id  uint16
	typ uint8
}

// requirements lists each variant's fields in encode order. Every listed
// field is required.
var requirements = map[Tag][]fieldRequirement{
	TagNewOrder: {
		{FieldClient, TypeString},
		{FieldDevice, TypeString},
		{FieldDeadline, TypeU64},
		{FieldPayload, TypeBytes},
		{FieldFee, TypeU64},
	},
	TagOrderAccept: {
		{FieldClient, TypeString},
		{FieldDevice, TypeString},
	},
	TagOrderReject: {
		{FieldClient, TypeString},
		{FieldDevice, TypeString},
		{FieldResume, TypeBool},
	},
	TagOrderDone: {
		{FieldClient, TypeString},
		{FieldDevice, TypeString},
		{FieldResume, TypeBool},
	},
}

// index maps known field IDs of tag to their decoded field. Unknown IDs are
// skipped; a repeated known ID keeps the last occurrence. Type and presence
// are checked against the schema.
func index(tag Tag, fields []Field) (map[uint16]Field, error) {
	reqs := requirements[tag]
	known := make(map[uint16]uint8, len(reqs))
	for _, r := range reqs {
		known[r.id] = r.typ
	}
	out := make(map[uint16]Field, len(reqs))
	for _, f := range fields {
		typ, ok := known[f.ID]
		if !ok {
			continue
		}
		if f.Type != typ {
			return nil, ErrFieldTypeMismatch
		}
		out[f.ID] = f
	}
	for _, r := range reqs {
		if _, ok := out[r.id]; !ok {
			return nil, MissingFieldError{Tag: tag, FieldID: r.id}
		}
	}
	return out, nil
}
