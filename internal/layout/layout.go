// Package layout implements the fixed-slot projector/materializer:
// each node kind advertises a packed byte layout of fixed-width
// structural fields plus zero or more payload refs (pointer, length,
// flags) pointing at inline bytes after the header.
//
// The 15+ node kinds are a closed tagged union: the layout table below
// is a plain array indexed by discriminant, not virtual dispatch, and
// NodeKindLayout.Fields/PayloadRefs enumerate exactly what a caller may
// read or write for that kind. Encoding follows the same
// encoding/binary.LittleEndian convention used by other mmap'd/slot-based
// stores.
//
// © 2025 bufmgr authors. MIT License.
package layout

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kvtree/bufmgr/internal/unsafehelpers"
)

// NodeKind discriminates the closed set of structural node kinds a
// fixed-slot frame may hold.
type NodeKind uint8

const (
	KindDocumentRoot NodeKind = iota
	KindElement
	KindText
	KindComment
	KindProcessingInstruction
	KindAttribute
	KindNamespace
	KindWhitespace
	KindObject
	KindObjectKey
	KindArray
	KindStringValue
	KindNumberValue
	KindBooleanValue
	KindNullValue

	numNodeKinds
)

// FieldID names one fixed-width structural field. Every field occupies
// one 8-byte slot regardless of its logical width, trading a little
// header space for offset arithmetic that needs no per-field size table.
type FieldID uint8

const (
	FieldParentKey FieldID = iota
	FieldLeftSiblingKey
	FieldRightSiblingKey
	FieldFirstChildKey
	FieldPathNodeKey
	FieldNameKey
	FieldURIKey
	FieldPrefixKey
	FieldRevisionAdded
	FieldRevisionRemoved
	FieldHash
	FieldDescendantCount
	FieldChildCount
	FieldBooleanValue

	numFieldIDs
)

const fieldWidth = 8 // bytes per structural field slot

// PayloadKind names one of the payload refs a node kind may carry.
type PayloadKind uint8

const (
	PayloadValueBlob PayloadKind = iota
	PayloadAttributeVector
	PayloadNamespaceVector
)

// payloadRefWidth is sizeof(pointer uint32, length uint32, flags uint16).
const payloadRefWidth = 4 + 4 + 2

// PayloadRef is a (pointer, length, flags) triple stored contiguously in
// the header; pointer is an offset inside the slot's payload area.
type PayloadRef struct {
	Pointer uint32
	Length  uint32
	Flags   uint16
}

// IsAbsent reports whether this ref was never written (zero length).
func (r PayloadRef) IsAbsent() bool { return r.Length == 0 }

// NodeKindLayout describes which structural fields and payload refs a
// node kind carries, in the exact order they are packed into the header.
type NodeKindLayout struct {
	Kind        NodeKind
	Fields      []FieldID
	PayloadRefs []PayloadKind
}

// HeaderSize returns the total header size in bytes for this layout:
// fixed fields followed by payload ref triples.
func (l NodeKindLayout) HeaderSize() int {
	return len(l.Fields)*fieldWidth + len(l.PayloadRefs)*payloadRefWidth
}

func (l NodeKindLayout) fieldOffset(field FieldID) (int, bool) {
	for i, f := range l.Fields {
		if f == field {
			return i * fieldWidth, true
		}
	}
	return 0, false
}

func (l NodeKindLayout) payloadRefOffset(idx int) int {
	return len(l.Fields)*fieldWidth + idx*payloadRefWidth
}

// Table is the closed array of layouts, indexed by NodeKind discriminant.
var Table = buildTable()

func buildTable() [numNodeKinds]NodeKindLayout {
	structural := []FieldID{
		FieldParentKey, FieldLeftSiblingKey, FieldRightSiblingKey, FieldFirstChildKey,
		FieldPathNodeKey, FieldRevisionAdded, FieldRevisionRemoved, FieldHash,
		FieldDescendantCount, FieldChildCount,
	}
	named := append(append([]FieldID{}, structural...), FieldNameKey, FieldURIKey, FieldPrefixKey)

	var t [numNodeKinds]NodeKindLayout
	t[KindDocumentRoot] = NodeKindLayout{Kind: KindDocumentRoot, Fields: structural}
	t[KindElement] = NodeKindLayout{Kind: KindElement, Fields: named, PayloadRefs: []PayloadKind{PayloadAttributeVector, PayloadNamespaceVector}}
	t[KindText] = NodeKindLayout{Kind: KindText, Fields: structural, PayloadRefs: []PayloadKind{PayloadValueBlob}}
	t[KindComment] = NodeKindLayout{Kind: KindComment, Fields: structural, PayloadRefs: []PayloadKind{PayloadValueBlob}}
	t[KindProcessingInstruction] = NodeKindLayout{Kind: KindProcessingInstruction, Fields: named, PayloadRefs: []PayloadKind{PayloadValueBlob}}
	t[KindAttribute] = NodeKindLayout{Kind: KindAttribute, Fields: named, PayloadRefs: []PayloadKind{PayloadValueBlob}}
	t[KindNamespace] = NodeKindLayout{Kind: KindNamespace, Fields: named}
	t[KindWhitespace] = NodeKindLayout{Kind: KindWhitespace, Fields: structural, PayloadRefs: []PayloadKind{PayloadValueBlob}}
	t[KindObject] = NodeKindLayout{Kind: KindObject, Fields: structural}
	t[KindObjectKey] = NodeKindLayout{Kind: KindObjectKey, Fields: append(append([]FieldID{}, structural...), FieldNameKey), PayloadRefs: []PayloadKind{PayloadValueBlob}}
	t[KindArray] = NodeKindLayout{Kind: KindArray, Fields: structural}
	t[KindStringValue] = NodeKindLayout{Kind: KindStringValue, Fields: structural, PayloadRefs: []PayloadKind{PayloadValueBlob}}
	t[KindNumberValue] = NodeKindLayout{Kind: KindNumberValue, Fields: structural, PayloadRefs: []PayloadKind{PayloadValueBlob}}
	t[KindBooleanValue] = NodeKindLayout{Kind: KindBooleanValue, Fields: append(append([]FieldID{}, structural...), FieldBooleanValue)}
	t[KindNullValue] = NodeKindLayout{Kind: KindNullValue, Fields: structural}
	return t
}

var (
	// ErrSlotTooSmall is returned when a slot buffer cannot hold a kind's
	// header plus requested payload bytes.
	ErrSlotTooSmall = errors.New("layout: slot too small")
	// ErrUnknownField is returned when a field is requested that this
	// node kind's layout does not carry.
	ErrUnknownField = errors.New("layout: field not present for this node kind")
)

// WriteRecord zeroes the header, writes fields in order, then writes
// payload bytes after the header, recording their offsets in the
// payload refs. fields must have exactly
// len(Table[kind].Fields) entries; payloads must have exactly
// len(Table[kind].PayloadRefs) entries (a nil slice means "absent").
func WriteRecord(slot []byte, kind NodeKind, fields []int64, payloads [][]byte) error {
	l := Table[kind]
	if len(fields) != len(l.Fields) {
		return fmt.Errorf("layout: got %d field values, want %d", len(fields), len(l.Fields))
	}
	if len(payloads) != len(l.PayloadRefs) {
		return fmt.Errorf("layout: got %d payloads, want %d", len(payloads), len(l.PayloadRefs))
	}

	header := l.HeaderSize()
	payloadStart := header
	var totalPayload int
	for _, p := range payloads {
		totalPayload += len(p)
	}
	if len(slot) < header+totalPayload {
		return ErrSlotTooSmall
	}

	for i := 0; i < header; i++ {
		slot[i] = 0
	}

	for i, v := range fields {
		binary.LittleEndian.PutUint64(slot[i*fieldWidth:], uint64(v))
	}

	cursor := payloadStart
	for i, p := range payloads {
		refOff := l.payloadRefOffset(i)
		if len(p) == 0 {
			binary.LittleEndian.PutUint32(slot[refOff:], 0)
			binary.LittleEndian.PutUint32(slot[refOff+4:], 0)
			binary.LittleEndian.PutUint16(slot[refOff+8:], 0)
			continue
		}
		n := copy(slot[cursor:], p)
		binary.LittleEndian.PutUint32(slot[refOff:], uint32(cursor))
		binary.LittleEndian.PutUint32(slot[refOff+4:], uint32(n))
		binary.LittleEndian.PutUint16(slot[refOff+8:], 0)
		cursor += n
	}
	return nil
}

// ReadField reads a single structural field, allocation-free. Returns
// ErrUnknownField if this node kind's layout does not carry the field.
func ReadField(slot []byte, kind NodeKind, field FieldID) (int64, error) {
	l := Table[kind]
	off, ok := l.fieldOffset(field)
	if !ok {
		return 0, ErrUnknownField
	}
	if len(slot) < off+fieldWidth {
		return 0, ErrSlotTooSmall
	}
	return int64(binary.LittleEndian.Uint64(slot[off:])), nil
}

// ReadPayloadRef reads the i-th payload ref declared for kind.
func ReadPayloadRef(slot []byte, kind NodeKind, i int) (PayloadRef, error) {
	l := Table[kind]
	if i < 0 || i >= len(l.PayloadRefs) {
		return PayloadRef{}, ErrUnknownField
	}
	off := l.payloadRefOffset(i)
	if len(slot) < off+payloadRefWidth {
		return PayloadRef{}, ErrSlotTooSmall
	}
	return PayloadRef{
		Pointer: binary.LittleEndian.Uint32(slot[off:]),
		Length:  binary.LittleEndian.Uint32(slot[off+4:]),
		Flags:   binary.LittleEndian.Uint16(slot[off+8:]),
	}, nil
}

// PayloadBytes returns a zero-copy view of the payload bytes a ref
// points at inside slot.
func PayloadBytes(slot []byte, ref PayloadRef) []byte {
	if ref.IsAbsent() {
		return nil
	}
	if int(ref.Pointer)+int(ref.Length) > len(slot) {
		return nil
	}
	return unsafehelpers.PtrSlice(&slot[ref.Pointer], int(ref.Length))
}
