package protocol

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
	"github.com/google/uuid"
)

// MessageType is the discriminant carried in the first header tag.
type MessageType string

const (
	TypeText     MessageType = "TXT"
	TypeImage    MessageType = "IMG"
	TypeVideo    MessageType = "VID"
	TypeDocument MessageType = "DOC"
	TypeControl  MessageType = "SRV"
	// TypeUnknown is never sent. It stands for any code this build does
	// not recognise.
	TypeUnknown MessageType = "UNKNOWN"
)

// IsFileLike reports whether messages of this type carry a basename and a
// download id.
func (t MessageType) IsFileLike() bool {
	return t == TypeImage || t == TypeVideo || t == TypeDocument
}

// IsMedia reports whether messages of this type carry a preview flag.
func (t MessageType) IsMedia() bool {
	return t == TypeImage || t == TypeVideo
}

func parseType(code []byte) MessageType {
	switch t := MessageType(code); t {
	case TypeText, TypeImage, TypeVideo, TypeDocument, TypeControl:
		return t
	}
	return TypeUnknown
}

// Header tag field ids. Every tag block starts with one of these bytes.
const (
	fieldType         byte = 1
	fieldLength       byte = 2
	fieldConversation byte = 3
	fieldBasename     byte = 4
	fieldDownloadID   byte = 5
	fieldPreview      byte = 6
	fieldTimestamp    byte = 7
)

// Body is the type-specific part of a header.
type Body interface {
	Type() MessageType
}

// TextMsg is a plain text message.
type TextMsg struct{}

// FileMsg is a document attachment.
type FileMsg struct {
	Basename   string
	DownloadID uuid.UUID
}

// MediaMsg is an image or video attachment.
type MediaMsg struct {
	Kind       MessageType
	Basename   string
	DownloadID uuid.UUID
	Preview    bool
}

// ControlMsg is a command addressed to the relay itself.
type ControlMsg struct{}

// UnknownMsg is a message whose type code this build does not know. The
// optional fields it carried are kept so the relay forwards them intact.
type UnknownMsg struct {
	Code string
	// File is nil when the message had no basename or download id tag.
	File *FileMsg
	// Preview is nil when the message had no preview tag.
	Preview *bool
}

func (TextMsg) Type() MessageType    { return TypeText }
func (FileMsg) Type() MessageType    { return TypeDocument }
func (m MediaMsg) Type() MessageType { return m.Kind }
func (ControlMsg) Type() MessageType { return TypeControl }
func (UnknownMsg) Type() MessageType { return TypeUnknown }

// Header is the decoded tag section of one message.
type Header struct {
	Length         uint32
	ConversationID uuid.UUID
	// Timestamp is stamped by the relay on receipt. Zero when absent.
	Timestamp time.Time
	Body      Body
}

// Type is a shortcut for h.Body.Type().
func (h *Header) Type() MessageType {
	if h.Body == nil {
		return TypeUnknown
	}
	return h.Body.Type()
}

func typeCode(b Body) (string, error) {
	switch m := b.(type) {
	case TextMsg, FileMsg, ControlMsg:
		return string(m.Type()), nil
	case MediaMsg:
		if !m.Kind.IsMedia() {
			return "", fmt.Errorf("%w: media message with kind %q", common.ErrorValidation, m.Kind)
		}
		return string(m.Kind), nil
	case UnknownMsg:
		if m.Code == "" {
			return "", fmt.Errorf("%w: unknown message without code", common.ErrorValidation)
		}
		return m.Code, nil
	}
	return "", fmt.Errorf("%w: header without body", common.ErrorValidation)
}

// GenerateHeader emits the tag blocks for h in their fixed order. Fields
// that must stay hidden from observers are sealed for key.
func GenerateHeader(h *Header, key *[32]byte) ([][]byte, error) {
	code, err := typeCode(h.Body)
	if err != nil {
		return nil, err
	}

	tags := make([][]byte, 0, 7)
	tags = append(tags, tag(fieldType, []byte(code)))
	tags = append(tags, tag(fieldLength, binary.BigEndian.AppendUint32(nil, h.Length)))

	sealed := func(id byte, v []byte) error {
		s, err := cryptox.Seal(v, key)
		if err != nil {
			return err
		}
		tags = append(tags, tag(id, s))
		return nil
	}

	if err := sealed(fieldConversation, h.ConversationID[:]); err != nil {
		return nil, err
	}

	var basename string
	var downloadID uuid.UUID
	switch m := h.Body.(type) {
	case FileMsg:
		basename, downloadID = m.Basename, m.DownloadID
	case MediaMsg:
		basename, downloadID = m.Basename, m.DownloadID
	case UnknownMsg:
		if m.File != nil {
			basename, downloadID = m.File.Basename, m.File.DownloadID
		}
	}
	if u, ok := h.Body.(UnknownMsg); h.Type().IsFileLike() || (ok && u.File != nil) {
		if err := sealed(fieldBasename, []byte(basename)); err != nil {
			return nil, err
		}
		if err := sealed(fieldDownloadID, downloadID[:]); err != nil {
			return nil, err
		}
	}
	if m, ok := h.Body.(MediaMsg); ok {
		flag := byte(0)
		if m.Preview {
			flag = 1
		}
		tags = append(tags, tag(fieldPreview, []byte{flag}))
	}
	if u, ok := h.Body.(UnknownMsg); ok && u.Preview != nil {
		flag := byte(0)
		if *u.Preview {
			flag = 1
		}
		tags = append(tags, tag(fieldPreview, []byte{flag}))
	}

	if !h.Timestamp.IsZero() {
		ts, err := TimestampTag(h.Timestamp, key)
		if err != nil {
			return nil, err
		}
		tags = append(tags, ts)
	}

	return tags, nil
}

// TimestampTag builds the relay-stamped timestamp tag.
func TimestampTag(ts time.Time, key *[32]byte) ([]byte, error) {
	v := binary.BigEndian.AppendUint64(nil, uint64(ts.UnixNano()))
	s, err := cryptox.Seal(v, key)
	if err != nil {
		return nil, err
	}
	return tag(fieldTimestamp, s), nil
}

func tag(id byte, v []byte) []byte {
	out := make([]byte, 0, 1+len(v))
	out = append(out, id)
	return append(out, v...)
}

// ParseHeader walks tags in order and rebuilds the header. The type tag
// must come first. Tags with unrecognised field ids are skipped; file-like
// fields on a known non-file-like type are a structural error.
func ParseHeader(tags [][]byte, kp *cryptox.KeyPair) (*Header, error) {
	if len(tags) == 0 || len(tags[0]) < 2 || tags[0][0] != fieldType {
		return nil, fmt.Errorf("%w: header must start with a type tag", common.ErrStructural)
	}

	code := tags[0][1:]
	typ := parseType(code)

	h := &Header{}
	var (
		basename   string
		downloadID uuid.UUID
		preview    bool
		seen       = map[byte]bool{fieldType: true}
	)

	for _, t := range tags[1:] {
		if len(t) == 0 {
			return nil, fmt.Errorf("%w: empty tag", common.ErrStructural)
		}
		id, v := t[0], t[1:]

		switch id {
		case fieldType:
			return nil, fmt.Errorf("%w: duplicate type tag", common.ErrStructural)
		case fieldLength, fieldConversation, fieldBasename, fieldDownloadID, fieldPreview, fieldTimestamp:
			if seen[id] {
				return nil, fmt.Errorf("%w: duplicate tag %d", common.ErrStructural, id)
			}
			seen[id] = true
		default:
			continue
		}

		if (id == fieldBasename || id == fieldDownloadID) && typ != TypeUnknown && !typ.IsFileLike() {
			return nil, fmt.Errorf("%w: file tag on %s message", common.ErrStructural, typ)
		}
		if id == fieldPreview && typ != TypeUnknown && !typ.IsMedia() {
			return nil, fmt.Errorf("%w: preview tag on %s message", common.ErrStructural, typ)
		}

		switch id {
		case fieldLength:
			if len(v) != 4 {
				return nil, fmt.Errorf("%w: length tag", common.ErrStructural)
			}
			h.Length = binary.BigEndian.Uint32(v)

		case fieldPreview:
			if len(v) != 1 {
				return nil, fmt.Errorf("%w: preview tag", common.ErrStructural)
			}
			preview = v[0] != 0

		case fieldConversation, fieldDownloadID:
			raw, err := kp.Open(v)
			if err != nil {
				return nil, err
			}
			u, err := uuid.FromBytes(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", common.ErrStructural, err)
			}
			if id == fieldConversation {
				h.ConversationID = u
			} else {
				downloadID = u
			}

		case fieldBasename:
			raw, err := kp.Open(v)
			if err != nil {
				return nil, err
			}
			basename = string(raw)

		case fieldTimestamp:
			raw, err := kp.Open(v)
			if err != nil {
				return nil, err
			}
			if len(raw) != 8 {
				return nil, fmt.Errorf("%w: timestamp tag", common.ErrStructural)
			}
			h.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(raw))).UTC()
		}
	}

	if !seen[fieldLength] || !seen[fieldConversation] {
		return nil, fmt.Errorf("%w: missing mandatory tag", common.ErrStructural)
	}

	switch {
	case typ == TypeText:
		h.Body = TextMsg{}
	case typ == TypeControl:
		h.Body = ControlMsg{}
	case typ == TypeDocument:
		h.Body = FileMsg{Basename: basename, DownloadID: downloadID}
	case typ.IsMedia():
		h.Body = MediaMsg{Kind: typ, Basename: basename, DownloadID: downloadID, Preview: preview}
	default:
		u := UnknownMsg{Code: string(code)}
		if seen[fieldBasename] || seen[fieldDownloadID] {
			u.File = &FileMsg{Basename: basename, DownloadID: downloadID}
		}
		if seen[fieldPreview] {
			u.Preview = &preview
		}
		h.Body = u
	}

	return h, nil
}
