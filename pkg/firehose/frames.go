package firehose

import (
	"bytes"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
)

// ErrNotCommit is returned for well-formed frames that are not repo
// commits (#identity, #account, #info and friends). Callers skip these.
var ErrNotCommit = errors.New("frame is not a repo commit")

// ErrUntypedRecord is returned for record blocks with no $type field.
// These cannot be classified and are skipped.
var ErrUntypedRecord = errors.New("record has no $type")

// base32Lower is the RFC 4648 lowercase alphabet used by the CIDv1
// base32 multibase ("b" prefix).
var base32Lower = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// CID is a raw binary content identifier as carried in commit ops and
// CAR sections. Blocks are keyed by the raw bytes; String renders the
// canonical base32 multibase form for output.
type CID []byte

// UnmarshalCBOR decodes a DAG-CBOR CID (tag 42 wrapping a multibase
// identity-prefixed byte string). Null CIDs (delete ops) decode to nil.
func (c *CID) UnmarshalCBOR(data []byte) error {
	if len(data) == 1 && data[0] == 0xf6 {
		*c = nil
		return nil
	}
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Number != 42 {
		return fmt.Errorf("expected CID tag 42, got %d", tag.Number)
	}
	raw, ok := tag.Content.([]byte)
	if !ok || len(raw) == 0 {
		return errors.New("malformed CID content")
	}
	// DAG-CBOR prefixes the CID bytes with the multibase identity byte.
	if raw[0] == 0x00 {
		raw = raw[1:]
	}
	*c = CID(raw)
	return nil
}

func (c CID) String() string {
	if len(c) == 0 {
		return ""
	}
	return "b" + base32Lower.EncodeToString(c)
}

type frameHeader struct {
	Op   int64  `json:"op"`
	Type string `json:"t"`
}

type frameError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RepoOp is a single create/update/delete acting on one record.
type RepoOp struct {
	Action string `json:"action"`
	Path   string `json:"path"`
	CID    CID    `json:"cid"`
}

// RepoCommit is a decoded #commit frame: one unit of the event feed,
// carrying a batch of repository operations plus the record blocks they
// reference.
type RepoCommit struct {
	Repo   string   `json:"repo"`
	Rev    string   `json:"rev"`
	Seq    int64    `json:"seq"`
	Time   string   `json:"time"`
	TooBig bool     `json:"tooBig"`
	Blocks []byte   `json:"blocks"`
	Ops    []RepoOp `json:"ops"`

	blocks map[string][]byte
}

// Block returns the raw record bytes for a CID from the commit's CAR
// section.
func (c *RepoCommit) Block(cid CID) ([]byte, bool) {
	data, ok := c.blocks[string(cid)]
	return data, ok
}

// DecodeFrame decodes one binary event-stream message: a DAG-CBOR header
// followed by a DAG-CBOR body. Commit frames additionally get their CAR
// block section parsed so records can be looked up by content hash.
func DecodeFrame(data []byte) (*RepoCommit, error) {
	dec := cbor.NewDecoder(bytes.NewReader(data))

	var header frameHeader
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}

	if header.Op == -1 {
		var body frameError
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}
		return nil, fmt.Errorf("subscription error %s: %s", body.Error, body.Message)
	}
	if header.Type != "#commit" {
		return nil, ErrNotCommit
	}

	var commit RepoCommit
	if err := dec.Decode(&commit); err != nil {
		return nil, fmt.Errorf("decode commit body: %w", err)
	}

	blocks, err := parseCAR(commit.Blocks)
	if err != nil {
		return nil, fmt.Errorf("parse block section: %w", err)
	}
	commit.blocks = blocks

	return &commit, nil
}

// DecodeRecord decodes a DAG-CBOR record block into the shared record
// shape. Records without a recognizable $type are rejected.
func DecodeRecord(block []byte) (*atproto.Record, error) {
	var record atproto.Record
	if err := cbor.Unmarshal(block, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if record.Type == "" {
		return nil, ErrUntypedRecord
	}
	return &record, nil
}

// parseCAR reads a CARv1 archive into a map of raw-CID-keyed blocks.
// Layout: uvarint-length-prefixed header, then sections of
// uvarint(len(cid)+len(data)) || cid || data.
func parseCAR(data []byte) (map[string][]byte, error) {
	blocks := make(map[string][]byte)
	if len(data) == 0 {
		return blocks, nil
	}

	headerLen, n := binary.Uvarint(data)
	if n <= 0 || uint64(len(data)-n) < headerLen {
		return nil, errors.New("truncated archive header")
	}
	off := n + int(headerLen)

	for off < len(data) {
		sectionLen, n := binary.Uvarint(data[off:])
		if n <= 0 {
			return nil, errors.New("malformed section length")
		}
		off += n
		if uint64(len(data)-off) < sectionLen {
			return nil, errors.New("truncated section")
		}
		section := data[off : off+int(sectionLen)]
		off += int(sectionLen)

		cidLen, err := cidLength(section)
		if err != nil {
			return nil, err
		}
		blocks[string(section[:cidLen])] = section[cidLen:]
	}

	return blocks, nil
}

// cidLength determines how many leading bytes of buf form the CID.
// CIDv0 is a bare sha2-256 multihash (34 bytes); CIDv1 is
// version || codec || multihash(code, size, digest).
func cidLength(buf []byte) (int, error) {
	if len(buf) >= 2 && buf[0] == 0x12 && buf[1] == 0x20 {
		if len(buf) < 34 {
			return 0, errors.New("truncated CIDv0")
		}
		return 34, nil
	}

	off := 0
	for _, part := range []string{"version", "codec", "hash code"} {
		_, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return 0, fmt.Errorf("malformed CID %s", part)
		}
		off += n
	}
	digestLen, n := binary.Uvarint(buf[off:])
	if n <= 0 {
		return 0, errors.New("malformed CID digest length")
	}
	off += n + int(digestLen)
	if off > len(buf) {
		return 0, errors.New("truncated CID digest")
	}
	return off, nil
}
