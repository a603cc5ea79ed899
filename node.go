package blocksync

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Kind discriminates the two object types in the DAG.
type Kind int

const (
	KindBlob Kind = iota
	KindTree
)

// TreeEntry is one named child reference. The same child may appear
// more than once under different names; each occurrence is a distinct
// reference with its own refcount contribution.
type TreeEntry struct {
	Name string
	ID   BlockID
}

// Tree is an ordered list of named child references. Encoding sorts
// entries, so two trees with identical (name, id) sequences always
// produce identical BlockIDs.
type Tree []TreeEntry

// EncodeBlob encodes opaque content as a blob object and returns its id.
// Format: "blob {size}\x00{content}", id = sha256 over the whole.
func EncodeBlob(content []byte) (BlockID, []byte) {
	header := fmt.Sprintf("blob %d\x00", len(content))
	buf := make([]byte, len(header)+len(content))
	copy(buf, header)
	copy(buf[len(header):], content)
	return BlockID(sha256.Sum256(buf)), buf
}

// EncodeTree encodes a tree object and returns its id.
// Format: "tree {size}\x00{entries}", each entry being
// {nameLen:2 bytes big-endian}{name}{id:32 bytes}. Entries are sorted
// by (name, id) before encoding so the digest is canonical.
func EncodeTree(t Tree) (BlockID, []byte) {
	entries := make(Tree, len(t))
	copy(entries, t)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].ID.Less(entries[j].ID)
	})

	var body bytes.Buffer
	for _, e := range entries {
		binary.Write(&body, binary.BigEndian, uint16(len(e.Name)))
		body.WriteString(e.Name)
		body.Write(e.ID[:])
	}

	data := body.Bytes()
	header := fmt.Sprintf("tree %d\x00", len(data))
	buf := make([]byte, len(header)+len(data))
	copy(buf, header)
	copy(buf[len(header):], data)
	return BlockID(sha256.Sum256(buf)), buf
}

// Decode parses an encoded object. For blobs the returned content
// aliases data; for trees the entry list preserves encoded order.
func Decode(data []byte) (Kind, Tree, []byte, error) {
	idx := bytes.IndexByte(data, 0)
	if idx == -1 {
		return 0, nil, nil, fmt.Errorf("invalid object: missing header terminator")
	}

	header := string(data[:idx])
	body := data[idx+1:]

	switch {
	case strings.HasPrefix(header, "blob "):
		return KindBlob, nil, body, nil
	case strings.HasPrefix(header, "tree "):
		tree, err := decodeTreeEntries(body)
		if err != nil {
			return 0, nil, nil, err
		}
		return KindTree, tree, nil, nil
	}
	return 0, nil, nil, fmt.Errorf("unknown object type: %q", header)
}

func decodeTreeEntries(data []byte) (Tree, error) {
	var tree Tree
	reader := bytes.NewReader(data)

	for reader.Len() > 0 {
		var nameLen uint16
		if err := binary.Read(reader, binary.BigEndian, &nameLen); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(reader, nameBuf); err != nil {
			return nil, err
		}

		var id BlockID
		if _, err := io.ReadFull(reader, id[:]); err != nil {
			return nil, err
		}

		tree = append(tree, TreeEntry{Name: string(nameBuf), ID: id})
	}

	return tree, nil
}
