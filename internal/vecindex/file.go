package vecindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// On-disk layout, all little-endian: magic, format version, dimension,
// entry count, then per entry an int64 slot followed by dim float32 values.
const (
	fileMagic   = uint32(0x434d5658) // "CMVX"
	fileVersion = uint32(1)
)

// Save writes a built index to path, replacing any previous file
// atomically via a rename.
func (ix *Index) Save(path string) error {
	if !ix.built {
		return fmt.Errorf("saving unbuilt index")
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}

	w := bufio.NewWriter(f)
	header := []uint32{fileMagic, fileVersion, uint32(ix.dim)}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			f.Close()
			return fmt.Errorf("writing index header: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(ix.slots))); err != nil {
		f.Close()
		return fmt.Errorf("writing entry count: %w", err)
	}

	buf := make([]byte, 8)
	for i, slot := range ix.slots {
		binary.LittleEndian.PutUint64(buf, uint64(slot))
		if _, err := w.Write(buf); err != nil {
			f.Close()
			return fmt.Errorf("writing slot %d: %w", slot, err)
		}
		for _, val := range ix.vecs[i] {
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(val))
			if _, err := w.Write(buf[:4]); err != nil {
				f.Close()
				return fmt.Errorf("writing vector for slot %d: %w", slot, err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing index file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing index file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads a previously saved index from path. The returned index is
// built and immediately queryable. A missing file is reported via the
// wrapped os error so callers can treat it as "no index yet".
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var magic, version, dim uint32
	for _, dst := range []*uint32{&magic, &version, &dim} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, fmt.Errorf("reading index header: %w", err)
		}
	}
	if magic != fileMagic {
		return nil, fmt.Errorf("not an index file (magic %#x)", magic)
	}
	if version != fileVersion {
		return nil, fmt.Errorf("unsupported index file version %d", version)
	}

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("reading entry count: %w", err)
	}

	ix := New(int(dim))
	buf := make([]byte, 8)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading slot %d: %w", i, err)
		}
		slot := int64(binary.LittleEndian.Uint64(buf))

		vec := make([]float32, dim)
		for j := range vec {
			if _, err := io.ReadFull(r, buf[:4]); err != nil {
				return nil, fmt.Errorf("reading vector for slot %d: %w", slot, err)
			}
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:4]))
		}
		if err := ix.Add(slot, vec); err != nil {
			return nil, err
		}
	}

	if err := ix.Build(); err != nil {
		return nil, err
	}
	return ix, nil
}
