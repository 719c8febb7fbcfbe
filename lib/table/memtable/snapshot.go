package memtable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ValentinKolb/dPersist/lib/table"
)

const (
	magicNum        = "DPMT"
	snapshotVersion = 1
)

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes all tables to the writer.
//
// Thread-safety: Each table is copied under its read lock, so writes to other
// tables can proceed while Save runs.
func (d *DB) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	d.mu.RLock()
	tables := make([]*memTable, 0, len(d.tables))
	for _, t := range d.tables {
		tables = append(tables, t)
	}
	d.mu.RUnlock()

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(tables))); err != nil {
		return err
	}

	for _, t := range tables {
		// deep copy, cells of a row are modified in place by puts
		t.mu.RLock()
		desc := t.desc
		rows := make([]*memRow, 0, t.rows.Len())
		t.rows.Ascend(func(r *memRow) bool {
			cells := make(map[table.Column][]byte, len(r.cells))
			for col, value := range r.cells {
				cells[col] = cloneBytes(value)
			}
			rows = append(rows, &memRow{key: cloneBytes(r.key), cells: cells})
			return true
		})
		t.mu.RUnlock()

		if err := writeDescriptor(bw, desc); err != nil {
			return err
		}
		if err := writeRows(bw, rows); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the content of the store with the tables read from r.
//
// Thread-safety: Load must not run concurrently with other operations.
func (d *DB) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != snapshotVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, snapshotVersion)
	}

	var tableCount uint32
	if err := binary.Read(br, binary.LittleEndian, &tableCount); err != nil {
		return err
	}

	tables := make(map[string]*memTable, tableCount)
	for i := uint32(0); i < tableCount; i++ {
		desc, err := readDescriptor(br)
		if err != nil {
			return err
		}
		t := newMemTable(desc)
		if err := readRows(br, t); err != nil {
			return err
		}
		tables[desc.Name] = t
	}

	d.mu.Lock()
	d.tables = tables
	d.mu.Unlock()
	return nil
}

// SaveFile writes a snapshot to path, replacing it atomically.
func (d *DB) SaveFile(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := d.Save(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFile restores a snapshot from path. A missing file leaves the store empty.
func (d *DB) LoadFile(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return d.Load(f)
}

// --------------------------------------------------------------------------
// Encoding Helpers
// --------------------------------------------------------------------------

func writeDescriptor(w io.Writer, desc table.TableDescriptor) error {
	if err := writeString(w, desc.Name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(desc.Families))); err != nil {
		return err
	}
	for _, f := range desc.Families {
		if err := writeString(w, f.Name); err != nil {
			return err
		}
		if err := writeString(w, string(f.Compression)); err != nil {
			return err
		}
		fields := []any{
			f.BlockCacheEnabled,
			uint32(f.BlockSize),
			f.InMemory,
			uint32(f.MaxVersions),
			int64(f.TTL),
		}
		for _, field := range fields {
			if err := binary.Write(w, binary.LittleEndian, field); err != nil {
				return err
			}
		}
	}
	return nil
}

func readDescriptor(r io.Reader) (table.TableDescriptor, error) {
	var desc table.TableDescriptor
	var err error
	if desc.Name, err = readString(r); err != nil {
		return desc, err
	}
	var familyCount uint16
	if err := binary.Read(r, binary.LittleEndian, &familyCount); err != nil {
		return desc, err
	}
	for i := uint16(0); i < familyCount; i++ {
		var f table.FamilyDescriptor
		if f.Name, err = readString(r); err != nil {
			return desc, err
		}
		compression, err := readString(r)
		if err != nil {
			return desc, err
		}
		f.Compression = table.Compression(compression)

		var blockSize, maxVersions uint32
		var ttl int64
		fields := []any{&f.BlockCacheEnabled, &blockSize, &f.InMemory, &maxVersions, &ttl}
		for _, field := range fields {
			if err := binary.Read(r, binary.LittleEndian, field); err != nil {
				return desc, err
			}
		}
		f.BlockSize = int(blockSize)
		f.MaxVersions = int(maxVersions)
		f.TTL = time.Duration(ttl)
		desc.Families = append(desc.Families, f)
	}
	return desc, nil
}

func writeRows(w io.Writer, rows []*memRow) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(rows))); err != nil {
		return err
	}
	for _, r := range rows {
		if err := writeBytes(w, r.key); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(r.cells))); err != nil {
			return err
		}
		for col, value := range r.cells {
			if err := writeString(w, col.Family); err != nil {
				return err
			}
			if err := writeString(w, col.Qualifier); err != nil {
				return err
			}
			if err := writeBytes(w, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func readRows(r io.Reader, t *memTable) error {
	var rowCount uint64
	if err := binary.Read(r, binary.LittleEndian, &rowCount); err != nil {
		return err
	}
	for i := uint64(0); i < rowCount; i++ {
		key, err := readBytes(r)
		if err != nil {
			return err
		}
		var cellCount uint32
		if err := binary.Read(r, binary.LittleEndian, &cellCount); err != nil {
			return err
		}
		row := &memRow{key: key, cells: make(map[table.Column][]byte, cellCount)}
		for j := uint32(0); j < cellCount; j++ {
			var col table.Column
			if col.Family, err = readString(r); err != nil {
				return err
			}
			if col.Qualifier, err = readString(r); err != nil {
				return err
			}
			if row.cells[col], err = readBytes(r); err != nil {
				return err
			}
		}
		t.rows.ReplaceOrInsert(row)
	}
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}
