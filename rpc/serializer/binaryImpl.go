package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dPersist/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey    uint16 = 1 << 0
	hasValue  uint16 = 1 << 1
	hasKeys   uint16 = 1 << 2
	hasValues uint16 = 1 << 3
	hasOk     uint16 = 1 << 4
	hasCode   uint16 = 1 << 5
	hasCounts uint16 = 1 << 6
	hasErr    uint16 = 1 << 7
	hasMeta   uint16 = 1 << 8
)

// headerSize is 1 byte MsgType + 2 bytes flags
const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	totalSize := b.sizeBytes(msg)
	result := make([]byte, totalSize)

	// Write message type
	result[0] = byte(msg.MsgType)

	// Initialize flags
	var flags uint16 = 0

	// Set position for writing
	pos := headerSize

	// Handle Key
	if msg.Key != "" {
		flags |= hasKey
		pos = putString(result, pos, msg.Key)
	}

	// Handle Value
	if msg.Value != "" {
		flags |= hasValue
		pos = putString(result, pos, msg.Value)
	}

	// Handle Keys (an empty list is encoded with count 0)
	if msg.Keys != nil {
		flags |= hasKeys
		pos = putStrings(result, pos, msg.Keys)
	}

	// Handle Values
	if msg.Values != nil {
		flags |= hasValues
		pos = putStrings(result, pos, msg.Values)
	}

	// Handle Ok
	if msg.Ok {
		flags |= hasOk
		result[pos] = 1
		pos += 1
	}

	// Handle Code
	if msg.Code != 0 {
		flags |= hasCode
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Code)
		pos += 8
	}

	// Handle Attempted, Succeeded and BadKeys (always written together)
	if msg.Attempted != 0 || msg.Succeeded != 0 || msg.BadKeys != 0 {
		flags |= hasCounts
		binary.BigEndian.PutUint32(result[pos:pos+4], msg.Attempted)
		binary.BigEndian.PutUint32(result[pos+4:pos+8], msg.Succeeded)
		binary.BigEndian.PutUint32(result[pos+8:pos+12], msg.BadKeys)
		pos += 12
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		pos = putString(result, pos, msg.Err)
	}

	// Handle Meta
	if msg.Meta != nil {
		flags |= hasMeta
		metaLen := len(msg.Meta)

		// Write meta length
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(metaLen))
		pos += 4

		// Write meta data
		if metaLen > 0 {
			copy(result[pos:pos+metaLen], msg.Meta)
			pos += metaLen
		}
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	// Read message type
	msg.MsgType = common.MessageType(data[0])

	// Read flags
	flags := binary.BigEndian.Uint16(data[1:3])

	// Initialize read position
	pos := headerSize
	var err error

	// Read Key if present
	msg.Key = ""
	if flags&hasKey != 0 {
		if msg.Key, pos, err = readString(data, pos, "key"); err != nil {
			return err
		}
	}

	// Read Value if present
	msg.Value = ""
	if flags&hasValue != 0 {
		if msg.Value, pos, err = readString(data, pos, "value"); err != nil {
			return err
		}
	}

	// Read Keys if present
	msg.Keys = nil
	if flags&hasKeys != 0 {
		if msg.Keys, pos, err = readStrings(data, pos, "keys"); err != nil {
			return err
		}
	}

	// Read Values if present
	msg.Values = nil
	if flags&hasValues != 0 {
		if msg.Values, pos, err = readStrings(data, pos, "values"); err != nil {
			return err
		}
	}

	// Read Ok if present
	if flags&hasOk != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for Ok flag")
		}

		msg.Ok = data[pos] != 0
		pos += 1
	} else {
		msg.Ok = false
	}

	// Read Code if present
	if flags&hasCode != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for Code")
		}

		msg.Code = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	} else {
		msg.Code = 0
	}

	// Read counts if present
	if flags&hasCounts != 0 {
		if pos+12 > len(data) {
			return fmt.Errorf("data too short for counts")
		}

		msg.Attempted = binary.BigEndian.Uint32(data[pos : pos+4])
		msg.Succeeded = binary.BigEndian.Uint32(data[pos+4 : pos+8])
		msg.BadKeys = binary.BigEndian.Uint32(data[pos+8 : pos+12])
		pos += 12
	} else {
		msg.Attempted, msg.Succeeded, msg.BadKeys = 0, 0, 0
	}

	// Read Err if present
	msg.Err = ""
	if flags&hasErr != 0 {
		if msg.Err, pos, err = readString(data, pos, "error"); err != nil {
			return err
		}
	}

	// Read Meta if present
	if flags&hasMeta != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for meta length")
		}

		// Read meta length
		metaLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(metaLen) > len(data) {
			return fmt.Errorf("data too short for meta data")
		}

		// Read metadata - create an empty slice (not nil) if length is 0
		// Allocate only if needed
		if msg.Meta == nil || cap(msg.Meta) < int(metaLen) {
			msg.Meta = make([]byte, metaLen)
		} else {
			msg.Meta = msg.Meta[:metaLen]
		}

		if metaLen > 0 {
			copy(msg.Meta, data[pos:pos+int(metaLen)])
		}
	} else {
		msg.Meta = nil
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	// Add sizes for fields that require length encoding
	if msg.Key != "" {
		size += 4 + len(msg.Key) // 4 bytes for length + key string
	}
	if msg.Value != "" {
		size += 4 + len(msg.Value)
	}
	if msg.Keys != nil {
		size += stringsSize(msg.Keys)
	}
	if msg.Values != nil {
		size += stringsSize(msg.Values)
	}
	if msg.Ok {
		size += 1 // 1 byte for boolean
	}
	if msg.Code != 0 {
		size += 8 // uint64
	}
	if msg.Attempted != 0 || msg.Succeeded != 0 || msg.BadKeys != 0 {
		size += 12 // 3x uint32
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err) // 4 bytes for length + error string
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta) // 4 bytes for length + meta bytes
	}

	return size
}

// stringsSize is the encoded size of a string list (count + length prefixed strings)
func stringsSize(list []string) int {
	size := 4
	for _, s := range list {
		size += 4 + len(s)
	}
	return size
}

// putString writes a length prefixed string and returns the new position
func putString(buf []byte, pos int, s string) int {
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(s)))
	pos += 4
	copy(buf[pos:pos+len(s)], s)
	return pos + len(s)
}

// putStrings writes a string list and returns the new position
func putStrings(buf []byte, pos int, list []string) int {
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(list)))
	pos += 4
	for _, s := range list {
		pos = putString(buf, pos, s)
	}
	return pos
}

// readString reads a length prefixed string
func readString(data []byte, pos int, field string) (string, int, error) {
	if pos+4 > len(data) {
		return "", pos, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if n < 0 || pos+n > len(data) {
		return "", pos, fmt.Errorf("data too short for %s data", field)
	}
	return string(data[pos : pos+n]), pos + n, nil
}

// readStrings reads a string list, an encoded empty list yields a non-nil empty slice
func readStrings(data []byte, pos int, field string) ([]string, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s count", field)
	}
	count := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4

	// every entry needs at least its 4 byte length prefix
	if count < 0 || count > (len(data)-pos)/4 {
		return nil, pos, fmt.Errorf("invalid %s count %d", field, count)
	}

	list := make([]string, count)
	var err error
	for i := range list {
		if list[i], pos, err = readString(data, pos, field); err != nil {
			return nil, pos, err
		}
	}
	return list, pos, nil
}
