package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

// ReadPublications decodes a JSON array or JSON lines of publications. Records without an
// id are rejected so they never reach a feed. A missing updated_at is set to now.
func ReadPublications(r io.Reader, now time.Time) ([]common.Publication, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var pubs []common.Publication
	if first == '[' {
		if err := json.NewDecoder(br).Decode(&pubs); err != nil {
			return nil, fmt.Errorf("decode publication array: %w", err)
		}
	} else {
		dec := json.NewDecoder(br)
		for line := 1; ; line++ {
			var p common.Publication
			if err := dec.Decode(&p); err == io.EOF {
				break
			} else if err != nil {
				return nil, fmt.Errorf("decode publication %d: %w", line, err)
			}
			pubs = append(pubs, p)
		}
	}

	for i := range pubs {
		if pubs[i].ID == "" {
			return nil, fmt.Errorf("record %d: %w", i+1, &common.MalformedRecordError{Field: "id"})
		}
		if pubs[i].UpdatedAt.IsZero() {
			pubs[i].UpdatedAt = now.UTC()
		}
	}
	return pubs, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
