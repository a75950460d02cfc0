package booru

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// flexString accepts a JSON string or number. Booru APIs are inconsistent
// about ids and directory names.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
