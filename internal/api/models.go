package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Dictionary codes understood by DataItems.
const NewsTypeCode = "NewsType"

// FlexString decodes a JSON string or number into its string form. The
// backend is not consistent about ids.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("decoding id %s: %w", data, err)
	}
	*s = FlexString(num.String())
	return nil
}

// FlexInt decodes a JSON number or numeric string. Empty and null decode to 0.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw == "" {
			*n = 0
			return nil
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("decoding integer %s: %w", data, err)
	}
	*n = FlexInt(int(v))
	return nil
}

type envelope struct {
	Code FlexInt         `json:"code"`
	Info string          `json:"info"`
	Data json.RawMessage `json:"data"`
}

// DataItem is one entry of a backend data dictionary.
type DataItem struct {
	ID       FlexString `json:"id"`
	ItemName string     `json:"f_ItemName"`
	ItemCode string     `json:"f_ItemCode"`
}

// NewsRecord is one row of the news list. Type is the 1-based tab index.
type NewsRecord struct {
	ID            FlexString `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	PublishedDate string     `json:"published_date,omitempty"`
	Type          FlexInt    `json:"type"`
	Icon          string     `json:"icon,omitempty"`
}

// LoginRequest carries the account and both password encodings.
type LoginRequest struct {
	Account   string `json:"account"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

type LoginResult struct {
	Token string                 `json:"token"`
	User  map[string]interface{} `json:"user"`
}

// DefaultNewsListParams is the filter the news screen always sends.
func DefaultNewsListParams() map[string]interface{} {
	return map[string]interface{}{
		"paramsJson": "{}",
		"sidx":       "",
	}
}
