package upwork

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   map[string]*feedResults `json:"data"`
	Errors []graphQLError          `json:"errors"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type feedResults struct {
	Results []rawJob `json:"results"`
}

type rawJob struct {
	ID             flexString    `json:"id"`
	Title          string        `json:"title"`
	Ciphertext     string        `json:"ciphertext"`
	Description    string        `json:"description"`
	Type           jobType       `json:"type"`
	Duration       string        `json:"duration"`
	Amount         flexNumber    `json:"amount"`
	PublishedOn    string        `json:"publishedOn"`
	ConnectPrice   flexNumber    `json:"connectPrice"`
	Client         *rawClient    `json:"client"`
	TierText       string        `json:"tierText"`
	ContractorTier string        `json:"contractorTier"`
	ProposalsTier  string        `json:"proposalsTier"`
	Attrs          []skillAttr   `json:"attrs"`
	Skills         []skillAttr   `json:"skills"`
	HourlyBudget   *hourlyBudget `json:"hourlyBudget"`
}

type rawClient struct {
	TotalHires                flexNumber   `json:"totalHires"`
	TotalSpent                flexNumber   `json:"totalSpent"`
	PaymentVerificationStatus verification `json:"paymentVerificationStatus"`
	Location                  *location    `json:"location"`
	TotalReviews              flexNumber   `json:"totalReviews"`
	TotalFeedback             flexNumber   `json:"totalFeedback"`
}

type location struct {
	Country string `json:"country"`
}

type skillAttr struct {
	PrettyName string `json:"prettyName"`
}

type hourlyBudget struct {
	Min flexNumber `json:"min"`
	Max flexNumber `json:"max"`
}

// flexNumber accepts a JSON number, a numeric string, or a money object
// ({"amount": ...} or {"displayValue": ...}). Valid is false when the field
// was absent or null.
type flexNumber struct {
	Value float64
	Valid bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = flexNumber{}
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = flexNumber{Value: parseLoose(s), Valid: true}
		return nil
	case '{':
		var obj struct {
			Amount       *flexNumber `json:"amount"`
			DisplayValue *flexNumber `json:"displayValue"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		switch {
		case obj.DisplayValue != nil && obj.DisplayValue.Valid:
			*n = *obj.DisplayValue
		case obj.Amount != nil && obj.Amount.Valid:
			*n = *obj.Amount
		default:
			*n = flexNumber{}
		}
		return nil
	default:
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
		*n = flexNumber{Value: f, Valid: true}
		return nil
	}
}

// parseLoose reads the leading number of s, so "1200.50" and "$1,200" both
// parse. Anything unreadable is zero.
func parseLoose(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")

	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return f
}

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}

const (
	jobTypeUnknown jobType = 0
	jobTypeFixed   jobType = 1
	jobTypeHourly  jobType = 2
)

// jobType is sent either as 1/2 or as "FIXED"/"HOURLY".
type jobType int

func (t *jobType) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*t = jobTypeUnknown
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch strings.ToUpper(s) {
		case "FIXED", "1":
			*t = jobTypeFixed
		case "HOURLY", "2":
			*t = jobTypeHourly
		default:
			*t = jobTypeUnknown
		}
		return nil
	}
	var i int
	if err := json.Unmarshal(b, &i); err != nil {
		return err
	}
	*t = jobType(i)
	return nil
}

// verification is sent either as 1 or as "VERIFIED". Set is false when the
// field was absent.
type verification struct {
	Verified bool
	Set      bool
}

func (v *verification) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*v = verification{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = verification{Verified: strings.EqualFold(s, "VERIFIED") || s == "1", Set: true}
		return nil
	}
	var i int
	if err := json.Unmarshal(b, &i); err != nil {
		return err
	}
	*v = verification{Verified: i == 1, Set: true}
	return nil
}
